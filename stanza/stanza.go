// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"sync"

	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"
	"mellium.im/xclient/internal/attr"
	"mellium.im/xclient/internal/ns"
)

// Type is the value of a stanza's type attribute.
// It is an open set, the constants below are the ones defined by RFC 6120 and
// RFC 6121.
type Type string

// Stanza types.
const (
	GetIQ    Type = "get"
	SetIQ    Type = "set"
	ResultIQ Type = "result"

	// The error type is shared by all three stanza kinds, ErrorIQ,
	// ErrorMessage, and ErrorPresence are equal.
	ErrorIQ       Type = "error"
	ErrorMessage  Type = "error"
	ErrorPresence Type = "error"

	ChatMessage      Type = "chat"
	NormalMessage    Type = "normal"
	GroupChatMessage Type = "groupchat"
	HeadlineMessage  Type = "headline"

	UnavailablePresence  Type = "unavailable"
	SubscribePresence    Type = "subscribe"
	SubscribedPresence   Type = "subscribed"
	UnsubscribePresence  Type = "unsubscribe"
	UnsubscribedPresence Type = "unsubscribed"
	ProbePresence        Type = "probe"
)

// IsQuery reports whether t is a get or set type, ie. a request that expects
// exactly one correlated response.
func (t Type) IsQuery() bool {
	return t == GetIQ || t == SetIQ
}

// IsResponse reports whether t is a result or error type.
func (t Type) IsResponse() bool {
	return t == ResultIQ || t == ErrorIQ
}

// Stanza is a read-only view of a top level stream element.
//
// Once a stanza has been handed to the session it must not be modified, with
// the exception of stream filters which may add attributes to outgoing
// stanzas before they are transmitted.
type Stanza struct {
	el *Element

	errOnce sync.Once
	err     Error
	hasErr  bool
}

// New wraps el in a Stanza.
// The stanza takes ownership of el.
func New(el *Element) *Stanza {
	if el == nil {
		el = &Element{}
	}
	return &Stanza{el: el}
}

// Parse decodes the first element in s as a stanza.
func Parse(s string) (*Stanza, error) {
	el, err := DecodeString(s)
	if err != nil {
		return nil, err
	}
	return New(el), nil
}

// MustParse is like Parse but panics on error.
// It is meant for tests and package level variables.
func MustParse(s string) *Stanza {
	st, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return st
}

func newStanza(local string, typ Type, to jid.JID, payload []*Element) *Stanza {
	el := NewElement(ns.Client, local)
	if typ != "" {
		el.SetAttribute("type", string(typ))
	}
	if s := to.String(); s != "" {
		el.SetAttribute("to", s)
	}
	el.Append(payload...)
	return New(el)
}

// NewIQ returns an IQ stanza of the given type addressed to "to" (which may be
// the zero JID to address the entity's own server).
func NewIQ(typ Type, to jid.JID, payload ...*Element) *Stanza {
	return newStanza("iq", typ, to, payload)
}

// NewMessage returns a message stanza.
func NewMessage(typ Type, to jid.JID, payload ...*Element) *Stanza {
	return newStanza("message", typ, to, payload)
}

// NewPresence returns a presence stanza.
func NewPresence(typ Type, to jid.JID, payload ...*Element) *Stanza {
	return newStanza("presence", typ, to, payload)
}

// Element returns the underlying element tree.
// It must not be modified.
func (s *Stanza) Element() *Element {
	return s.el
}

// Name returns the local name of the top level element.
func (s *Stanza) Name() string {
	return s.el.Name.Local
}

// Namespace returns the namespace of the top level element.
func (s *Stanza) Namespace() string {
	return s.el.Name.Space
}

// XMLName returns the full name of the top level element.
func (s *Stanza) XMLName() xml.Name {
	return s.el.Name
}

// Type returns the value of the type attribute.
func (s *Stanza) Type() Type {
	return Type(s.el.Attribute("type"))
}

// ID returns the value of the id attribute.
func (s *Stanza) ID() string {
	return s.el.Attribute("id")
}

// Attr returns the value of a non-namespaced attribute.
func (s *Stanza) Attr(local string) string {
	return s.el.Attribute(local)
}

// HasAttr reports whether a non-namespaced attribute is present.
func (s *Stanza) HasAttr(local string) bool {
	return s.el.HasAttribute(local)
}

// SetAttr sets an attribute on the stanza.
// It is meant to be used while building a stanza and by stream filters on
// outgoing stanzas, other code must treat the stanza as immutable.
func (s *Stanza) SetAttr(local, value string) {
	s.el.Attr = attr.Set(s.el.Attr, local, value)
}

// From returns the parsed from address.
// If the attribute is absent or malformed the zero JID is returned.
func (s *Stanza) From() jid.JID {
	return parseAddr(s.el.Attribute("from"))
}

// To returns the parsed to address.
// If the attribute is absent or malformed the zero JID is returned.
func (s *Stanza) To() jid.JID {
	return parseAddr(s.el.Attribute("to"))
}

func parseAddr(v string) jid.JID {
	if v == "" {
		return jid.JID{}
	}
	j, err := jid.Parse(v)
	if err != nil {
		return jid.JID{}
	}
	return j
}

// Payload returns the child elements of the stanza in document order.
func (s *Stanza) Payload() []*Element {
	return s.el.Children
}

// Child returns the first payload element matching the name.
// An empty space or local name matches any value.
func (s *Stanza) Child(space, local string) *Element {
	return s.el.Child(space, local)
}

// Error returns the stanza error carried by the stanza, if any.
// The <error/> child is parsed the first time Error is called.
// An error element in a namespace other than the stanza's own is ignored.
func (s *Stanza) Error() (Error, bool) {
	s.errOnce.Do(func() {
		for _, c := range s.el.Children {
			if c.Name.Local != "error" || (c.Name.Space != "" && c.Name.Space != s.el.Name.Space) {
				continue
			}
			s.err, s.hasErr = ErrorFromElement(c)
			return
		}
	})
	return s.err, s.hasErr
}

// Result returns a response of type result addressed back to the sender of s
// with the same id.
func (s *Stanza) Result(payload ...*Element) *Stanza {
	return s.response(ResultIQ, payload)
}

// ErrorResponse returns an error type response addressed back to the sender of
// s with the same id that carries se.
func (s *Stanza) ErrorResponse(se Error) *Stanza {
	return s.response(ErrorIQ, []*Element{se.Element()})
}

func (s *Stanza) response(typ Type, payload []*Element) *Stanza {
	el := NewElement(s.el.Name.Space, s.el.Name.Local)
	el.SetAttribute("type", string(typ))
	if id := s.ID(); id != "" {
		el.SetAttribute("id", id)
	}
	if from := s.el.Attribute("from"); from != "" {
		el.SetAttribute("to", from)
	}
	if to := s.el.Attribute("to"); to != "" {
		el.SetAttribute("from", to)
	}
	el.Append(payload...)
	return New(el)
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (s *Stanza) TokenReader() xml.TokenReader {
	return s.el.TokenReader()
}

// WriteXML satisfies the xmlstream.WriterTo interface.
func (s *Stanza) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return s.el.WriteXML(w)
}

// String returns the XML encoding of the stanza.
func (s *Stanza) String() string {
	return s.el.String()
}
