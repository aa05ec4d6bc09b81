// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"
	"mellium.im/xclient/internal/ns"
)

// ErrorType is the type of a stanza error payload.
// It should normally be one of the constants defined in this package.
type ErrorType string

const (
	// Cancel indicates that the error cannot be remedied and the operation should
	// not be retried.
	Cancel ErrorType = "cancel"

	// Auth indicates that an operation should be retried after providing
	// credentials.
	Auth ErrorType = "auth"

	// Continue indicates that the operation can proceed (the condition was only a
	// warning).
	Continue ErrorType = "continue"

	// Modify indicates that the operation can be retried after changing the data
	// sent.
	Modify ErrorType = "modify"

	// Wait indicates that an error is temporary and may be retried.
	Wait ErrorType = "wait"
)

// Condition represents a more specific stanza error condition that can be
// encapsulated by an <error/> element.
type Condition string

// A list of stanza error conditions defined in RFC 6120 §8.3.3
const (
	BadRequest            Condition = "bad-request"
	Conflict              Condition = "conflict"
	FeatureNotImplemented Condition = "feature-not-implemented"
	Forbidden             Condition = "forbidden"
	Gone                  Condition = "gone"
	InternalServerError   Condition = "internal-server-error"
	ItemNotFound          Condition = "item-not-found"
	JIDMalformed          Condition = "jid-malformed"
	NotAcceptable         Condition = "not-acceptable"
	NotAllowed            Condition = "not-allowed"
	NotAuthorized         Condition = "not-authorized"
	PolicyViolation       Condition = "policy-violation"
	RecipientUnavailable  Condition = "recipient-unavailable"
	Redirect              Condition = "redirect"
	RegistrationRequired  Condition = "registration-required"
	RemoteServerNotFound  Condition = "remote-server-not-found"
	RemoteServerTimeout   Condition = "remote-server-timeout"
	ResourceConstraint    Condition = "resource-constraint"
	ServiceUnavailable    Condition = "service-unavailable"
	SubscriptionRequired  Condition = "subscription-required"
	UndefinedCondition    Condition = "undefined-condition"
	UnexpectedRequest     Condition = "unexpected-request"
)

// Error is a protocol error that can be sent to the remote entity.
// Modules return it from their handlers to have the dispatcher answer a query
// with an error response.
type Error struct {
	Type      ErrorType
	Condition Condition
	Text      string
	Lang      string
}

// Error satisfies the error interface by returning the text if any, or the
// condition.
func (se Error) Error() string {
	if se.Text != "" {
		return se.Text
	}
	return string(se.Condition)
}

// Is allows errors.Is to match stanza errors by condition.
// An Error in the chain matches target if the conditions are equal and the
// target type is either empty or equal.
func (se Error) Is(target error) bool {
	t, ok := target.(Error)
	if !ok {
		return false
	}
	return t.Condition == se.Condition && (t.Type == "" || t.Type == se.Type)
}

// Element returns the <error/> element representation of se.
func (se Error) Element() *Element {
	el := NewElement("", "error")
	if se.Type != "" {
		el.SetAttribute("type", string(se.Type))
	}
	cond := se.Condition
	if cond == "" {
		cond = UndefinedCondition
	}
	el.Append(NewElement(ns.Stanza, string(cond)))
	if se.Text != "" {
		text := NewElement(ns.Stanza, "text").SetText(se.Text)
		if se.Lang != "" {
			text.Attr = append(text.Attr, xml.Attr{
				Name:  xml.Name{Space: ns.XML, Local: "lang"},
				Value: se.Lang,
			})
		}
		el.Append(text)
	}
	return el
}

// TokenReader satisfies the xmlstream.Marshaler interface for Error.
func (se Error) TokenReader() xml.TokenReader {
	return se.Element().TokenReader()
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (se Error) WriteXML(w xmlstream.TokenWriter) (n int, err error) {
	return xmlstream.Copy(w, se.TokenReader())
}

// ErrorFromElement parses an <error/> element.
// The second return value is false if el is not an error element or does not
// contain a condition from the stanza error namespace.
func ErrorFromElement(el *Element) (Error, bool) {
	if el == nil || el.Name.Local != "error" {
		return Error{}, false
	}
	se := Error{Type: ErrorType(el.Attribute("type"))}
	for _, c := range el.Children {
		if c.Name.Space != ns.Stanza {
			continue
		}
		if c.Name.Local == "text" {
			se.Text = c.Text
			for _, a := range c.Attr {
				if a.Name.Space == ns.XML && a.Name.Local == "lang" {
					se.Lang = a.Value
				}
			}
			continue
		}
		if se.Condition == "" {
			se.Condition = Condition(c.Name.Local)
		}
	}
	if se.Condition == "" {
		return Error{}, false
	}
	return se, true
}
