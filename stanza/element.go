// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"

	"mellium.im/xmlstream"
	"mellium.im/xclient/internal/attr"
)

// Element is a node in an XML tree.
// Mixed content is not preserved: all character data directly inside an
// element is concatenated into Text.
type Element struct {
	Name     xml.Name
	Attr     []xml.Attr
	Text     string
	Children []*Element
}

// NewElement returns an element with the provided name and attributes.
func NewElement(space, local string, attr ...xml.Attr) *Element {
	return &Element{
		Name: xml.Name{Space: space, Local: local},
		Attr: attr,
	}
}

// Append adds children to the end of e and returns e.
func (e *Element) Append(children ...*Element) *Element {
	for _, c := range children {
		if c != nil {
			e.Children = append(e.Children, c)
		}
	}
	return e
}

// SetText sets the character data of e and returns e.
func (e *Element) SetText(s string) *Element {
	e.Text = s
	return e
}

// Attribute returns the value of the first non-namespaced attribute with the
// given local name or the empty string.
func (e *Element) Attribute(local string) string {
	_, v := attr.Get(e.Attr, local)
	return v
}

// HasAttribute reports whether the attribute is present, even if it is empty.
func (e *Element) HasAttribute(local string) bool {
	idx, _ := attr.Get(e.Attr, local)
	return idx != -1
}

// SetAttribute sets or replaces an attribute and returns e.
func (e *Element) SetAttribute(local, value string) *Element {
	e.Attr = attr.Set(e.Attr, local, value)
	return e
}

// Child returns the first child with a matching name.
// An empty space or local name matches any value.
func (e *Element) Child(space, local string) *Element {
	for _, c := range e.Children {
		if matchName(c.Name, space, local) {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns all children matching the name.
// An empty space or local name matches any value.
func (e *Element) ChildrenNamed(space, local string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if matchName(c.Name, space, local) {
			out = append(out, c)
		}
	}
	return out
}

func matchName(n xml.Name, space, local string) bool {
	return (space == "" || n.Space == space) && (local == "" || n.Local == local)
}

// Copy returns a deep copy of e.
func (e *Element) Copy() *Element {
	if e == nil {
		return nil
	}
	c := &Element{
		Name: e.Name,
		Text: e.Text,
	}
	if e.Attr != nil {
		c.Attr = make([]xml.Attr, len(e.Attr))
		copy(c.Attr, e.Attr)
	}
	for _, child := range e.Children {
		c.Children = append(c.Children, child.Copy())
	}
	return c
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (e *Element) TokenReader() xml.TokenReader {
	var inner []xml.TokenReader
	if e.Text != "" {
		inner = append(inner, xmlstream.Token(xml.CharData(e.Text)))
	}
	for _, c := range e.Children {
		inner = append(inner, c.TokenReader())
	}
	attrs := make([]xml.Attr, len(e.Attr))
	copy(attrs, e.Attr)
	return xmlstream.Wrap(
		xmlstream.MultiReader(inner...),
		xml.StartElement{Name: e.Name, Attr: attrs},
	)
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (e *Element) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, e.TokenReader())
}

// MarshalXML satisfies the xml.Marshaler interface.
func (e *Element) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	_, err := e.WriteXML(enc)
	if err != nil {
		return err
	}
	return enc.Flush()
}

// String returns the XML encoding of e.
// If the element cannot be encoded an empty string is returned.
func (e *Element) String() string {
	b, err := e.MarshalText()
	if err != nil {
		return ""
	}
	return string(b)
}

// MarshalText returns the XML encoding of e.
func (e *Element) MarshalText() ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if _, err := e.WriteXML(enc); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ErrNotStartElement is returned by DecodeString when the input does not start
// with an element.
var ErrNotStartElement = errors.New("stanza: expected start element")

// Decode builds an element tree from r.
// If start is nil, the first token read from r must be a start element.
// Otherwise start is the already consumed start token and Decode reads until
// its matching end element.
// Namespace declarations are dropped from the attribute list, the resolved
// namespace is kept in each element's name instead.
func Decode(r xml.TokenReader, start *xml.StartElement) (*Element, error) {
	if start == nil {
		for {
			tok, err := r.Token()
			if err != nil {
				if err == io.EOF {
					return nil, ErrNotStartElement
				}
				return nil, err
			}
			switch t := tok.(type) {
			case xml.StartElement:
				start = &t
			case xml.ProcInst, xml.Comment, xml.Directive:
				continue
			case xml.CharData:
				if len(bytes.TrimSpace(t)) == 0 {
					continue
				}
				return nil, ErrNotStartElement
			default:
				return nil, ErrNotStartElement
			}
			break
		}
	}

	root := newFromStart(*start)
	stack := []*Element{root}
	var text [][]byte
	text = append(text, nil)
	for len(stack) > 0 {
		tok, err := r.Token()
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		top := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			child := newFromStart(t)
			top.Children = append(top.Children, child)
			stack = append(stack, child)
			text = append(text, nil)
		case xml.CharData:
			text[len(text)-1] = append(text[len(text)-1], t...)
		case xml.EndElement:
			data := text[len(text)-1]
			// Whitespace between child elements is formatting, not content.
			if len(top.Children) > 0 && len(bytes.TrimSpace(data)) == 0 {
				data = nil
			}
			top.Text = string(data)
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]
		}
	}
	return root, nil
}

// DecodeString parses the first element in s.
func DecodeString(s string) (*Element, error) {
	return Decode(xml.NewDecoder(bytes.NewReader([]byte(s))), nil)
}

func newFromStart(start xml.StartElement) *Element {
	el := &Element{Name: start.Name}
	for _, a := range start.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		el.Attr = append(el.Attr, a)
	}
	return el
}
