// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"encoding/xml"
	"io"

	"mellium.im/xclient/internal/ns"
)

// StreamName is the name of the stream element.
var StreamName = xml.Name{Space: ns.Stream, Local: "stream"}

// Tokens is a slice of XML tokens that can also act as an xml.TokenReader by
// popping tokens from itself.
// It is used to feed a session streams that an xml.Decoder would refuse to
// produce, for example ones that are not well formed.
type Tokens []xml.Token

// Stream returns toks preceded by a stream header.
// The stream is left open unless closed is true.
func Stream(closed bool, toks ...xml.Token) *Tokens {
	out := make(Tokens, 0, len(toks)+2)
	out = append(out, xml.StartElement{
		Name: StreamName,
		Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: ns.Client}},
	})
	out = append(out, toks...)
	if closed {
		out = append(out, xml.EndElement{Name: StreamName})
	}
	return &out
}

// Token satisfies xml.TokenReader.
// Once every token has been read it returns io.EOF.
func (r *Tokens) Token() (xml.Token, error) {
	if len(*r) == 0 {
		return nil, io.EOF
	}

	var t xml.Token
	t, *r = (*r)[0], (*r)[1:]
	return t, nil
}
