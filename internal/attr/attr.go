// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package attr contains helpers for working with XML attributes.
package attr // import "mellium.im/xclient/internal/attr"

import (
	"encoding/xml"
)

// Get returns the index and value of the first attribute with the provided
// local name from a list of attributes, or -1 and an empty string if no such
// attribute exists.
// Namespaced attributes are never matched.
func Get(attr []xml.Attr, local string) (int, string) {
	for i, a := range attr {
		if a.Name.Local == local && a.Name.Space == "" {
			return i, a.Value
		}
	}
	return -1, ""
}

// Set returns attr with the value of the first attribute matching local
// replaced, or with a new attribute appended if none matched.
func Set(attr []xml.Attr, local, value string) []xml.Attr {
	idx, _ := Get(attr, local)
	if idx == -1 {
		return append(attr, xml.Attr{Name: xml.Name{Local: local}, Value: value})
	}
	attr[idx].Value = value
	return attr
}
