// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package disco

import (
	"crypto/sha1" // #nosec G505
	"encoding/base64"
	"hash"
	"slices"
	"strings"

	"mellium.im/xclient/stanza"
)

// HashSHA1 is the name of the only hash function defined for entity
// capabilities that every entity must support.
const HashSHA1 = "sha-1"

// Caps can be included in a presence stanza or in stream features to advertise
// entity capabilities.
// Node is a string that uniquely identifies your client (eg.
// https://example.com/myclient) and ver is the hash of an Info value.
type Caps struct {
	Hash string
	Node string
	Ver  string
}

// Element returns the <c/> representation of c.
func (c Caps) Element() *stanza.Element {
	return stanza.NewElement(NSCaps, "c").
		SetAttribute("hash", c.Hash).
		SetAttribute("node", c.Node).
		SetAttribute("ver", c.Ver)
}

// CapsFromStanza returns the entity capabilities advertised in st, if any.
func CapsFromStanza(st *stanza.Stanza) (Caps, bool) {
	c := st.Child(NSCaps, "c")
	if c == nil {
		return Caps{}, false
	}
	return Caps{
		Hash: c.Attribute("hash"),
		Node: c.Attribute("node"),
		Ver:  c.Attribute("ver"),
	}, true
}

// AppendHash generates the verification string for the info and appends it to
// dst, using h to hash the identities and features.
// Extended information (data forms) is not included.
func (i Info) AppendHash(dst []byte, h hash.Hash) []byte {
	var b strings.Builder
	ids := slices.Clone(i.Identities)
	slices.SortFunc(ids, compareIdentity)
	for _, id := range ids {
		b.WriteString(id.Category)
		b.WriteByte('/')
		b.WriteString(id.Type)
		b.WriteByte('/')
		b.WriteString(id.Lang)
		b.WriteByte('/')
		b.WriteString(id.Name)
		b.WriteByte('<')
	}
	features := slices.Clone(i.Features)
	slices.Sort(features)
	for _, f := range slices.Compact(features) {
		b.WriteString(f)
		b.WriteByte('<')
	}
	h.Reset()
	h.Write([]byte(b.String()))
	sum := h.Sum(nil)
	return base64.StdEncoding.AppendEncode(dst, sum)
}

// Caps returns the entity capabilities for the info advertised under node,
// using SHA-1.
func (i Info) Caps(node string) Caps {
	return Caps{
		Hash: HashSHA1,
		Node: node,
		Ver:  string(i.AppendHash(nil, sha1.New())), // #nosec G401
	}
}
