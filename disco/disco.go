// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package disco implements service discovery.
package disco // import "mellium.im/xclient/disco"

import (
	"cmp"
	"encoding/xml"
	"slices"

	"mellium.im/xclient/internal/ns"
	"mellium.im/xclient/stanza"
)

// Namespaces used by this package.
const (
	NSInfo  = `http://jabber.org/protocol/disco#info`
	NSItems = `http://jabber.org/protocol/disco#items`
	NSCaps  = `http://jabber.org/protocol/caps`
)

// Identity is the type and category of a node on the network.
type Identity struct {
	Category string
	Type     string
	Name     string
	Lang     string
}

// ClientPC is the identity of a desktop client.
var ClientPC = Identity{Category: "client", Type: "pc"}

// Element returns the <identity/> representation of i.
func (i Identity) Element() *stanza.Element {
	el := stanza.NewElement(NSInfo, "identity").
		SetAttribute("category", i.Category).
		SetAttribute("type", i.Type)
	if i.Name != "" {
		el.SetAttribute("name", i.Name)
	}
	if i.Lang != "" {
		el.Attr = append(el.Attr, xmlLang(i.Lang))
	}
	return el
}

func compareIdentity(a, b Identity) int {
	return cmp.Or(
		cmp.Compare(a.Category, b.Category),
		cmp.Compare(a.Type, b.Type),
		cmp.Compare(a.Lang, b.Lang),
		cmp.Compare(a.Name, b.Name),
	)
}

// Info is the result of an info query: the identities and features of a node.
type Info struct {
	Node       string
	Identities []Identity
	Features   []string
}

// Has reports whether the feature is supported.
func (i Info) Has(feature string) bool {
	return slices.Contains(i.Features, feature)
}

// Element returns the <query/> representation of i.
// Identities and features are sorted and duplicate features are removed.
func (i Info) Element() *stanza.Element {
	q := InfoQuery(i.Node)
	ids := slices.Clone(i.Identities)
	slices.SortFunc(ids, compareIdentity)
	for _, id := range slices.CompactFunc(ids, func(a, b Identity) bool { return a == b }) {
		q.Append(id.Element())
	}
	features := slices.Clone(i.Features)
	slices.Sort(features)
	for _, f := range slices.Compact(features) {
		q.Append(stanza.NewElement(NSInfo, "feature").SetAttribute("var", f))
	}
	return q
}

// InfoQuery returns the payload of a query for a node's identities and
// features.
func InfoQuery(node string) *stanza.Element {
	q := stanza.NewElement(NSInfo, "query")
	if node != "" {
		q.SetAttribute("node", node)
	}
	return q
}

// InfoFromElement decodes the payload of an info query result.
func InfoFromElement(q *stanza.Element) Info {
	info := Info{Node: q.Attribute("node")}
	for _, c := range q.Children {
		if c.Name.Space != NSInfo {
			continue
		}
		switch c.Name.Local {
		case "identity":
			info.Identities = append(info.Identities, Identity{
				Category: c.Attribute("category"),
				Type:     c.Attribute("type"),
				Name:     c.Attribute("name"),
				Lang:     lang(c),
			})
		case "feature":
			if v := c.Attribute("var"); v != "" {
				info.Features = append(info.Features, v)
			}
		}
	}
	return info
}

func lang(el *stanza.Element) string {
	for _, a := range el.Attr {
		if a.Name.Local == "lang" && (a.Name.Space == ns.XML || a.Name.Space == "xml") {
			return a.Value
		}
	}
	return ""
}

func xmlLang(v string) xml.Attr {
	return xml.Attr{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: v}
}
