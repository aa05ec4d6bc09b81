// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package disco

import (
	"context"

	"mellium.im/xmpp/jid"

	"mellium.im/xclient/stanza"
)

// Item represents a discovered item.
type Item struct {
	JID  jid.JID
	Name string
	Node string
}

// ItemsQuery returns the payload of a query for a node's items.
func ItemsQuery(node string) *stanza.Element {
	q := stanza.NewElement(NSItems, "query")
	if node != "" {
		q.SetAttribute("node", node)
	}
	return q
}

// ItemsFromElement decodes the payload of an items query result.
// Items with an invalid address are skipped.
func ItemsFromElement(q *stanza.Element) []Item {
	var items []Item
	for _, c := range q.ChildrenNamed(NSItems, "item") {
		j, err := jid.Parse(c.Attribute("jid"))
		if err != nil {
			continue
		}
		items = append(items, Item{
			JID:  j,
			Name: c.Attribute("name"),
			Node: c.Attribute("node"),
		})
	}
	return items
}

// FetchItems queries the items of the entity at to.
func (m *Module) FetchItems(ctx context.Context, to jid.JID, node string) ([]Item, error) {
	if m.s == nil {
		return nil, errNotAttached
	}
	resp, err := m.s.SendIQ(ctx, stanza.NewIQ(stanza.GetIQ, to, ItemsQuery(node)))
	if err != nil {
		return nil, err
	}
	q := resp.Child(NSItems, "query")
	if q == nil {
		return nil, nil
	}
	return ItemsFromElement(q), nil
}
