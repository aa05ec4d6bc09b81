// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package blocklist

import (
	"slices"

	"mellium.im/xmpp/jid"

	"mellium.im/xclient/mux"
	"mellium.im/xclient/stanza"
)

// Match satisfies mux.Module by matching block and unblock pushes.
func (m *Module) Match(st *stanza.Stanza) bool {
	return st.Name() == "iq" && st.Type() == stanza.SetIQ &&
		(st.Child(NS, "block") != nil || st.Child(NS, "unblock") != nil)
}

// HandleStanza satisfies mux.Module.
func (m *Module) HandleStanza(st *stanza.Stanza, w mux.Writer) error {
	return mux.ServeIQ(m, st, w)
}

// HandleGet satisfies mux.IQHandler.
// Clients do not serve their blocklist.
func (m *Module) HandleGet(iq *stanza.Stanza, w mux.Writer) error {
	return stanza.Error{Type: stanza.Cancel, Condition: stanza.FeatureNotImplemented}
}

// HandleSet applies a push from the server to the known blocklist.
// Pushes received before the list was retrieved are acknowledged but ignored.
func (m *Module) HandleSet(iq *stanza.Stanza, w mux.Writer) error {
	if from := iq.From(); !from.Equal(jid.JID{}) && !m.Account.Equal(jid.JID{}) && !from.Equal(m.Account.Bare()) {
		return stanza.Error{Type: stanza.Cancel, Condition: stanza.NotAllowed}
	}

	var (
		block  = true
		action = iq.Child(NS, "block")
	)
	if action == nil {
		block = false
		action = iq.Child(NS, "unblock")
	}
	var items []jid.JID
	for _, el := range action.ChildrenNamed(NS, "item") {
		item, err := itemFromElement(el)
		if err != nil {
			return stanza.Error{Type: stanza.Modify, Condition: stanza.JIDMalformed}
		}
		items = append(items, item.JID)
	}
	if block && len(items) == 0 {
		return stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest}
	}

	if m.known {
		list := slices.Clone(m.blocked)
		switch {
		case block:
			for _, j := range items {
				if !slices.ContainsFunc(list, j.Equal) {
					list = append(list, j)
				}
			}
		case len(items) == 0:
			list = nil
		default:
			list = slices.DeleteFunc(list, func(b jid.JID) bool {
				return slices.ContainsFunc(items, b.Equal)
			})
		}
		m.set(list)
	}
	return w.Send(iq.Result())
}

// Reset satisfies mux.Resetter.
// The blocklist is forgotten when the session ends.
func (m *Module) Reset(scope mux.Scope) {
	if scope&mux.SessionScope == 0 || !m.known {
		return
	}
	removed := m.blocked
	m.blocked = nil
	m.known = false
	m.fetching = false
	if len(removed) > 0 && m.s != nil {
		m.s.Bus().Publish(BlockedChangedEvent{Removed: removed})
	}
}
