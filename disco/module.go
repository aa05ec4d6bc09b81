// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package disco

import (
	"context"
	"errors"

	"mellium.im/xmpp/jid"

	"mellium.im/xclient"
	"mellium.im/xclient/mux"
	"mellium.im/xclient/stanza"
)

var errNotAttached = errors.New("disco: module is not registered with a session")

// Module answers info queries with the features of the session's modules and
// fetches the info of other entities.
type Module struct {
	// Identities are advertised in info responses.
	// If empty, ClientPC is used.
	Identities []Identity

	// Node is the entity capabilities node of the client.
	// If set, info queries for "Node#ver" are answered as well.
	Node string

	s *xclient.Session
}

// New returns a disco module advertising the given identities.
func New(node string, identities ...Identity) *Module {
	return &Module{
		Node:       node,
		Identities: identities,
	}
}

// Attach satisfies xclient.Attacher.
func (m *Module) Attach(s *xclient.Session) {
	m.s = s
}

// ID satisfies mux.Module.
func (*Module) ID() string { return NSInfo }

// Features satisfies mux.FeatureAdvertiser.
func (*Module) Features() []string {
	return []string{NSInfo, NSCaps}
}

// Match satisfies mux.Module.
func (*Module) Match(st *stanza.Stanza) bool {
	return st.Name() == "iq" && st.Child(NSInfo, "query") != nil
}

// HandleStanza satisfies mux.Module.
func (m *Module) HandleStanza(st *stanza.Stanza, w mux.Writer) error {
	return mux.ServeIQ(m, st, w)
}

// HandleGet answers an info query.
func (m *Module) HandleGet(iq *stanza.Stanza, w mux.Writer) error {
	node := iq.Child(NSInfo, "query").Attribute("node")
	info := m.Info()
	if node != "" {
		if m.Node == "" || node != m.Node+"#"+info.Caps(m.Node).Ver {
			return stanza.Error{Type: stanza.Cancel, Condition: stanza.ItemNotFound}
		}
		info.Node = node
	}
	return w.Send(iq.Result(info.Element()))
}

// HandleSet satisfies mux.IQHandler.
func (*Module) HandleSet(iq *stanza.Stanza, w mux.Writer) error {
	return mux.NotAllowed(iq, w)
}

// Info returns the identities and features of the local entity.
func (m *Module) Info() Info {
	info := Info{Identities: m.Identities}
	if len(info.Identities) == 0 {
		info.Identities = []Identity{ClientPC}
	}
	if m.s != nil {
		info.Features = m.s.Features()
	} else {
		info.Features = m.Features()
	}
	return info
}

// Caps returns the entity capabilities to advertise in presence.
func (m *Module) Caps() Caps {
	return m.Info().Caps(m.Node)
}

// Fetch queries the info of the entity at to.
func (m *Module) Fetch(ctx context.Context, to jid.JID, node string) (Info, error) {
	if m.s == nil {
		return Info{}, errNotAttached
	}
	resp, err := m.s.SendIQ(ctx, stanza.NewIQ(stanza.GetIQ, to, InfoQuery(node)))
	if err != nil {
		return Info{}, err
	}
	q := resp.Child(NSInfo, "query")
	if q == nil {
		return Info{Node: node}, nil
	}
	return InfoFromElement(q), nil
}

// FetchServer queries the info of the user's server and records its features
// as peer features of the session.
func (m *Module) FetchServer(ctx context.Context) (Info, error) {
	info, err := m.Fetch(ctx, jid.JID{}, "")
	if err != nil {
		return info, err
	}
	m.SetPeerFeatures(info.Features...)
	return info, nil
}

// SetPeerFeatures adds features to the set the peer is known to support.
// Modules waiting for a peer feature are notified through the session's
// FeaturesChanged event.
func (m *Module) SetPeerFeatures(features ...string) {
	if m.s == nil || len(features) == 0 {
		return
	}
	m.s.AddPeerFeatures(features...)
}
