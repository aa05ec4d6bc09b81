// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ping implements XEP-0199: XMPP Ping.
package ping // import "mellium.im/xclient/ping"

import (
	"context"
	"errors"

	"mellium.im/xmpp/jid"

	"mellium.im/xclient"
	"mellium.im/xclient/mux"
	"mellium.im/xclient/stanza"
)

// NS is the XML namespace used by XMPP pings. It is provided as a convenience.
const NS = `urn:xmpp:ping`

var errNotAttached = errors.New("ping: module is not registered with a session")

// Module answers pings and sends them.
// The zero value is ready to use once registered with a session.
type Module struct {
	s *xclient.Session
}

// New returns a ping module.
func New() *Module {
	return &Module{}
}

// Attach satisfies xclient.Attacher.
func (m *Module) Attach(s *xclient.Session) {
	m.s = s
}

// ID satisfies mux.Module.
func (*Module) ID() string { return NS }

// Features satisfies mux.FeatureAdvertiser.
func (*Module) Features() []string { return []string{NS} }

// Match satisfies mux.Module.
func (*Module) Match(st *stanza.Stanza) bool {
	return st.Name() == "iq" && st.Child(NS, "ping") != nil
}

// HandleStanza satisfies mux.Module.
func (m *Module) HandleStanza(st *stanza.Stanza, w mux.Writer) error {
	return mux.ServeIQ(m, st, w)
}

// HandleGet answers a ping with an empty result.
func (*Module) HandleGet(iq *stanza.Stanza, w mux.Writer) error {
	return w.Send(iq.Result())
}

// HandleSet rejects the request, pings are always of type get.
func (*Module) HandleSet(iq *stanza.Stanza, w mux.Writer) error {
	return mux.NotAllowed(iq, w)
}

// IQ returns a ping request addressed to to.
func IQ(to jid.JID) *stanza.Stanza {
	return stanza.NewIQ(stanza.GetIQ, to, stanza.NewElement(NS, "ping"))
}

// Ping sends a ping to to and waits for the response.
// An entity that does not support pings but answered with
// feature-not-implemented is still reachable so this is not treated as an
// error.
func (m *Module) Ping(ctx context.Context, to jid.JID) error {
	if m.s == nil {
		return errNotAttached
	}
	_, err := m.s.SendIQ(ctx, IQ(to))
	var se stanza.Error
	if errors.As(err, &se) && se.Condition == stanza.FeatureNotImplemented {
		return nil
	}
	return err
}
