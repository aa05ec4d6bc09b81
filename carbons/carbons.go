// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package carbons implements carbon copying messages to all interested clients.
package carbons // import "mellium.im/xclient/carbons"

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"mellium.im/xmpp/jid"

	"mellium.im/xclient"
	"mellium.im/xclient/event"
	"mellium.im/xclient/mux"
	"mellium.im/xclient/stanza"
)

// Namespaces used by this package, provided as a convenience.
const (
	NS        = `urn:xmpp:carbons:2`
	NSRules   = `urn:xmpp:carbons:rules:0`
	NSForward = `urn:xmpp:forward:0`
	NSHints   = `urn:xmpp:hints`
)

var errNotAttached = errors.New("carbons: module is not registered with a session")

// Action is the reason a carbon copy was received.
type Action string

// A list of possible actions.
const (
	// Received is a copy of a message received by another resource.
	Received Action = "received"
	// Sent is a copy of a message sent by another resource.
	Sent Action = "sent"
)

// CarbonReceived is published for every message copied to this resource.
var CarbonReceived = event.NewKind("carbon-received")

// CarbonReceivedEvent carries a copied message.
type CarbonReceivedEvent struct {
	Action Action

	// JID is the other party of the conversation: the sender of a received
	// message or the recipient of a sent one.
	JID jid.JID

	Message *stanza.Stanza
}

// Kind satisfies event.Event.
func (CarbonReceivedEvent) Kind() event.Kind { return CarbonReceived }

// Module handles carbon copies and toggles carbon copying.
type Module struct {
	// Account is the address of the local account.
	// If set, copies that were not sent by its bare JID are ignored.
	Account jid.JID

	s         *xclient.Session
	log       zerolog.Logger
	available bool
}

// New returns a carbons module.
func New() *Module {
	return &Module{log: zerolog.Nop()}
}

// Attach satisfies xclient.Attacher.
func (m *Module) Attach(s *xclient.Session) {
	m.s = s
	m.log = s.Logger().With().Str("module", NS).Logger()
	s.Bus().SubscribeFunc(xclient.FeaturesChanged, func(ev event.Event) {
		m.available = ev.(xclient.FeaturesChangedEvent).Has(NS)
	})
}

// ID satisfies mux.Module.
func (*Module) ID() string { return NS }

// Features satisfies mux.FeatureAdvertiser.
func (*Module) Features() []string { return []string{NS} }

// Available reports whether the server advertised support for carbons.
// It must be called from the session goroutine.
func (m *Module) Available() bool { return m.available }

// Match satisfies mux.Module.
func (*Module) Match(st *stanza.Stanza) bool {
	if st.Name() != "message" {
		return false
	}
	for _, c := range st.Payload() {
		if c.Name.Space == NS {
			return true
		}
	}
	return false
}

// HandleStanza satisfies mux.Module.
// Each forwarded message is published as a CarbonReceivedEvent.
func (m *Module) HandleStanza(st *stanza.Stanza, _ mux.Writer) error {
	if !m.Account.Equal(jid.JID{}) {
		if from := st.From(); !from.Equal(jid.JID{}) && !from.Equal(m.Account.Bare()) {
			m.log.Warn().Stringer("from", from).Msg("ignoring carbon copy from foreign entity")
			return nil
		}
	}

	var copies []CarbonReceivedEvent
	for _, c := range st.Payload() {
		if c.Name.Space != NS {
			continue
		}
		action := Action(c.Name.Local)
		if action != Received && action != Sent {
			return stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest}
		}
		fwd := c.Child(NSForward, "forwarded")
		if fwd == nil {
			continue
		}
		for _, el := range fwd.Children {
			if el.Name.Local != "message" {
				continue
			}
			msg := stanza.New(el.Copy())
			addr := msg.From()
			if action == Sent {
				addr = msg.To()
			}
			if addr.Equal(jid.JID{}) {
				continue
			}
			copies = append(copies, CarbonReceivedEvent{
				Action:  action,
				JID:     addr,
				Message: msg,
			})
		}
	}
	if m.s == nil {
		return nil
	}
	for _, ev := range copies {
		m.s.Bus().Publish(ev)
	}
	return nil
}

// Enable instructs the server to start carbon copying messages on the
// session.
func (m *Module) Enable(ctx context.Context) error {
	return m.setState(ctx, "enable")
}

// Disable instructs the server to stop carbon copying messages on the
// session.
func (m *Module) Disable(ctx context.Context) error {
	return m.setState(ctx, "disable")
}

func (m *Module) setState(ctx context.Context, local string) error {
	if m.s == nil {
		return errNotAttached
	}
	_, err := m.s.SendIQ(ctx, stanza.NewIQ(stanza.SetIQ, jid.JID{}, stanza.NewElement(NS, local)))
	return err
}

// Private marks msg so that the server does not copy it to other resources.
// It returns msg.
func Private(msg *stanza.Stanza) *stanza.Stanza {
	msg.Element().Append(
		stanza.NewElement(NS, "private"),
		stanza.NewElement(NSHints, "no-copy"),
	)
	return msg
}
