// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package blocklist implements blocking and unblocking of contacts.
package blocklist // import "mellium.im/xclient/blocklist"

import (
	"context"
	"errors"
	"slices"

	"github.com/rs/zerolog"
	"mellium.im/xmpp/jid"

	"mellium.im/xclient"
	"mellium.im/xclient/event"
	"mellium.im/xclient/stanza"
)

// Various namespaces used by this package, provided as a convenience.
const (
	NS          = `urn:xmpp:blocking`
	NSReporting = `urn:xmpp:reporting:1`
)

var errNotAttached = errors.New("blocklist: module is not registered with a session")

// BlockedChanged is published whenever the known blocklist changes.
var BlockedChanged = event.NewKind("blocked-changed")

// BlockedChangedEvent carries the new blocklist and the difference to the
// previous one.
type BlockedChangedEvent struct {
	Blocked []jid.JID
	Added   []jid.JID
	Removed []jid.JID
}

// Kind satisfies event.Event.
func (BlockedChangedEvent) Kind() event.Kind { return BlockedChanged }

// Match checks j1 aginst a JID in the blocklist (j2) and returns true if they
// are a match.
//
// The JID matches the blocklist JID if any of the following compare to the
// blocklist JID (falling back in this order):
//
//   - Full JID (user@domain/resource)
//   - Bare JID (user@domain)
//   - Full domain (domain/resource)
//   - Bare domain
func Match(j1, j2 jid.JID) bool {
	if j1.Equal(j2) || j1.Bare().Equal(j2) {
		return true
	}
	if full, err := jid.New("", j1.Domainpart(), j1.Resourcepart()); err == nil && full.Equal(j2) {
		return true
	}
	return j1.Domain().Equal(j2)
}

// ReportReason is a reason of a report.
type ReportReason string

// The available report reasons are listed below.
const (
	// ReasonSpam is used for reporting a JID that is sending unwanted messages.
	ReasonSpam ReportReason = "urn:xmpp:reporting:spam"

	// ReasonAbuse is used for reporting general abuse.
	ReasonAbuse ReportReason = "urn:xmpp:reporting:abuse"
)

// Item is a block payload.
// It consists of a JID you want to block and optional report fields.
type Item struct {
	JID    jid.JID
	Reason ReportReason
	Text   string
}

// Element returns the <item/> representation of i.
func (i Item) Element() *stanza.Element {
	el := stanza.NewElement(NS, "item").SetAttribute("jid", i.JID.String())
	if i.Reason == "" && i.Text == "" {
		return el
	}
	reason := ReasonSpam
	if i.Reason != "" {
		reason = i.Reason
	}
	report := stanza.NewElement(NSReporting, "report").SetAttribute("reason", string(reason))
	if i.Text != "" {
		report.Append(stanza.NewElement(NSReporting, "text").SetText(i.Text))
	}
	return el.Append(report)
}

func itemFromElement(el *stanza.Element) (Item, error) {
	j, err := jid.Parse(el.Attribute("jid"))
	if err != nil {
		return Item{}, err
	}
	item := Item{JID: j}
	if report := el.Child(NSReporting, "report"); report != nil {
		item.Reason = ReportReason(report.Attribute("reason"))
		if text := report.Child(NSReporting, "text"); text != nil {
			item.Text = text.Text
		}
	}
	return item, nil
}

// Module keeps track of the blocklist.
type Module struct {
	// Account is the address of the local account.
	// If set, pushes that did not come from its bare JID are rejected.
	Account jid.JID

	// AutoFetch retrieves the blocklist as soon as the server advertises
	// support for blocking.
	AutoFetch bool

	s        *xclient.Session
	log      zerolog.Logger
	blocked  []jid.JID
	known    bool
	fetching bool
}

// New returns a blocklist module that retrieves the list automatically.
func New() *Module {
	return &Module{
		AutoFetch: true,
		log:       zerolog.Nop(),
	}
}

// Attach satisfies xclient.Attacher.
func (m *Module) Attach(s *xclient.Session) {
	m.s = s
	m.log = s.Logger().With().Str("module", NS).Logger()
	s.Bus().SubscribeFunc(xclient.FeaturesChanged, func(ev event.Event) {
		if !m.AutoFetch || m.known || m.fetching || !ev.(xclient.FeaturesChangedEvent).Has(NS) {
			return
		}
		if err := m.fetch(nil); err != nil {
			m.log.Warn().Err(err).Msg("retrieving blocklist")
		}
	})
}

// ID satisfies mux.Module.
func (*Module) ID() string { return NS }

// Blocked returns the known blocklist and whether it has been retrieved.
// It must be called from the session goroutine.
func (m *Module) Blocked() ([]jid.JID, bool) {
	return slices.Clone(m.blocked), m.known
}

// IsBlocked reports whether j matches an entry of the known blocklist.
// It must be called from the session goroutine.
func (m *Module) IsBlocked(j jid.JID) bool {
	return slices.ContainsFunc(m.blocked, func(b jid.JID) bool {
		return Match(j, b)
	})
}

// Fetch retrieves the blocklist from the server and replaces the known list.
func (m *Module) Fetch(ctx context.Context) ([]jid.JID, error) {
	if m.s == nil {
		return nil, errNotAttached
	}
	type result struct {
		list []jid.JID
		err  error
	}
	c := make(chan result, 1)
	if !m.s.Post(func() {
		err := m.fetch(func(list []jid.JID, err error) {
			c <- result{list: list, err: err}
		})
		if err != nil {
			c <- result{err: err}
		}
	}) {
		return nil, xclient.ErrSessionClosed
	}
	select {
	case r := <-c:
		return r.list, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fetch must be called from the session goroutine.
// If it returns an error cb is not called.
func (m *Module) fetch(cb func([]jid.JID, error)) error {
	m.fetching = true
	iq := stanza.NewIQ(stanza.GetIQ, jid.JID{}, stanza.NewElement(NS, "blocklist"))
	err := m.s.SendRequest(iq, 0, func(resp *stanza.Stanza, err error) {
		m.fetching = false
		if err != nil {
			if cb != nil {
				cb(nil, err)
			}
			return
		}
		var list []jid.JID
		if bl := resp.Child(NS, "blocklist"); bl != nil {
			for _, el := range bl.ChildrenNamed(NS, "item") {
				item, err := itemFromElement(el)
				if err != nil {
					m.log.Debug().Err(err).Msg("skipping invalid blocklist item")
					continue
				}
				list = append(list, item.JID)
			}
		}
		m.set(list)
		if cb != nil {
			cb(slices.Clone(list), nil)
		}
	})
	if err != nil {
		m.fetching = false
	}
	return err
}

// set replaces the blocklist and publishes the change.
func (m *Module) set(list []jid.JID) {
	var added, removed []jid.JID
	for _, j := range list {
		if !slices.ContainsFunc(m.blocked, j.Equal) {
			added = append(added, j)
		}
	}
	for _, j := range m.blocked {
		if !slices.ContainsFunc(list, j.Equal) {
			removed = append(removed, j)
		}
	}
	wasKnown := m.known
	m.blocked = list
	m.known = true
	if wasKnown && len(added) == 0 && len(removed) == 0 {
		return
	}
	m.s.Bus().Publish(BlockedChangedEvent{
		Blocked: slices.Clone(list),
		Added:   added,
		Removed: removed,
	})
}

// Block adds JIDs to the blocklist.
func (m *Module) Block(ctx context.Context, j ...jid.JID) error {
	if len(j) == 0 {
		return nil
	}
	items := make([]Item, 0, len(j))
	for _, jj := range j {
		items = append(items, Item{JID: jj})
	}
	return m.Report(ctx, items...)
}

// Report adds JIDs to the blocklist.
// You can optionally specify a report for each individual JID.
func (m *Module) Report(ctx context.Context, i ...Item) error {
	if len(i) == 0 {
		return nil
	}
	block := stanza.NewElement(NS, "block")
	for _, item := range i {
		block.Append(item.Element())
	}
	return m.send(ctx, block)
}

// Unblock removes JIDs from the blocklist.
// If no JIDs are provided the entire blocklist is cleared.
func (m *Module) Unblock(ctx context.Context, j ...jid.JID) error {
	unblock := stanza.NewElement(NS, "unblock")
	for _, jj := range j {
		unblock.Append(Item{JID: jj}.Element())
	}
	return m.send(ctx, unblock)
}

// The server answers with a push which updates the known list.
func (m *Module) send(ctx context.Context, payload *stanza.Element) error {
	if m.s == nil {
		return errNotAttached
	}
	_, err := m.s.SendIQ(ctx, stanza.NewIQ(stanza.SetIQ, jid.JID{}, payload))
	return err
}
