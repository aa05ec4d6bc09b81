// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package disco_test

import (
	"context"
	"slices"
	"strconv"
	"testing"
	"time"

	"mellium.im/xmpp/jid"

	"mellium.im/xclient"
	"mellium.im/xclient/disco"
	"mellium.im/xclient/event"
	"mellium.im/xclient/internal/xmpptest"
	"mellium.im/xclient/mux"
	"mellium.im/xclient/stanza"
)

const capsNode = "https://mellium.im/xclient"

func newSession(t *testing.T) (*disco.Module, *xclient.Session, *xmpptest.Transport) {
	t.Helper()
	m := disco.New(capsNode, disco.Identity{Category: "client", Type: "pc", Name: "xclient"})
	s, tr := xmpptest.NewSession(t, xclient.Modules(
		m,
		mux.ModuleFunc("urn:xmpp:ping", mux.Child("urn:xmpp:ping", "ping"), func(*stanza.Stanza, mux.Writer) error {
			return nil
		}, "urn:xmpp:ping"),
	))
	return m, s, tr
}

func TestAnswerInfo(t *testing.T) {
	m, s, tr := newSession(t)
	ver := m.Caps().Ver

	for i, tc := range [...]struct {
		node string
		typ  stanza.Type
	}{
		0: {typ: stanza.ResultIQ},
		1: {node: capsNode + "#" + ver, typ: stanza.ResultIQ},
		2: {node: capsNode + "#bogus", typ: stanza.ErrorIQ},
	} {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			tr.Reset()
			iq := stanza.NewIQ(stanza.GetIQ, jid.JID{}, disco.InfoQuery(tc.node))
			iq.SetAttr("id", "info"+strconv.Itoa(i))
			iq.SetAttr("from", "juliet@example.com/balcony")
			s.Deliver(iq)
			xmpptest.Sync(t, s)

			sent := tr.Stanzas()
			if len(sent) != 1 || sent[0].Type() != tc.typ {
				t.Fatalf("wrong response: %v", sent)
			}
			if tc.typ != stanza.ResultIQ {
				return
			}
			info := disco.InfoFromElement(sent[0].Child(disco.NSInfo, "query"))
			if info.Node != tc.node {
				t.Errorf("wrong node: want=%q, got=%q", tc.node, info.Node)
			}
			for _, f := range []string{disco.NSInfo, disco.NSCaps, "urn:xmpp:ping"} {
				if !info.Has(f) {
					t.Errorf("missing feature %q in %v", f, info.Features)
				}
			}
			if len(info.Identities) != 1 || info.Identities[0].Name != "xclient" {
				t.Errorf("wrong identities: %+v", info.Identities)
			}
		})
	}
}

func TestDefaultIdentity(t *testing.T) {
	info := disco.New("").Info()
	if len(info.Identities) != 1 || info.Identities[0] != disco.ClientPC {
		t.Errorf("wrong default identities: %+v", info.Identities)
	}
}

// answer replies to the first query sent on tr with the result of f.
func answer(s *xclient.Session, tr *xmpptest.Transport, f func(iq *stanza.Stanza) *stanza.Stanza) {
	go func() {
		for i := 0; i < 500; i++ {
			if sent := tr.Stanzas(); len(sent) > 0 {
				s.Deliver(f(sent[0]))
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func TestFetchServer(t *testing.T) {
	m, s, tr := newSession(t)
	var changes [][]string
	s.Bus().SubscribeFunc(xclient.FeaturesChanged, func(ev event.Event) {
		changes = append(changes, ev.(xclient.FeaturesChangedEvent).Features)
	})
	answer(s, tr, func(iq *stanza.Stanza) *stanza.Stanza {
		return iq.Result(disco.Info{
			Identities: []disco.Identity{{Category: "server", Type: "im"}},
			Features:   []string{"urn:xmpp:blocking", "urn:xmpp:carbons:2"},
		}.Element())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := m.FetchServer(ctx)
	if err != nil {
		t.Fatalf("error fetching: %v", err)
	}
	if !info.Has("urn:xmpp:carbons:2") || info.Identities[0].Category != "server" {
		t.Errorf("wrong info: %+v", info)
	}
	xmpptest.Sync(t, s)
	var peer []string
	s.Do(ctx, func() { peer = s.PeerFeatures() })
	if !slices.Contains(peer, "urn:xmpp:blocking") {
		t.Errorf("server features not recorded: %v", peer)
	}
	if len(changes) != 1 {
		t.Errorf("expected one features change, got %v", changes)
	}
	sent := tr.Stanzas()
	if len(sent) == 0 || sent[0].To().String() != "" || sent[0].Type() != stanza.GetIQ {
		t.Errorf("wrong request: %v", sent)
	}
}

func TestFetchItems(t *testing.T) {
	m, s, tr := newSession(t)
	answer(s, tr, func(iq *stanza.Stanza) *stanza.Stanza {
		q := disco.ItemsQuery("")
		q.Append(
			stanza.NewElement(disco.NSItems, "item").SetAttribute("jid", "conference.example.net").SetAttribute("name", "Chatrooms"),
			stanza.NewElement(disco.NSItems, "item").SetAttribute("jid", "upload.example.net"),
		)
		return iq.Result(q)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	items, err := m.FetchItems(ctx, jid.MustParse("example.net"), "")
	if err != nil {
		t.Fatalf("error fetching items: %v", err)
	}
	if len(items) != 2 || items[0].Name != "Chatrooms" || items[1].JID.String() != "upload.example.net" {
		t.Errorf("wrong items: %+v", items)
	}
}

func TestInfoElement(t *testing.T) {
	el := disco.Info{
		Node:       "node",
		Identities: []disco.Identity{{Category: "client", Type: "pc", Lang: "en"}, {Category: "client", Type: "pc", Lang: "en"}},
		Features:   []string{"b", "a", "b"},
	}.Element()
	info := disco.InfoFromElement(el)
	if info.Node != "node" || len(info.Identities) != 1 || info.Identities[0].Lang != "en" {
		t.Errorf("wrong decoded info: %+v", info)
	}
	if !slices.Equal(info.Features, []string{"a", "b"}) {
		t.Errorf("features not sorted and compacted: %v", info.Features)
	}
}
