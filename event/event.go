// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package event implements the per-session notification bus used by modules to
// notify one another.
//
// Events are dispatched by kind: a Kind is an enumerated tag and every event
// carries exactly one.
// Subscribers register for a kind and are invoked synchronously, in
// registration order, on the goroutine that publishes the event.
package event // import "mellium.im/xclient/event"

import (
	"sync"
	"sync/atomic"
)

// Kind identifies a class of events.
// Kinds are allocated with NewKind, normally in a package level variable.
type Kind uint32

var (
	kindMu    sync.RWMutex
	kindNames = []string{"invalid"}
	nextKind  atomic.Uint32
)

// NewKind allocates a new event kind.
// The name is only used for debugging and does not have to be unique.
func NewKind(name string) Kind {
	kindMu.Lock()
	defer kindMu.Unlock()
	k := Kind(nextKind.Add(1))
	kindNames = append(kindNames, name)
	return k
}

// String returns the name the kind was allocated with.
func (k Kind) String() string {
	kindMu.RLock()
	defer kindMu.RUnlock()
	if int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Event is implemented by all values published on a Bus.
type Event interface {
	Kind() Kind
}

// Handler receives events.
type Handler interface {
	HandleEvent(Event)
}

// The HandlerFunc type is an adapter to allow the use of ordinary functions as
// event handlers.
// If f is a function with the appropriate signature, HandlerFunc(f) is a
// Handler that calls f.
type HandlerFunc func(Event)

// HandleEvent calls f(e).
func (f HandlerFunc) HandleEvent(e Event) {
	f(e)
}

// Token identifies a subscription so that it can be removed later.
// The zero value is not a valid token.
type Token struct {
	kind Kind
	id   uint64
}

type subscription struct {
	id uint64
	h  Handler
}

// Bus is a publish/subscribe registry.
// The zero value is ready to use.
// Subscribe and Unsubscribe are safe for concurrent use, handlers are invoked
// on the goroutine calling Publish.
type Bus struct {
	mu     sync.Mutex
	lastID uint64
	subs   map[Kind][]subscription
}

// Subscribe registers h for events of kind k and returns a token that can be
// passed to Unsubscribe.
// Subscribing with a nil handler panics.
func (b *Bus) Subscribe(k Kind, h Handler) Token {
	if h == nil {
		panic("event: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[Kind][]subscription)
	}
	b.lastID++
	b.subs[k] = append(b.subs[k], subscription{id: b.lastID, h: h})
	return Token{kind: k, id: b.lastID}
}

// SubscribeFunc is like Subscribe but takes a function.
func (b *Bus) SubscribeFunc(k Kind, f func(Event)) Token {
	return b.Subscribe(k, HandlerFunc(f))
}

// Unsubscribe removes a subscription.
// It reports whether the token was still subscribed.
// A handler may unsubscribe itself (or others) while an event is being
// published, this does not affect the delivery that is already in progress.
func (b *Bus) Unsubscribe(t Token) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[t.kind]
	for i, s := range subs {
		if s.id != t.id {
			continue
		}
		// Never modify the backing array in place, Publish may hold a snapshot
		// of it.
		n := make([]subscription, 0, len(subs)-1)
		n = append(n, subs[:i]...)
		n = append(n, subs[i+1:]...)
		if len(n) == 0 {
			delete(b.subs, t.kind)
		} else {
			b.subs[t.kind] = n
		}
		return true
	}
	return false
}

// Publish invokes every handler subscribed to e.Kind() at the time Publish is
// called, in registration order.
// Publishing a nil event is a no-op.
func (b *Bus) Publish(e Event) {
	if e == nil {
		return
	}
	b.mu.Lock()
	subs := b.subs[e.Kind()]
	b.mu.Unlock()
	for _, s := range subs {
		s.h.HandleEvent(e)
	}
}

// Len returns the number of handlers subscribed to k.
func (b *Bus) Len(k Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[k])
}
