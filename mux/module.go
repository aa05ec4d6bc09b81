// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package mux implements module registration and stanza dispatch.
//
// Incoming stanzas are offered to the stream filters first, then to the
// request correlator if they are responses, and finally to every module whose
// criteria accept them.
// Queries (get and set type stanzas) are handled by exactly one module and
// always receive a response: if no module matches, or if the module fails, the
// dispatcher answers with a stanza error on the module's behalf.
package mux // import "mellium.im/xclient/mux"

import (
	"mellium.im/xclient/stanza"
)

// Scope is a bitmask describing what is being reset.
type Scope uint8

const (
	// StreamScope is reset whenever the underlying stream is replaced (a new
	// transport connection for the same logical session).
	StreamScope Scope = 1 << iota

	// SessionScope is reset when the logical session ends (eg. on logout).
	// Session resets always include the stream scope as well.
	SessionScope
)

// Writer sends stanzas back to the remote entity.
type Writer interface {
	Send(st *stanza.Stanza) error
}

// Module is an extension that handles a subset of incoming stanzas.
//
// Match and HandleStanza are always called from the session goroutine.
// HandleStanza may return a stanza.Error which, if st is a query, is sent back
// to the remote entity.
type Module interface {
	// ID returns the identifier the module is registered under.
	// It must be unique per module type, normally it is the namespace of the
	// extension.
	ID() string

	Match(st *stanza.Stanza) bool
	HandleStanza(st *stanza.Stanza, w Writer) error
}

// FeatureAdvertiser is implemented by modules that contribute features to
// service discovery.
type FeatureAdvertiser interface {
	Features() []string
}

// Resetter is implemented by modules that keep state which must be cleared on
// stream or session boundaries.
type Resetter interface {
	Reset(scope Scope)
}

// Filter is implemented by modules that observe the stream in both directions
// before normal routing takes place.
type Filter interface {
	Module

	// InterceptIncoming is called for every incoming element before it is
	// routed.
	// If it returns true the element is consumed and no further routing
	// occurs.
	InterceptIncoming(st *stanza.Stanza) (consumed bool)

	// InterceptOutgoing is called for every element immediately before it is
	// placed on the wire.
	// It may add attributes to st but cannot prevent it from being sent.
	InterceptOutgoing(st *stanza.Stanza)
}

// Holder is implemented by filters that may temporarily need outgoing
// application traffic to be held back (for example while a stream is being
// resumed).
type Holder interface {
	Holding() bool
}

// HandlerFunc is the signature of a function that handles a stanza.
type HandlerFunc func(st *stanza.Stanza, w Writer) error

type funcModule struct {
	id       string
	c        Criteria
	f        HandlerFunc
	features []string
}

func (m funcModule) ID() string                   { return m.id }
func (m funcModule) Match(st *stanza.Stanza) bool { return m.c.Match(st) }
func (m funcModule) Features() []string           { return m.features }
func (m funcModule) HandleStanza(st *stanza.Stanza, w Writer) error {
	return m.f(st, w)
}

// ModuleFunc returns a module that calls f for every stanza matched by c.
func ModuleFunc(id string, c Criteria, f HandlerFunc, features ...string) Module {
	if f == nil {
		panic("mux: nil handler")
	}
	if c == nil {
		panic("mux: nil criteria")
	}
	return funcModule{id: id, c: c, f: f, features: features}
}
