// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xclient

import (
	"mellium.im/xclient/event"
	"mellium.im/xclient/mux"
	"mellium.im/xclient/stanza"
)

// Event kinds published by the session.
var (
	Connected       = event.NewKind("connected")
	Disconnected    = event.NewKind("disconnected")
	ModuleFailed    = event.NewKind("module-failed")
	FeaturesChanged = event.NewKind("features-changed")
	SessionReset    = event.NewKind("session-reset")
)

// ConnectedEvent is published when a transport reports that a stream is ready.
type ConnectedEvent struct{}

// Kind satisfies event.Event.
func (ConnectedEvent) Kind() event.Kind { return Connected }

// DisconnectedEvent is published after the stream scope has been reset because
// the transport was lost.
type DisconnectedEvent struct {
	Reason error
}

// Kind satisfies event.Event.
func (DisconnectedEvent) Kind() event.Kind { return Disconnected }

// ModuleFailedEvent is published when a module returns an error for a stanza.
type ModuleFailedEvent struct {
	Module string
	Stanza *stanza.Stanza
	Err    error
}

// Kind satisfies event.Event.
func (ModuleFailedEvent) Kind() event.Kind { return ModuleFailed }

// FeaturesChangedEvent is published whenever the set of features advertised by
// the peer changes.
type FeaturesChangedEvent struct {
	Features []string
}

// Kind satisfies event.Event.
func (FeaturesChangedEvent) Kind() event.Kind { return FeaturesChanged }

// Has reports whether feature is in the advertised set.
func (e FeaturesChangedEvent) Has(feature string) bool {
	for _, f := range e.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// SessionResetEvent is published after modules have been reset.
type SessionResetEvent struct {
	Scope mux.Scope
}

// Kind satisfies event.Event.
func (SessionResetEvent) Kind() event.Kind { return SessionReset }
