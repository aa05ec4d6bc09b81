// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sm

import (
	"time"

	"mellium.im/xclient/event"
	"mellium.im/xclient/stanza"
)

// Event kinds published by the engine.
var (
	Enabled = event.NewKind("sm-enabled")
	Resumed = event.NewKind("sm-resumed")
	Failed  = event.NewKind("sm-failed")
)

// EnabledEvent is published when the peer confirms that stream management is
// enabled.
type EnabledEvent struct {
	Resume   bool
	ID       string
	Location string
	Max      time.Duration
}

// Kind satisfies event.Event.
func (EnabledEvent) Kind() event.Kind { return Enabled }

// ResumedEvent is published after a stream has been resumed and unacknowledged
// stanzas have been retransmitted.
type ResumedEvent struct {
	H        uint32
	ID       string
	Replayed int
}

// Kind satisfies event.Event.
func (ResumedEvent) Kind() event.Kind { return Resumed }

// FailedEvent is published when the peer rejects enabling or resuming the
// stream.
type FailedEvent struct {
	Condition stanza.Condition
	Resuming  bool
}

// Kind satisfies event.Event.
func (FailedEvent) Kind() event.Kind { return Failed }
