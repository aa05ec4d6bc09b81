// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package store persists stream management resumption state so that a stream
// can be resumed after the process restarts.
package store // import "mellium.im/xclient/store"

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load when no state is stored under a key.
var ErrNotFound = errors.New("store: state not found")

var errEmptyKey = errors.New("store: empty key")

// State is the resumable part of a stream management session.
type State struct {
	// Key identifies the session, normally the bare JID of the account.
	Key string

	ResumptionID string
	Location     string
	Max          time.Duration

	// Deadline is the time after which the peer no longer guarantees that the
	// stream can be resumed, or the zero time if it is unknown.
	Deadline time.Time

	// In is the number of stanzas received, Out the number sent, and Acked the
	// last count acknowledged by the peer.
	In, Out, Acked uint32

	// Queue holds the encoded stanzas that were sent but not acknowledged in the
	// order they were sent.
	Queue []string

	Updated time.Time
}

// Store loads and saves resumption state.
type Store interface {
	Load(ctx context.Context, key string) (State, error)
	Save(ctx context.Context, st State) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]State, error)
}
