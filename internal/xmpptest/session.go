// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"context"
	"testing"
	"time"

	"mellium.im/xclient"
)

// NewSession creates a session writing to a recording transport, starts its
// loop, and closes it when the test ends.
// The session is marked as connected.
func NewSession(t testing.TB, opts ...xclient.Option) (*xclient.Session, *Transport) {
	t.Helper()
	tr := &Transport{}
	s := xclient.New(tr, opts...)
	errs := make(chan error, 1)
	go func() {
		errs <- s.Run(context.Background())
	}()
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("error closing session: %v", err)
		}
		if err := <-errs; err != nil {
			t.Errorf("unexpected error from Run: %v", err)
		}
	})
	s.Connected()
	Sync(t, s)
	return s, tr
}

// Sync waits until all work posted to the session so far has completed.
func Sync(t testing.TB, s *xclient.Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Do(ctx, func() {}); err != nil {
		t.Fatalf("error waiting for session: %v", err)
	}
}
