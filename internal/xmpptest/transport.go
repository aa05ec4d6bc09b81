// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"sync"

	"mellium.im/xclient/stanza"
)

// Transport records every payload written to it.
// It is safe for concurrent use.
type Transport struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

// Send records p and returns the error set with Fail, if any.
func (t *Transport) Send(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, append([]byte(nil), p...))
	return nil
}

// Fail makes future calls to Send return err.
// A nil error restores normal operation.
func (t *Transport) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// Len returns the number of recorded payloads.
func (t *Transport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// Strings returns the recorded payloads.
func (t *Transport) Strings() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.sent))
	for _, p := range t.sent {
		out = append(out, string(p))
	}
	return out
}

// Stanzas decodes the recorded payloads.
// Payloads that cannot be decoded are skipped.
func (t *Transport) Stanzas() []*stanza.Stanza {
	var out []*stanza.Stanza
	for _, s := range t.Strings() {
		st, err := stanza.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	return out
}

// Reset discards the recorded payloads.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}
