// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store.
// The zero value is ready to use.
type Memory struct {
	mu     sync.Mutex
	states map[string]State
}

// Load returns the state stored under key.
func (m *Memory) Load(_ context.Context, key string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[key]
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return clone(st), nil
}

// Save stores st under st.Key, replacing any previous state.
func (m *Memory) Save(_ context.Context, st State) error {
	if st.Key == "" {
		return errEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states == nil {
		m.states = make(map[string]State)
	}
	st = clone(st)
	if st.Updated.IsZero() {
		st.Updated = time.Now().UTC()
	}
	m.states[st.Key] = st
	return nil
}

// Delete removes the state stored under key, if any.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key)
	return nil
}

// List returns all stored states ordered by key.
func (m *Memory) List(_ context.Context) ([]State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, clone(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func clone(st State) State {
	st.Queue = append([]string(nil), st.Queue...)
	return st
}
