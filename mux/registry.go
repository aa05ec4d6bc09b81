// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux

import (
	"errors"
	"fmt"
	"sync"
)

// Errors returned by the registry.
var (
	ErrModuleNotFound  = errors.New("mux: module not found")
	ErrDuplicateModule = errors.New("mux: module already registered")
)

// Policy controls what happens when a module is registered under an
// identifier that is already in use.
type Policy uint8

const (
	// Overwrite replaces the existing module, keeping its position in the
	// registration order.
	Overwrite Policy = iota

	// Reject refuses the registration with ErrDuplicateModule.
	Reject
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case Overwrite:
		return "overwrite"
	case Reject:
		return "reject"
	}
	return fmt.Sprintf("Policy(%d)", uint8(p))
}

// ParsePolicy is the inverse of Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "overwrite":
		return Overwrite, nil
	case "reject":
		return Reject, nil
	}
	return Overwrite, fmt.Errorf("mux: unknown duplicate module policy %q", s)
}

// Registry is a keyed store of modules.
// Iteration always happens in registration order.
//
// Registration is expected to happen on the session goroutine (or before the
// session starts), lookups are safe from any goroutine.
type Registry struct {
	mu     sync.RWMutex
	policy Policy
	order  []string
	mods   map[string]Module
	snap   []Module
}

// NewRegistry returns an empty registry that handles duplicate identifiers
// according to p.
func NewRegistry(p Policy) *Registry {
	return &Registry{
		policy: p,
		mods:   make(map[string]Module),
	}
}

// Register stores m under m.ID().
// Registering a nil module panics.
func (r *Registry) Register(m Module) error {
	if m == nil {
		panic("mux: nil module")
	}
	id := m.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mods[id]; ok {
		if r.policy == Reject {
			return fmt.Errorf("%w: %s", ErrDuplicateModule, id)
		}
	} else {
		r.order = append(r.order, id)
	}
	r.mods[id] = m
	r.rebuild()
	return nil
}

// Unregister removes the module registered under id and reports whether there
// was one.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mods[id]; !ok {
		return false
	}
	delete(r.mods, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.rebuild()
	return true
}

// rebuild must be called with the write lock held.
func (r *Registry) rebuild() {
	snap := make([]Module, 0, len(r.order))
	for _, id := range r.order {
		snap = append(snap, r.mods[id])
	}
	r.snap = snap
}

// Module returns the module registered under id.
// If no such module exists the error wraps ErrModuleNotFound.
func (r *Registry) Module(id string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mods[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	return m, nil
}

// Lookup returns the module registered under id as a T.
// If the module does not exist, or is not a T, the error wraps
// ErrModuleNotFound.
func Lookup[T Module](r *Registry, id string) (T, error) {
	var zero T
	m, err := r.Module(id)
	if err != nil {
		return zero, err
	}
	t, ok := m.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s has type %T", ErrModuleNotFound, id, m)
	}
	return t, nil
}

// Modules returns the registered modules in registration order.
// The returned slice must not be modified.
func (r *Registry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Filters returns the registered modules that are stream filters in
// registration order.
func (r *Registry) Filters() []Filter {
	var f []Filter
	for _, m := range r.Modules() {
		if filter, ok := m.(Filter); ok {
			f = append(f, filter)
		}
	}
	return f
}

// Features returns the union of the features advertised by all modules in
// registration order without duplicates.
func (r *Registry) Features() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range r.Modules() {
		adv, ok := m.(FeatureAdvertiser)
		if !ok {
			continue
		}
		for _, f := range adv.Features() {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
