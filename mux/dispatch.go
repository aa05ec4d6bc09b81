// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux

import (
	"errors"

	"github.com/rs/zerolog"

	"mellium.im/xclient/stanza"
)

// Route describes what the dispatcher did with an incoming stanza.
type Route uint8

// A list of routes.
const (
	// Filtered stanzas were consumed by a stream filter.
	Filtered Route = iota

	// Correlated stanzas were responses to a pending request.
	Correlated

	// Handled stanzas were processed by every matching module without error.
	Handled

	// Unhandled stanzas matched no module.
	// Unhandled queries have been answered with feature-not-implemented.
	Unhandled

	// Failed stanzas matched at least one module that returned an error.
	Failed
)

// String returns a lower case name for the route suitable for metric labels.
func (r Route) String() string {
	switch r {
	case Filtered:
		return "filtered"
	case Correlated:
		return "correlated"
	case Handled:
		return "handled"
	case Unhandled:
		return "unhandled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Correlator resolves responses to outstanding requests.
type Correlator interface {
	// Resolve is called for result and error type stanzas with an id.
	// It reports whether the stanza completed a pending request.
	Resolve(st *stanza.Stanza) bool
}

// DispatchOption configures a Dispatcher.
type DispatchOption func(*Dispatcher)

// WithCorrelator sets the correlator that is consulted for responses.
func WithCorrelator(c Correlator) DispatchOption {
	return func(d *Dispatcher) {
		d.corr = c
	}
}

// WithLogger sets the logger used to report module failures.
func WithLogger(l zerolog.Logger) DispatchOption {
	return func(d *Dispatcher) {
		d.log = l
	}
}

// OnFailure registers a function that is called whenever a module returns an
// error.
func OnFailure(f func(m Module, st *stanza.Stanza, err error)) DispatchOption {
	return func(d *Dispatcher) {
		d.onFailure = f
	}
}

// Dispatcher routes stanzas between the stream and registered modules.
// It is not safe for concurrent use, all calls must happen on the session
// goroutine.
type Dispatcher struct {
	reg       *Registry
	w         Writer
	corr      Correlator
	log       zerolog.Logger
	onFailure func(Module, *stanza.Stanza, error)
}

// NewDispatcher returns a dispatcher that routes to modules in reg and sends
// synthesized responses using w.
func NewDispatcher(reg *Registry, w Writer, opts ...DispatchOption) *Dispatcher {
	d := &Dispatcher{
		reg: reg,
		w:   w,
		log: zerolog.Nop(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Incoming routes a stanza received from the stream.
func (d *Dispatcher) Incoming(st *stanza.Stanza) Route {
	for _, f := range d.reg.Filters() {
		if f.InterceptIncoming(st) {
			return Filtered
		}
	}

	typ := st.Type()
	if typ.IsResponse() && st.ID() != "" && d.corr != nil && d.corr.Resolve(st) {
		return Correlated
	}

	if typ.IsQuery() {
		return d.query(st)
	}

	route := Unhandled
	for _, m := range d.reg.Modules() {
		if !m.Match(st) {
			continue
		}
		if route == Unhandled {
			route = Handled
		}
		if err := m.HandleStanza(st, d.w); err != nil {
			route = Failed
			d.fail(m, st, err)
		}
	}
	return route
}

func (d *Dispatcher) query(st *stanza.Stanza) Route {
	var handler Module
	for _, m := range d.reg.Modules() {
		if !m.Match(st) {
			continue
		}
		if handler != nil {
			d.log.Warn().
				Str("module", m.ID()).
				Str("handler", handler.ID()).
				Str("id", st.ID()).
				Msg("query matched more than one module, ignoring")
			continue
		}
		handler = m
	}
	if handler == nil {
		d.respond(st, stanza.Error{
			Type:      stanza.Cancel,
			Condition: stanza.FeatureNotImplemented,
		})
		return Unhandled
	}

	err := handler.HandleStanza(st, d.w)
	if err == nil {
		return Handled
	}
	var se stanza.Error
	if !errors.As(err, &se) {
		se = stanza.Error{Condition: stanza.UndefinedCondition}
	}
	if se.Type == "" {
		se.Type = stanza.Cancel
	}
	d.fail(handler, st, err)
	d.respond(st, se)
	return Failed
}

func (d *Dispatcher) respond(st *stanza.Stanza, se stanza.Error) {
	if err := d.w.Send(st.ErrorResponse(se)); err != nil {
		d.log.Error().Err(err).Str("id", st.ID()).Msg("sending error response")
	}
}

func (d *Dispatcher) fail(m Module, st *stanza.Stanza, err error) {
	d.log.Error().
		Err(err).
		Str("module", m.ID()).
		Str("stanza", st.Name()).
		Str("type", string(st.Type())).
		Str("id", st.ID()).
		Msg("module failed to handle stanza")
	if d.onFailure != nil {
		d.onFailure(m, st, err)
	}
}

// Outgoing offers st to every stream filter immediately before it is written
// to the stream.
func (d *Dispatcher) Outgoing(st *stanza.Stanza) {
	for _, f := range d.reg.Filters() {
		f.InterceptOutgoing(st)
	}
}
