// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xclient

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mellium.im/xclient/event"
	"mellium.im/xclient/metrics"
	"mellium.im/xclient/mux"
	"mellium.im/xclient/stanza"
)

// Attacher is implemented by modules that need a reference to the session they
// are registered with.
// Attach is called once, during registration.
type Attacher interface {
	Attach(s *Session)
}

// A Session is the per-account container for modules, the event bus, pending
// requests, and the connection they share.
// The zero value is not usable, sessions must be created with New.
type Session struct {
	t          Transport
	log        zerolog.Logger
	policy     mux.Policy
	reqTimeout time.Duration
	metrics    *metrics.Collector
	initial    []mux.Module

	reg  *mux.Registry
	bus  event.Bus
	disp *mux.Dispatcher

	qmu     sync.Mutex
	queue   []func()
	qclosed bool
	wake    chan struct{}

	runMu        sync.Mutex
	running      bool
	ended        bool
	closeCalled  bool
	stop         chan struct{}
	stopOnce     sync.Once
	shutdownOnce sync.Once
	finished     chan struct{}

	// Owned by the session goroutine.
	closed       bool
	connected    bool
	held         []*stanza.Stanza
	pending      map[string]*request
	seq          uint64
	peerFeatures []string
}

// New creates a session that writes outgoing stanzas to t.
// The session does nothing until Run is called.
func New(t Transport, opts ...Option) *Session {
	s := &Session{
		t:          t,
		log:        zerolog.Nop(),
		reqTimeout: DefaultRequestTimeout,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		finished:   make(chan struct{}),
		pending:    make(map[string]*request),
	}
	for _, o := range opts {
		o(s)
	}
	s.reg = mux.NewRegistry(s.policy)
	s.disp = mux.NewDispatcher(s.reg, writer{s: s},
		mux.WithCorrelator(correlator{s: s}),
		mux.WithLogger(s.log),
		mux.OnFailure(s.moduleFailed),
	)
	for _, m := range s.initial {
		if err := s.Register(m); err != nil {
			s.log.Error().Err(err).Str("module", m.ID()).Msg("registering module")
		}
	}
	s.initial = nil
	return s
}

// Register adds m to the session's module registry and, if m is an Attacher,
// attaches it to the session.
// It is safe for concurrent use but is normally called before Run.
func (s *Session) Register(m mux.Module) error {
	if err := s.reg.Register(m); err != nil {
		return err
	}
	if a, ok := m.(Attacher); ok {
		a.Attach(s)
	}
	s.log.Debug().Str("module", m.ID()).Msg("registered module")
	return nil
}

// Module returns the module registered under id.
// If no such module exists the error wraps mux.ErrModuleNotFound.
func (s *Session) Module(id string) (mux.Module, error) {
	return s.reg.Module(id)
}

// ModuleOf returns the module registered under id as a T.
func ModuleOf[T mux.Module](s *Session, id string) (T, error) {
	return mux.Lookup[T](s.reg, id)
}

// Modules returns the registered modules in registration order.
func (s *Session) Modules() []mux.Module {
	return s.reg.Modules()
}

// Features returns the union of the features advertised by every registered
// module.
func (s *Session) Features() []string {
	return s.reg.Features()
}

// Bus returns the event bus shared by the session's modules.
func (s *Session) Bus() *event.Bus {
	return &s.bus
}

// Logger returns the session logger.
func (s *Session) Logger() zerolog.Logger {
	return s.log
}

// Metrics returns the collector the session was configured with, possibly
// nil.
func (s *Session) Metrics() *metrics.Collector {
	return s.metrics
}

// Run processes session work until ctx is canceled or Close is called.
// When Run returns the session has been shut down: every pending request has
// been failed and the stream scope has been reset.
// If the session was stopped by Close, including a Close that happened before
// Run started, Run returns nil.
// Running a session that was stopped by a canceled context returns
// ErrSessionClosed.
func (s *Session) Run(ctx context.Context) error {
	s.runMu.Lock()
	switch {
	case s.running:
		s.runMu.Unlock()
		return ErrAlreadyRunning
	case s.ended:
		closeCalled := s.closeCalled
		s.runMu.Unlock()
		if closeCalled {
			return nil
		}
		return ErrSessionClosed
	}
	s.running = true
	s.runMu.Unlock()
	defer func() {
		s.runMu.Lock()
		s.running = false
		s.ended = true
		s.runMu.Unlock()
	}()

	s.log.Debug().Msg("session started")
	for {
		s.drain()
		select {
		case <-s.wake:
		case <-s.stop:
			s.shutdown()
			return nil
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		}
	}
}

// Close shuts the session down and waits for it to stop.
// Pending requests fail with ErrSessionClosed.
// If Run is not running the session is shut down on the calling goroutine.
// Close must not be called from the session goroutine.
func (s *Session) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.runMu.Lock()
	s.closeCalled = true
	if s.running {
		s.runMu.Unlock()
		<-s.finished
		return nil
	}
	s.ended = true
	s.runMu.Unlock()
	s.shutdown()
	return nil
}

// Done returns a channel that is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} {
	return s.finished
}

func (s *Session) shutdown() {
	s.shutdownOnce.Do(func() {
		s.stopOnce.Do(func() { close(s.stop) })
		s.qmu.Lock()
		s.qclosed = true
		s.qmu.Unlock()

		// Work that was already queued still runs so that every continuation it
		// carries is completed, it will observe the closed session and fail.
		s.closed = true
		s.drain()
		s.failPending(ErrSessionClosed)
		s.reset(mux.StreamScope)
		s.connected = false
		s.held = nil
		close(s.finished)
		s.log.Debug().Msg("session closed")
	})
}

// Post schedules f to run on the session goroutine and reports whether it was
// scheduled.
// Tasks run in the order they were posted.
// Once the session has shut down Post returns false and f is never called.
// It is safe for concurrent use.
func (s *Session) Post(f func()) bool {
	s.qmu.Lock()
	if s.qclosed {
		s.qmu.Unlock()
		return false
	}
	s.queue = append(s.queue, f)
	s.qmu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs f on the session goroutine and waits for it to complete.
// It is safe for concurrent use, but calling it from the session goroutine
// deadlocks.
func (s *Session) Do(ctx context.Context, f func()) error {
	done := make(chan struct{})
	if !s.Post(func() {
		defer close(done)
		f()
	}) {
		return ErrSessionClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.finished:
		select {
		case <-done:
			return nil
		default:
			return ErrSessionClosed
		}
	}
}

// AfterFunc runs f on the session goroutine after d has elapsed.
// The returned function stops the timer, if f has not been scheduled yet it
// will never run.
func (s *Session) AfterFunc(d time.Duration, f func()) (stop func() bool) {
	t := time.AfterFunc(d, func() {
		s.Post(f)
	})
	return t.Stop
}

func (s *Session) drain() {
	for {
		s.qmu.Lock()
		tasks := s.queue
		s.queue = nil
		s.qmu.Unlock()
		if len(tasks) == 0 {
			return
		}
		for _, f := range tasks {
			f()
		}
	}
}

// Reset resets the given scope on every module.
// A stream reset fails pending requests with ErrDisconnected.
// It is safe for concurrent use.
func (s *Session) Reset(scope mux.Scope) {
	s.Post(func() {
		if s.closed {
			return
		}
		s.reset(scope)
	})
}

// Logout resets the session scope, discarding all state kept for the logical
// session including stream management resumption state.
// It is safe for concurrent use.
func (s *Session) Logout() {
	s.Reset(mux.StreamScope | mux.SessionScope)
}

func (s *Session) reset(scope mux.Scope) {
	if scope&mux.SessionScope != 0 {
		scope |= mux.StreamScope
	}
	s.log.Debug().Uint8("scope", uint8(scope)).Msg("resetting session state")
	if scope&mux.StreamScope != 0 {
		s.failPending(ErrDisconnected)
		if len(s.peerFeatures) > 0 {
			s.peerFeatures = nil
			s.bus.Publish(FeaturesChangedEvent{})
		}
	}
	for _, m := range s.reg.Modules() {
		if r, ok := m.(mux.Resetter); ok {
			r.Reset(scope)
		}
	}
	if scope&mux.SessionScope != 0 {
		s.held = nil
	}
	s.bus.Publish(SessionResetEvent{Scope: scope})
}

func (s *Session) moduleFailed(m mux.Module, st *stanza.Stanza, err error) {
	s.metrics.ModuleFailure(m.ID())
	s.bus.Publish(ModuleFailedEvent{
		Module: m.ID(),
		Stanza: st,
		Err:    err,
	})
}

// PeerFeatures returns the features advertised by the peer on the current
// stream.
// It must be called from the session goroutine.
func (s *Session) PeerFeatures() []string {
	return s.peerFeatures
}

// AddPeerFeatures merges features into the set advertised by the peer and
// publishes FeaturesChanged if the set grew.
// It is safe for concurrent use.
func (s *Session) AddPeerFeatures(features ...string) {
	s.Post(func() {
		if s.closed {
			return
		}
		changed := false
		for _, f := range features {
			if containsString(s.peerFeatures, f) {
				continue
			}
			s.peerFeatures = append(s.peerFeatures, f)
			changed = true
		}
		if changed {
			s.log.Debug().Strs("features", s.peerFeatures).Msg("peer features changed")
			s.bus.Publish(FeaturesChangedEvent{Features: append([]string(nil), s.peerFeatures...)})
		}
	})
}

func containsString(l []string, s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}
