// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xclient

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"mellium.im/xclient/internal/attr"
	"mellium.im/xclient/stanza"
)

var errNotQuery = errors.New("xclient: SendIQ requires a get or set IQ")

// request is an entry in the correlation table.
type request struct {
	id   string
	name string
	seq  uint64
	cb   func(*stanza.Stanza, error)
	stop func() bool
}

// correlator resolves responses against the session's pending requests.
type correlator struct {
	s *Session
}

func (c correlator) Resolve(st *stanza.Stanza) bool {
	req, ok := c.s.pending[st.ID()]
	if !ok || req.name != st.Name() {
		return false
	}
	if st.Type() == stanza.ErrorIQ {
		se, ok := st.Error()
		if !ok {
			se = stanza.Error{Type: stanza.Cancel, Condition: stanza.UndefinedCondition}
		}
		c.s.finish(req, st, se)
		return true
	}
	c.s.finish(req, st, nil)
	return true
}

// SendRequest sends st and calls cb exactly once with the response, or with an
// error if the request times out, the stream is lost, or the session closes.
// If the response is an error stanza, cb receives both the stanza and its
// stanza.Error.
//
// If st has no id a unique one is assigned.
// A timeout of zero uses the session's default request timeout.
// cb is called on the session goroutine and must not block.
// If SendRequest itself returns an error cb is never called.
// It is safe for concurrent use.
func (s *Session) SendRequest(st *stanza.Stanza, timeout time.Duration, cb func(resp *stanza.Stanza, err error)) error {
	if cb == nil {
		cb = func(*stanza.Stanza, error) {}
	}
	if st.ID() == "" {
		st.SetAttr("id", attr.RandomID())
	}
	if timeout <= 0 {
		timeout = s.reqTimeout
	}
	if !s.Post(func() {
		s.request(st, timeout, cb)
	}) {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) request(st *stanza.Stanza, timeout time.Duration, cb func(*stanza.Stanza, error)) {
	id := st.ID()
	switch {
	case s.closed:
		cb(nil, ErrSessionClosed)
		return
	case !s.connected:
		cb(nil, ErrDisconnected)
		return
	}
	if _, ok := s.pending[id]; ok {
		cb(nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, id))
		return
	}

	s.seq++
	req := &request{
		id:   id,
		name: st.Name(),
		seq:  s.seq,
		cb:   cb,
	}
	s.pending[id] = req
	req.stop = s.AfterFunc(timeout, func() {
		s.finish(req, nil, ErrRequestTimeout)
	})
	if err := s.send(st); err != nil {
		s.finish(req, nil, err)
	}
}

// finish resolves req if it is still pending.
// Resolving a request that already completed is a no-op.
func (s *Session) finish(req *request, resp *stanza.Stanza, err error) {
	if s.pending[req.id] != req {
		return
	}
	delete(s.pending, req.id)
	if req.stop != nil {
		req.stop()
	}
	s.metrics.Request(outcome(err))
	if err != nil {
		s.log.Debug().Err(err).Str("id", req.id).Msg("request failed")
	}
	req.cb(resp, err)
}

func (s *Session) cancelRequest(id string, err error) {
	if req, ok := s.pending[id]; ok {
		s.finish(req, nil, err)
	}
}

// failPending fails every pending request with err in the order they were
// issued.
// Held stanzas belonging to the failed requests are dropped.
func (s *Session) failPending(err error) {
	if len(s.pending) == 0 {
		return
	}
	reqs := make([]*request, 0, len(s.pending))
	for _, req := range s.pending {
		reqs = append(reqs, req)
	}
	slices.SortFunc(reqs, func(a, b *request) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	s.pending = make(map[string]*request)

	if len(s.held) > 0 {
		held := s.held[:0]
		for _, st := range s.held {
			if req, ok := findRequest(reqs, st); ok && req.name == st.Name() {
				continue
			}
			held = append(held, st)
		}
		clear(s.held[len(held):])
		s.held = held
	}

	for _, req := range reqs {
		if req.stop != nil {
			req.stop()
		}
		s.metrics.Request(outcome(err))
		req.cb(nil, err)
	}
}

func findRequest(reqs []*request, st *stanza.Stanza) (*request, bool) {
	id := st.ID()
	if id == "" {
		return nil, false
	}
	for _, req := range reqs {
		if req.id == id {
			return req, true
		}
	}
	return nil, false
}

func outcome(err error) string {
	var se stanza.Error
	switch {
	case err == nil:
		return "result"
	case errors.As(err, &se):
		return "error"
	case errors.Is(err, ErrRequestTimeout):
		return "timeout"
	case errors.Is(err, ErrDisconnected):
		return "disconnected"
	case errors.Is(err, ErrSessionClosed):
		return "closed"
	}
	return "canceled"
}

// SendIQ sends a get or set IQ and blocks until a response is received.
// If the response is an error IQ the returned error is its stanza.Error and
// the response is also returned.
// If ctx is canceled before a response arrives the request is abandoned and
// ctx.Err() is returned.
// It is safe for concurrent use but must not be called from the session
// goroutine.
func (s *Session) SendIQ(ctx context.Context, iq *stanza.Stanza) (*stanza.Stanza, error) {
	if iq.Name() != "iq" || !iq.Type().IsQuery() {
		return nil, errNotQuery
	}
	if iq.ID() == "" {
		iq.SetAttr("id", attr.RandomID())
	}
	type result struct {
		st  *stanza.Stanza
		err error
	}
	c := make(chan result, 1)
	err := s.SendRequest(iq, 0, func(resp *stanza.Stanza, err error) {
		c <- result{st: resp, err: err}
	})
	if err != nil {
		return nil, err
	}
	select {
	case r := <-c:
		return r.st, r.err
	case <-ctx.Done():
		id := iq.ID()
		s.Post(func() {
			s.cancelRequest(id, ctx.Err())
		})
		return nil, ctx.Err()
	}
}
