// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xclient

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"

	"mellium.im/xclient/internal/ns"
	"mellium.im/xclient/metrics"
	"mellium.im/xclient/mux"
	"mellium.im/xclient/stanza"
)

// Transport writes encoded stanzas to the underlying connection.
type Transport interface {
	Send(p []byte) error
}

// The TransportFunc type is an adapter to allow the use of ordinary functions
// as transports.
type TransportFunc func(p []byte) error

// Send calls f(p).
func (f TransportFunc) Send(p []byte) error {
	return f(p)
}

// writer is the mux.Writer handed to modules.
type writer struct {
	s *Session
}

func (w writer) Send(st *stanza.Stanza) error {
	return w.s.send(st)
}

// Connected notifies the session that a stream is ready for stanzas.
// Held outgoing traffic is flushed unless a stream filter is holding it.
// It is safe for concurrent use.
func (s *Session) Connected() {
	s.Post(func() {
		if s.closed {
			return
		}
		s.connected = true
		s.log.Debug().Msg("stream connected")
		s.bus.Publish(ConnectedEvent{})
		s.Flush()
	})
}

// Disconnected notifies the session that the stream was lost.
// The stream scope is reset and pending requests fail with ErrDisconnected.
// It is safe for concurrent use.
func (s *Session) Disconnected(reason error) {
	s.Post(func() {
		if s.closed {
			return
		}
		s.connected = false
		s.log.Debug().AnErr("reason", reason).Msg("stream disconnected")
		s.reset(mux.StreamScope)
		s.bus.Publish(DisconnectedEvent{Reason: reason})
	})
}

// Deliver routes an incoming stanza and reports whether it was accepted.
// It is safe for concurrent use.
func (s *Session) Deliver(st *stanza.Stanza) bool {
	return s.Post(func() {
		if s.closed {
			return
		}
		route := s.disp.Incoming(st)
		s.metrics.Stanza(metrics.In, route.String())
	})
}

// Serve decodes top level elements from r and delivers them to the session
// until the stream is closed or an error occurs.
// r should be positioned inside the stream, the stream header, if present, is
// skipped.
// Stream features are recorded as peer features and a stream error is returned
// as a StreamError.
// If the peer closes the stream ErrStreamClosed is returned, if r is exhausted
// first Serve returns nil.
func (s *Session) Serve(r xml.TokenReader) error {
	for {
		tok, err := r.Token()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space == ns.Stream {
				if t.Name.Local == "stream" {
					continue
				}
				el, err := stanza.Decode(r, &t)
				if err != nil {
					return err
				}
				switch t.Name.Local {
				case "features":
					features := make([]string, 0, len(el.Children))
					for _, c := range el.Children {
						features = append(features, c.Name.Space)
					}
					s.AddPeerFeatures(features...)
					continue
				case "error":
					return decodeStreamError(el)
				}
				return fmt.Errorf("xclient: unsupported stream element %s", t.Name.Local)
			}
			el, err := stanza.Decode(r, &t)
			if err != nil {
				return err
			}
			if !s.Deliver(stanza.New(el)) {
				return ErrSessionClosed
			}
		case xml.EndElement:
			if t.Name.Space == ns.Stream && t.Name.Local == "stream" {
				return ErrStreamClosed
			}
			return fmt.Errorf("xclient: unexpected end element %s", t.Name.Local)
		case xml.CharData:
			// Whitespace keepalives.
			if len(bytes.TrimSpace(t)) != 0 {
				return fmt.Errorf("xclient: unexpected character data at stream level")
			}
		}
	}
}

func decodeStreamError(el *stanza.Element) error {
	var se StreamError
	for _, c := range el.Children {
		if c.Name.Local == "text" {
			se.Text = c.Text
			continue
		}
		if se.Condition == "" {
			se.Condition = c.Name.Local
		}
	}
	if se.Condition == "" {
		se.Condition = "undefined-condition"
	}
	return se
}

// send is the module facing write path.
// Application traffic is held while the stream is down or a filter requires
// it, and is otherwise transmitted in order.
func (s *Session) send(st *stanza.Stanza) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.connected || len(s.held) > 0 || s.holding() {
		s.held = append(s.held, st)
		return nil
	}
	return s.Transmit(st)
}

func (s *Session) holding() bool {
	for _, f := range s.reg.Filters() {
		if h, ok := f.(mux.Holder); ok && h.Holding() {
			return true
		}
	}
	return false
}

// Send queues st for transmission.
// Errors from the transport are logged, not returned.
// It is safe for concurrent use.
func (s *Session) Send(st *stanza.Stanza) error {
	if !s.Post(func() {
		if err := s.send(st); err != nil {
			s.log.Error().Err(err).Str("stanza", st.Name()).Str("id", st.ID()).Msg("sending stanza")
		}
	}) {
		return ErrSessionClosed
	}
	return nil
}

// Flush transmits held application traffic if nothing prevents it.
// Filters that stop holding call it to release traffic.
// It must be called from the session goroutine.
func (s *Session) Flush() {
	for len(s.held) > 0 && s.connected && !s.closed && !s.holding() {
		st := s.held[0]
		s.held[0] = nil
		s.held = s.held[1:]
		if err := s.Transmit(st); err != nil {
			s.log.Error().Err(err).Str("stanza", st.Name()).Str("id", st.ID()).Msg("flushing held stanza")
		}
	}
}

// Transmit offers st to the stream filters and writes it to the transport
// immediately, bypassing held traffic.
// It is meant for stream filters sending their own protocol elements.
// It must be called from the session goroutine.
func (s *Session) Transmit(st *stanza.Stanza) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.connected {
		return ErrDisconnected
	}
	s.disp.Outgoing(st)
	return s.write(st)
}

// Replay writes st to the transport without offering it to the stream
// filters.
// It is used to retransmit stanzas that were already counted.
// It must be called from the session goroutine.
func (s *Session) Replay(st *stanza.Stanza) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.connected {
		return ErrDisconnected
	}
	return s.write(st)
}

func (s *Session) write(st *stanza.Stanza) error {
	b, err := st.Element().MarshalText()
	if err != nil {
		return err
	}
	s.metrics.Stanza(metrics.Out, st.Name())
	return s.t.Send(b)
}

// IsConnected reports whether the transport is currently connected.
// It must be called from the session goroutine.
func (s *Session) IsConnected() bool {
	return s.connected
}
