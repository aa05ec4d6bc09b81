// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xclient

import (
	"time"

	"github.com/rs/zerolog"

	"mellium.im/xclient/metrics"
	"mellium.im/xclient/mux"
)

// DefaultRequestTimeout is used by SendRequest when no timeout is given.
const DefaultRequestTimeout = 30 * time.Second

// Option configures a Session.
type Option func(*Session)

// Logger sets the logger used by the session and handed to modules.
func Logger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// RequestTimeout sets the default deadline for outgoing requests.
// Values less than or equal to zero are ignored.
func RequestTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.reqTimeout = d
		}
	}
}

// DuplicatePolicy sets how the module registry handles a second registration
// under the same identifier.
func DuplicatePolicy(p mux.Policy) Option {
	return func(s *Session) {
		s.policy = p
	}
}

// Metrics records session metrics to c.
func Metrics(c *metrics.Collector) Option {
	return func(s *Session) {
		s.metrics = c
	}
}

// Modules registers modules when the session is created.
// Registration errors (only possible with the Reject policy) are logged.
func Modules(m ...mux.Module) Option {
	return func(s *Session) {
		s.initial = append(s.initial, m...)
	}
}
