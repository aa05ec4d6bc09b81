// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sm

import (
	"time"

	"github.com/rs/zerolog"

	"mellium.im/xclient/metrics"
	"mellium.im/xclient/store"
)

// Default tuning values.
const (
	DefaultAckThreshold     = 5
	DefaultRequestThreshold = 3
	DefaultRequestInterval  = time.Second
	DefaultAnswerDelay      = 100 * time.Millisecond
)

// Option configures an Engine.
type Option func(*Engine)

// Logger sets the logger.
// By default the logger of the session the engine is attached to is used.
func Logger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = l
		e.hasLog = true
	}
}

// Metrics records engine metrics to c.
// By default the collector of the session the engine is attached to is used.
func Metrics(c *metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = c
	}
}

// Store persists resumption state under key.
func Store(s store.Store, key string) Option {
	return func(e *Engine) {
		e.store = s
		e.key = key
	}
}

// Clock sets the function used to read the current time.
func Clock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// AckThreshold is the number of stanzas received without acknowledging them
// after which an acknowledgement is sent unprompted.
func AckThreshold(n uint32) Option {
	return func(e *Engine) {
		if n > 0 {
			e.ackThreshold = n
		}
	}
}

// RequestThreshold is the number of unacknowledged outgoing stanzas above
// which an acknowledgement is requested.
func RequestThreshold(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.requestThreshold = n
		}
	}
}

// RequestInterval is the minimum time between two acknowledgement requests.
func RequestInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.requestInterval = d
		}
	}
}

// AnswerDelay is how long the engine waits before answering an
// acknowledgement request.
func AnswerDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.answerDelay = d
		}
	}
}

// MaxResumption is the resumption timeout requested from the peer when
// Enable is called with a zero max.
func MaxResumption(d time.Duration) Option {
	return func(e *Engine) {
		e.maxHint = d
	}
}
