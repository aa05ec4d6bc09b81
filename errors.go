// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xclient

import (
	"errors"
)

// Local failures returned by the session.
// They are never sent over the wire.
var (
	ErrRequestTimeout   = errors.New("xclient: request timed out")
	ErrDisconnected     = errors.New("xclient: stream disconnected")
	ErrSessionClosed    = errors.New("xclient: session closed")
	ErrDuplicateRequest = errors.New("xclient: request id already pending")
	ErrAlreadyRunning   = errors.New("xclient: session already running")
	ErrStreamClosed     = errors.New("xclient: stream closed by peer")
)

// StreamError is returned by Serve when the peer sends a stream level error.
type StreamError struct {
	Condition string
	Text      string
}

// Error satisfies the error interface.
func (e StreamError) Error() string {
	if e.Text != "" {
		return "xclient: stream error " + e.Condition + ": " + e.Text
	}
	return "xclient: stream error " + e.Condition
}
