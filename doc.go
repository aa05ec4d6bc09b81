// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xclient implements the session core of an XMPP client.
//
// A Session owns the modules registered for a logical session, the event bus
// they use to notify one another, the request correlator, and the current
// transport.
// The logical session outlives individual transport connections when stream
// management resumption is used.
//
// All session state is mutated on a single goroutine, the one running Run.
// Methods of Session that are documented as safe for concurrent use post work
// to that goroutine, everything else (the Writer handed to modules, event
// handlers, request callbacks, and timers) already runs on it.
//
// Transport I/O is not handled by this package.
// A transport calls Connected once a stream is ready for stanzas, Deliver (or
// Serve) with incoming stanzas, and Disconnected when the stream is lost.
// Outgoing stanzas are encoded and handed to Transport.Send.
package xclient // import "mellium.im/xclient"
