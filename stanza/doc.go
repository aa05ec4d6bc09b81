// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stanza contains the data model for XMPP stanzas and stanza level
// errors.
//
// A Stanza is a read-only view over an element tree produced by the parsing
// layer (or built locally for transmission).
// It exposes the addressing, type, and correlation id of the stanza as well as
// its ordered payload.
// Stanza level errors are parsed lazily the first time they are requested.
//
// Elements that are not stanzas (for example the stream management
// acknowledgements) use the same representation, they simply have no
// addressing or type.
package stanza // import "mellium.im/xclient/stanza"
