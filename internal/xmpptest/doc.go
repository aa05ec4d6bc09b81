// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpptest provides fakes and helpers for testing sessions and
// modules.
package xmpptest // import "mellium.im/xclient/internal/xmpptest"
