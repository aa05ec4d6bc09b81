// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package attr

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// RandomID generates a new identifier suitable for use as a stanza id.
// Identifiers are ULIDs and are strictly increasing within a process, so two
// calls never return the same value.
// If the OS's entropy pool isn't initialized, or we can't generate random
// numbers for some other reason, RandomID panics.
func RandomID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return randomID(time.Now(), entropy)
}

func randomID(t time.Time, r io.Reader) string {
	return ulid.MustNew(ulid.Timestamp(t), r).String()
}
