// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sm

import (
	"mellium.im/xclient/stanza"
)

// queue is a FIFO ring buffer of unacknowledged stanzas.
type queue struct {
	buf  []*stanza.Stanza
	head int
	n    int
}

func (q *queue) Len() int { return q.n }

func (q *queue) Push(st *stanza.Stanza) {
	if q.n == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.n)%len(q.buf)] = st
	q.n++
}

func (q *queue) grow() {
	size := 2 * len(q.buf)
	if size == 0 {
		size = 8
	}
	buf := make([]*stanza.Stanza, size)
	for i := 0; i < q.n; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
}

// At returns the i'th oldest entry.
func (q *queue) At(i int) *stanza.Stanza {
	return q.buf[(q.head+i)%len(q.buf)]
}

// Drop removes up to n entries from the head.
func (q *queue) Drop(n int) {
	if n > q.n {
		n = q.n
	}
	for i := 0; i < n; i++ {
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
	}
	q.n -= n
	if q.n == 0 {
		q.head = 0
	}
}

// Items returns the entries in order.
func (q *queue) Items() []*stanza.Stanza {
	out := make([]*stanza.Stanza, 0, q.n)
	for i := 0; i < q.n; i++ {
		out = append(out, q.At(i))
	}
	return out
}

func (q *queue) Clear() {
	clear(q.buf)
	q.head = 0
	q.n = 0
}
