// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sm

import (
	"strconv"
	"testing"

	"mellium.im/xclient/stanza"
)

func msg(i int) *stanza.Stanza {
	st := stanza.New(stanza.NewElement("jabber:client", "message"))
	st.SetAttr("id", strconv.Itoa(i))
	return st
}

func ids(q *queue) []string {
	var out []string
	for _, st := range q.Items() {
		out = append(out, st.ID())
	}
	return out
}

func TestQueueWrap(t *testing.T) {
	var q queue
	next := 0
	// Interleave pushes and drops so the ring wraps several times and grows
	// while wrapped.
	for round := 0; round < 10; round++ {
		for i := 0; i < 5; i++ {
			q.Push(msg(next))
			next++
		}
		q.Drop(3)
	}
	if q.Len() != 20 {
		t.Fatalf("wrong length: %d", q.Len())
	}
	got := ids(&q)
	for i, id := range got {
		if want := strconv.Itoa(30 + i); id != want {
			t.Fatalf("entry %d out of order: want=%s, got=%s (%v)", i, want, id, got)
		}
	}
}

func TestQueueDropMoreThanLen(t *testing.T) {
	var q queue
	q.Push(msg(1))
	q.Push(msg(2))
	q.Drop(5)
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
	q.Push(msg(3))
	if got := ids(&q); len(got) != 1 || got[0] != "3" {
		t.Errorf("unexpected contents after reuse: %v", got)
	}
}

func TestQueueClear(t *testing.T) {
	var q queue
	for i := 0; i < 10; i++ {
		q.Push(msg(i))
	}
	q.Clear()
	if q.Len() != 0 || len(q.Items()) != 0 {
		t.Errorf("queue not cleared")
	}
	for _, st := range q.buf {
		if st != nil {
			t.Fatalf("cleared queue still references stanzas")
		}
	}
}
