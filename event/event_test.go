// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package event_test

import (
	"reflect"
	"testing"

	"mellium.im/xclient/event"
)

var (
	kindA = event.NewKind("a")
	kindB = event.NewKind("b")
)

type evt struct {
	k event.Kind
	v int
}

func (e evt) Kind() event.Kind { return e.k }

func TestKindString(t *testing.T) {
	if kindA == kindB {
		t.Fatalf("expected distinct kinds")
	}
	if s := kindA.String(); s != "a" {
		t.Errorf("wrong name: %q", s)
	}
	if s := event.Kind(0).String(); s != "invalid" {
		t.Errorf("wrong name for zero kind: %q", s)
	}
}

func TestPublishOrder(t *testing.T) {
	var b event.Bus
	var got []string
	b.SubscribeFunc(kindA, func(event.Event) { got = append(got, "first") })
	b.SubscribeFunc(kindB, func(event.Event) { got = append(got, "other kind") })
	b.SubscribeFunc(kindA, func(e event.Event) {
		got = append(got, "second")
		if e.(evt).v != 42 {
			t.Errorf("wrong payload: %v", e)
		}
	})

	b.Publish(evt{k: kindA, v: 42})
	want := []string{"first", "second"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("wrong delivery: want=%v, got=%v", want, got)
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	var b event.Bus
	var calls []int
	var tok event.Token
	tok = b.SubscribeFunc(kindA, func(event.Event) {
		calls = append(calls, 1)
		if !b.Unsubscribe(tok) {
			t.Errorf("expected unsubscribe to succeed")
		}
	})
	b.SubscribeFunc(kindA, func(event.Event) {
		calls = append(calls, 2)
		// Subscribing mid publish must not be delivered this round.
		b.SubscribeFunc(kindA, func(event.Event) { calls = append(calls, 3) })
	})

	b.Publish(evt{k: kindA})
	if want := []int{1, 2}; !reflect.DeepEqual(calls, want) {
		t.Fatalf("wrong first delivery: want=%v, got=%v", want, calls)
	}

	calls = nil
	b.Publish(evt{k: kindA})
	if want := []int{2, 3}; !reflect.DeepEqual(calls, want) {
		t.Errorf("wrong second delivery: want=%v, got=%v", want, calls)
	}
	if b.Unsubscribe(tok) {
		t.Errorf("expected second unsubscribe to report false")
	}
}

func TestPublishNoSubscribers(t *testing.T) {
	var b event.Bus
	b.Publish(evt{k: kindA})
	b.Publish(nil)
	if n := b.Len(kindA); n != 0 {
		t.Errorf("expected no subscribers, got %d", n)
	}
}

func TestNilHandlerPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected panic")
		}
	}()
	var b event.Bus
	b.Subscribe(kindA, nil)
}
