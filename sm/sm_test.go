// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sm_test

import (
	"context"
	"errors"
	"math"
	"strconv"
	"testing"
	"time"

	"mellium.im/xmpp/jid"

	"mellium.im/xclient"
	"mellium.im/xclient/event"
	"mellium.im/xclient/internal/xmpptest"
	"mellium.im/xclient/mux"
	"mellium.im/xclient/sm"
	"mellium.im/xclient/stanza"
	"mellium.im/xclient/store"
)

// host records what the engine writes.
// Posted functions run immediately, or once the stanza being transmitted has
// been recorded.
type host struct {
	e        *sm.Engine
	bus      event.Bus
	clock    *xmpptest.Clock
	sent     []*stanza.Stanza
	replayed []*stanza.Stanza
	flushes  int

	transmitting bool
	posted       []func()
}

func (h *host) Post(f func()) bool {
	if h.transmitting {
		h.posted = append(h.posted, f)
		return true
	}
	f()
	return true
}

func (h *host) Transmit(st *stanza.Stanza) error {
	h.transmitting = true
	h.e.InterceptOutgoing(st)
	h.sent = append(h.sent, st)
	h.transmitting = false
	posted := h.posted
	h.posted = nil
	for _, f := range posted {
		f()
	}
	return nil
}

func (h *host) Replay(st *stanza.Stanza) error {
	h.replayed = append(h.replayed, st)
	return nil
}

func (h *host) Flush() { h.flushes++ }

func (h *host) AfterFunc(d time.Duration, f func()) func() bool {
	return h.clock.AfterFunc(d, f)
}

func (h *host) Bus() *event.Bus { return &h.bus }

// named returns the sent stream management elements with the given name.
func (h *host) named(local string) []*stanza.Stanza {
	var out []*stanza.Stanza
	for _, st := range h.sent {
		if st.Namespace() == sm.NS && st.Name() == local {
			out = append(out, st)
		}
	}
	return out
}

func newEngine(t *testing.T, opts ...sm.Option) (*sm.Engine, *host) {
	t.Helper()
	h := &host{clock: xmpptest.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))}
	e := sm.New(append([]sm.Option{sm.Clock(h.clock.Now)}, opts...)...)
	h.e = e
	e.Bind(h)
	return e, h
}

func enable(t *testing.T, e *sm.Engine, h *host, resume bool, enabled string) string {
	t.Helper()
	var (
		id     string
		err    error
		called bool
	)
	before := len(h.named("enable"))
	e.Enable(resume, 0, func(i string, enableErr error) {
		id, err, called = i, enableErr, true
	})
	if n := len(h.named("enable")) - before; n != 1 {
		t.Fatalf("expected one enable element, got %d", n)
	}
	if !e.Holding() {
		t.Errorf("expected traffic to be held while enabling")
	}
	e.InterceptIncoming(stanza.MustParse(enabled))
	if !called {
		t.Fatalf("enable callback was not called")
	}
	if err != nil {
		t.Fatalf("unexpected error enabling: %v", err)
	}
	return id
}

func msg(i int) *stanza.Stanza {
	st := stanza.NewMessage(stanza.ChatMessage, jid.MustParse("romeo@example.net"),
		stanza.NewElement("jabber:client", "body").SetText("hi"))
	st.SetAttr("id", "m"+strconv.Itoa(i))
	return st
}

func ack(h int) *stanza.Stanza {
	return stanza.MustParse(`<a xmlns="urn:xmpp:sm:3" h="` + strconv.Itoa(h) + `"/>`)
}

const enabledResume = `<enabled xmlns="urn:xmpp:sm:3" id="abc" resume="true" max="60"/>`

func TestEnableAndAck(t *testing.T) {
	e, h := newEngine(t)
	var got []sm.EnabledEvent
	h.bus.SubscribeFunc(sm.Enabled, func(ev event.Event) {
		got = append(got, ev.(sm.EnabledEvent))
	})

	id := enable(t, e, h, true, enabledResume)
	if id != "abc" || e.ResumptionID() != "abc" {
		t.Errorf("wrong resumption id: %q, %q", id, e.ResumptionID())
	}
	if req := h.named("enable")[0]; req.Attr("resume") != "true" {
		t.Errorf("enable did not request resumption: %v", req)
	}
	if e.State() != sm.Active || !e.AckEnabled() || e.Holding() {
		t.Errorf("unexpected state after enabling: %v, holding=%t", e.State(), e.Holding())
	}
	if len(got) != 1 || !got[0].Resume || got[0].Max != time.Minute {
		t.Errorf("unexpected enabled events: %+v", got)
	}
	if h.flushes != 1 {
		t.Errorf("expected held traffic to be flushed once, got %d", h.flushes)
	}

	for i := 0; i < 4; i++ {
		h.Transmit(msg(i))
	}
	if n := len(h.named("r")); n != 1 {
		t.Errorf("expected an ack request once more than 3 stanzas are unacked, got %d", n)
	}
	e.InterceptIncoming(ack(2))

	in, out, acked := e.Counters()
	if in != 0 || out != 4 || acked != 2 {
		t.Errorf("wrong counters: in=%d out=%d acked=%d", in, out, acked)
	}
	unacked := e.Unacked()
	if len(unacked) != 2 || unacked[0].ID() != "m2" || unacked[1].ID() != "m3" {
		t.Errorf("wrong unacked stanzas: %v", unacked)
	}
}

func TestStreamManagementNotCounted(t *testing.T) {
	e, h := newEngine(t)
	enable(t, e, h, false, `<enabled xmlns="urn:xmpp:sm:3"/>`)
	if e.ResumptionID() != "" {
		t.Errorf("no resumption id expected, got %q", e.ResumptionID())
	}
	e.SendAck()
	e.Request()
	e.InterceptIncoming(stanza.MustParse(`<r xmlns="urn:xmpp:sm:3"/>`))
	if in, out, _ := e.Counters(); in != 0 || out != 0 {
		t.Errorf("stream management elements were counted: in=%d out=%d", in, out)
	}
}

func TestAckBounds(t *testing.T) {
	e, h := newEngine(t, sm.RequestThreshold(100))
	enable(t, e, h, true, enabledResume)
	for i := 0; i < 5; i++ {
		h.Transmit(msg(i))
	}

	for _, tc := range []struct {
		h       int
		pending int
		acked   uint32
	}{
		{h: 3, pending: 2, acked: 3},
		{h: 2, pending: 2, acked: 3},
		{h: 3, pending: 2, acked: 3},
		{h: 10, pending: 0, acked: 5},
	} {
		e.InterceptIncoming(ack(tc.h))
		_, out, acked := e.Counters()
		if len(e.Unacked()) != tc.pending || acked != tc.acked {
			t.Errorf("h=%d: want pending=%d acked=%d, got pending=%d acked=%d", tc.h, tc.pending, tc.acked, len(e.Unacked()), acked)
		}
		if int(out-acked) != len(e.Unacked()) {
			t.Errorf("h=%d: queue length %d does not match out-acked %d", tc.h, len(e.Unacked()), out-acked)
		}
	}
}

func TestAckWithoutCount(t *testing.T) {
	e, h := newEngine(t)
	enable(t, e, h, true, enabledResume)
	h.Transmit(msg(0))
	e.InterceptIncoming(stanza.MustParse(`<a xmlns="urn:xmpp:sm:3" h="bad"/>`))
	if len(e.Unacked()) != 1 {
		t.Errorf("malformed count should acknowledge nothing, got %d unacked", len(e.Unacked()))
	}
}

func TestProactiveAck(t *testing.T) {
	e, h := newEngine(t)
	enable(t, e, h, true, enabledResume)
	for i := 0; i < 4; i++ {
		if e.InterceptIncoming(msg(i)) {
			t.Fatalf("application stanza was consumed")
		}
	}
	if n := len(h.named("a")); n != 0 {
		t.Fatalf("ack sent before threshold: %d", n)
	}
	e.InterceptIncoming(msg(4))
	acks := h.named("a")
	if len(acks) != 1 || acks[0].Attr("h") != "5" {
		t.Fatalf("expected one ack with h=5, got %v", acks)
	}
}

func TestRequestThrottled(t *testing.T) {
	e, h := newEngine(t)
	enable(t, e, h, true, enabledResume)
	for i := 0; i < 6; i++ {
		h.Transmit(msg(i))
	}
	if n := len(h.named("r")); n != 1 {
		t.Errorf("expected requests to be throttled, got %d", n)
	}
	h.clock.Advance(sm.DefaultRequestInterval)
	h.Transmit(msg(6))
	if n := len(h.named("r")); n != 2 {
		t.Errorf("expected a second request after the interval, got %d", n)
	}
}

func TestRequestFollowsStanza(t *testing.T) {
	e, h := newEngine(t)
	enable(t, e, h, true, enabledResume)
	for i := 0; i < 4; i++ {
		h.Transmit(msg(i))
	}
	var got []string
	for _, st := range h.sent {
		got = append(got, st.Name()+"#"+st.ID())
	}
	want := []string{"enable#", "message#m0", "message#m1", "message#m2", "message#m3", "r#"}
	if len(got) != len(want) {
		t.Fatalf("wrong wire order: want=%v, got=%v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("wrong wire order: want=%v, got=%v", want, got)
		}
	}
}

func TestCountersWrap(t *testing.T) {
	const top = math.MaxUint32
	queued := make([]string, 5)
	for i := range queued {
		queued[i] = msg(i).String()
	}

	e, h := newEngine(t, sm.RequestThreshold(100))
	err := e.Restore(store.State{
		ResumptionID: "abc",
		Max:          time.Minute,
		In:           top,
		Out:          2,
		Acked:        top - 2,
		Queue:        queued,
	})
	if err != nil {
		t.Fatalf("error restoring state across the wrap: %v", err)
	}

	e.Resume(nil)
	if req := h.named("resume"); len(req) != 1 || req[0].Attr("h") != strconv.FormatUint(top, 10) {
		t.Fatalf("wrong resume element: %v", req)
	}
	e.InterceptIncoming(stanza.MustParse(`<resumed xmlns="urn:xmpp:sm:3" h="1" previd="abc"/>`))
	if len(h.replayed) != 1 || h.replayed[0].ID() != "m4" {
		t.Fatalf("expected only the last stanza to be replayed, got %v", h.replayed)
	}
	if _, _, acked := e.Counters(); acked != 1 {
		t.Errorf("wrong acked count after wrap: %d", acked)
	}

	for i := 0; i < 4; i++ {
		e.InterceptIncoming(msg(i))
	}
	if n := len(h.named("a")); n != 0 {
		t.Fatalf("ack sent before threshold across the wrap: %d", n)
	}
	e.InterceptIncoming(msg(4))
	if acks := h.named("a"); len(acks) != 1 || acks[0].Attr("h") != "4" {
		t.Fatalf("expected one ack with h=4, got %v", acks)
	}

	for i := 5; i < 8; i++ {
		h.Transmit(msg(i))
	}
	for i, tc := range []struct {
		h       uint32
		pending int
		acked   uint32
	}{
		0: {h: 3, pending: 2, acked: 3},
		1: {h: top, pending: 2, acked: 3},
		2: {h: top - 2, pending: 2, acked: 3},
		3: {h: 10, pending: 0, acked: 5},
	} {
		e.InterceptIncoming(stanza.MustParse(`<a xmlns="urn:xmpp:sm:3" h="` + strconv.FormatUint(uint64(tc.h), 10) + `"/>`))
		_, out, acked := e.Counters()
		if len(e.Unacked()) != tc.pending || acked != tc.acked {
			t.Errorf("%d: want pending=%d acked=%d, got pending=%d acked=%d", i, tc.pending, tc.acked, len(e.Unacked()), acked)
		}
		if int(out-acked) != len(e.Unacked()) {
			t.Errorf("%d: queue length %d does not match out-acked %d", i, len(e.Unacked()), out-acked)
		}
	}
}

func TestAnswerDelayed(t *testing.T) {
	e, h := newEngine(t)
	enable(t, e, h, true, enabledResume)
	r := stanza.MustParse(`<r xmlns="urn:xmpp:sm:3"/>`)
	if !e.InterceptIncoming(r) {
		t.Fatalf("request was not consumed")
	}
	e.InterceptIncoming(r)
	if n := len(h.named("a")); n != 0 {
		t.Fatalf("request answered immediately")
	}
	if n := h.clock.Pending(); n != 1 {
		t.Fatalf("expected a single pending answer, got %d", n)
	}
	h.clock.Advance(sm.DefaultAnswerDelay)
	acks := h.named("a")
	if len(acks) != 1 || acks[0].Attr("h") != "0" {
		t.Fatalf("expected one ack with h=0, got %v", acks)
	}
}

func TestResume(t *testing.T) {
	e, h := newEngine(t, sm.RequestThreshold(100))
	enable(t, e, h, true, enabledResume)
	for i := 0; i < 3; i++ {
		h.Transmit(msg(i))
		e.InterceptIncoming(msg(i))
	}
	e.InterceptIncoming(ack(1))

	e.Reset(mux.StreamScope)
	if e.AckEnabled() || !e.Holding() {
		t.Errorf("stream reset should stop counting and hold traffic")
	}
	if in, out, acked := e.Counters(); in != 3 || out != 3 || acked != 1 {
		t.Errorf("stream reset changed counters: in=%d out=%d acked=%d", in, out, acked)
	}
	if e.ResumptionID() != "abc" || e.Deadline().IsZero() {
		t.Errorf("stream reset lost resumption state: id=%q deadline=%v", e.ResumptionID(), e.Deadline())
	}

	var resumed []sm.ResumedEvent
	h.bus.SubscribeFunc(sm.Resumed, func(ev event.Event) {
		resumed = append(resumed, ev.(sm.ResumedEvent))
	})
	var (
		called bool
		rerr   error
	)
	e.Resume(func(err error) { called, rerr = true, err })
	req := h.named("resume")
	if len(req) != 1 || req[0].Attr("previd") != "abc" || req[0].Attr("h") != "3" {
		t.Fatalf("wrong resume element: %v", req)
	}
	if e.State() != sm.Resuming || !e.Holding() {
		t.Errorf("expected to hold traffic while resuming")
	}

	e.InterceptIncoming(stanza.MustParse(`<resumed xmlns="urn:xmpp:sm:3" h="2" previd="abc"/>`))
	if !called || rerr != nil {
		t.Fatalf("resume callback: called=%t err=%v", called, rerr)
	}
	if len(h.replayed) != 1 || h.replayed[0].ID() != "m2" {
		t.Errorf("expected the last unacked stanza to be replayed, got %v", h.replayed)
	}
	if len(resumed) != 1 || resumed[0].Replayed != 1 || resumed[0].H != 2 {
		t.Errorf("unexpected resumed events: %+v", resumed)
	}
	if e.State() != sm.Restored || !e.AckEnabled() || e.Holding() {
		t.Errorf("unexpected state after resuming: %v", e.State())
	}
	if _, out, acked := e.Counters(); out != 3 || acked != 2 {
		t.Errorf("replay should not be recounted: out=%d acked=%d", out, acked)
	}
}

func TestSessionResetClears(t *testing.T) {
	e, h := newEngine(t)
	enable(t, e, h, true, enabledResume)
	h.Transmit(msg(0))
	e.InterceptIncoming(msg(0))
	e.Reset(mux.StreamScope | mux.SessionScope)

	in, out, acked := e.Counters()
	if in != 0 || out != 0 || acked != 0 || len(e.Unacked()) != 0 {
		t.Errorf("session reset left counters: in=%d out=%d acked=%d", in, out, acked)
	}
	if e.ResumptionID() != "" || e.Holding() || e.State() != sm.Disabled {
		t.Errorf("session reset left resumption state")
	}
	var rerr error
	e.Resume(func(err error) { rerr = err })
	if !errors.Is(rerr, sm.ErrResumptionNotSupported) {
		t.Errorf("wrong error: %v", rerr)
	}
}

func TestResetFailsPendingEnable(t *testing.T) {
	e, _ := newEngine(t)
	var got error
	e.Enable(false, 0, func(_ string, err error) { got = err })
	e.Reset(mux.StreamScope)
	if !errors.Is(got, xclient.ErrDisconnected) {
		t.Errorf("wrong error: %v", got)
	}
}

func TestAlreadyActive(t *testing.T) {
	e, h := newEngine(t)
	enable(t, e, h, false, `<enabled xmlns="urn:xmpp:sm:3"/>`)
	var enableErr, resumeErr error
	e.Enable(false, 0, func(_ string, err error) { enableErr = err })
	e.Resume(func(err error) { resumeErr = err })
	if !errors.Is(enableErr, sm.ErrAlreadyActive) {
		t.Errorf("wrong error enabling twice: %v", enableErr)
	}
	if !errors.Is(resumeErr, sm.ErrResumptionNotSupported) {
		t.Errorf("wrong error resuming without an id: %v", resumeErr)
	}
	if err := e.Request(); err != nil {
		t.Errorf("request should succeed while enabled: %v", err)
	}
}

func TestResumeWhilePending(t *testing.T) {
	e, h := newEngine(t)
	var resumeErr error
	e.Enable(true, 0, nil)
	e.Resume(func(err error) { resumeErr = err })
	if !errors.Is(resumeErr, sm.ErrAlreadyActive) {
		t.Errorf("wrong error resuming while enabling: %v", resumeErr)
	}
	e.InterceptIncoming(stanza.MustParse(enabledResume))

	e.Resume(nil)
	if e.State() != sm.Resuming {
		t.Fatalf("resuming an enabled stream should be allowed, got state %v", e.State())
	}
	if n := len(h.named("resume")); n != 1 {
		t.Errorf("expected one resume element, got %d", n)
	}
	resumeErr = nil
	e.Resume(func(err error) { resumeErr = err })
	if !errors.Is(resumeErr, sm.ErrAlreadyActive) {
		t.Errorf("wrong error resuming twice: %v", resumeErr)
	}
}

func TestNotEnabled(t *testing.T) {
	e, _ := newEngine(t)
	if err := e.Request(); !errors.Is(err, sm.ErrNotEnabled) {
		t.Errorf("wrong error: %v", err)
	}
	if err := e.SendAck(); !errors.Is(err, sm.ErrNotEnabled) {
		t.Errorf("wrong error: %v", err)
	}
}

func TestFailed(t *testing.T) {
	e, h := newEngine(t)
	var failed []sm.FailedEvent
	h.bus.SubscribeFunc(sm.Failed, func(ev event.Event) {
		failed = append(failed, ev.(sm.FailedEvent))
	})
	enable(t, e, h, true, enabledResume)
	h.Transmit(msg(0))
	e.Reset(mux.StreamScope)

	var got error
	e.Resume(func(err error) { got = err })
	e.InterceptIncoming(stanza.MustParse(`<failed xmlns="urn:xmpp:sm:3"><item-not-found xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/></failed>`))

	var se stanza.Error
	if !errors.As(got, &se) || se.Condition != stanza.ItemNotFound {
		t.Errorf("wrong error: %v", got)
	}
	if len(failed) != 1 || !failed[0].Resuming || failed[0].Condition != stanza.ItemNotFound {
		t.Errorf("unexpected failed events: %+v", failed)
	}
	if e.State() != sm.Rejected || e.ResumptionID() != "" || len(e.Unacked()) != 0 || e.Holding() {
		t.Errorf("failed resumption should discard state")
	}

	// Enabling again is allowed after a failure.
	enable(t, e, h, false, `<enabled xmlns="urn:xmpp:sm:3"/>`)
}

func TestFailedDefaultCondition(t *testing.T) {
	e, _ := newEngine(t)
	var got error
	e.Enable(false, 0, func(_ string, err error) { got = err })
	e.InterceptIncoming(stanza.MustParse(`<failed xmlns="urn:xmpp:sm:3"/>`))
	var se stanza.Error
	if !errors.As(got, &se) || se.Condition != stanza.UnexpectedRequest {
		t.Errorf("wrong error: %v", got)
	}
}

func TestResumeExpired(t *testing.T) {
	e, h := newEngine(t)
	enable(t, e, h, true, enabledResume)
	e.Reset(mux.StreamScope)
	h.clock.Advance(61 * time.Second)

	var got error
	e.Resume(func(err error) { got = err })
	if !errors.Is(got, sm.ErrResumptionExpired) {
		t.Errorf("wrong error: %v", got)
	}
	if e.ResumptionID() != "" || e.Holding() {
		t.Errorf("expired resumption state was kept")
	}
	if n := len(h.named("resume")); n != 0 {
		t.Errorf("resume should not have been sent")
	}
}

func TestEnableMaxHint(t *testing.T) {
	e, h := newEngine(t, sm.MaxResumption(5*time.Minute))
	e.Enable(true, 0, nil)
	req := h.named("enable")
	if len(req) != 1 || req[0].Attr("max") != "300" {
		t.Errorf("wrong enable element: %v", req)
	}
}

func TestAvailable(t *testing.T) {
	e, h := newEngine(t)
	if e.Available() {
		t.Fatalf("should not be available before features are known")
	}
	h.bus.Publish(xclient.FeaturesChangedEvent{Features: []string{sm.NS}})
	if !e.Available() {
		t.Errorf("expected stream management to be available")
	}
	h.bus.Publish(xclient.FeaturesChangedEvent{})
	if e.Available() {
		t.Errorf("expected stream management to be unavailable after features were cleared")
	}
}

func TestPersistAndLoad(t *testing.T) {
	mem := &store.Memory{}
	const key = "juliet@example.com"
	e, h := newEngine(t, sm.Store(mem, key), sm.RequestThreshold(100))
	enable(t, e, h, true, enabledResume)
	for i := 0; i < 3; i++ {
		h.Transmit(msg(i))
	}
	e.InterceptIncoming(ack(1))
	e.Reset(mux.StreamScope)

	saved, err := mem.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("state was not saved: %v", err)
	}
	if saved.ResumptionID != "abc" || saved.Out != 3 || saved.Acked != 1 || len(saved.Queue) != 2 {
		t.Errorf("unexpected saved state: %+v", saved)
	}

	restored, rh := newEngine(t, sm.Store(mem, key))
	if err := restored.Load(context.Background()); err != nil {
		t.Fatalf("error loading state: %v", err)
	}
	if !restored.Holding() || restored.ResumptionID() != "abc" {
		t.Errorf("restored engine is not ready to resume")
	}
	unacked := restored.Unacked()
	if len(unacked) != 2 || unacked[0].ID() != "m1" || unacked[1].ID() != "m2" {
		t.Errorf("wrong restored queue: %v", unacked)
	}

	restored.Resume(nil)
	restored.InterceptIncoming(stanza.MustParse(`<resumed xmlns="urn:xmpp:sm:3" h="1" previd="abc"/>`))
	if len(rh.replayed) != 2 {
		t.Errorf("expected two replayed stanzas, got %d", len(rh.replayed))
	}

	restored.Reset(mux.SessionScope)
	if _, err := mem.Load(context.Background(), key); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("session reset should delete saved state, got %v", err)
	}
}

func TestRestoreInvalid(t *testing.T) {
	e, _ := newEngine(t)
	err := e.Restore(store.State{ResumptionID: "abc", Out: 3, Acked: 1})
	if !errors.Is(err, sm.ErrInvalidState) {
		t.Errorf("wrong error: %v", err)
	}
}

func TestLoadNotFound(t *testing.T) {
	e, _ := newEngine(t, sm.Store(&store.Memory{}, "romeo@example.net"))
	if err := e.Load(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("wrong error: %v", err)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[sm.State]string{
		sm.Disabled:  "disabled",
		sm.Enabling:  "enabling",
		sm.Active:    "enabled",
		sm.Resuming:  "resuming",
		sm.Restored:  "resumed",
		sm.Rejected:  "failed",
		sm.State(42): "State(42)",
	} {
		if got := s.String(); got != want {
			t.Errorf("want=%q, got=%q", want, got)
		}
	}
}
