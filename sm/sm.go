// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package sm implements XEP-0198: Stream Management.
//
// The Engine is a stream filter: it counts stanzas in both directions, keeps
// the stanzas it sent until the peer acknowledges them, and retransmits the
// unacknowledged ones when a stream is resumed.
// It should be registered before any other stream filter so that it observes
// every stanza.
//
// Enable and Resume may be called from any goroutine, all other methods must
// be called from the session goroutine (for example from an event handler or
// inside Session.Do).
package sm // import "mellium.im/xclient/sm"

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"mellium.im/xclient"
	"mellium.im/xclient/event"
	"mellium.im/xclient/internal/ns"
	"mellium.im/xclient/metrics"
	"mellium.im/xclient/mux"
	"mellium.im/xclient/stanza"
	"mellium.im/xclient/store"
)

// NS is the namespace used by stream management.
const NS = "urn:xmpp:sm:3"

// LenientCounters controls how acknowledgements and resumption answers with a
// missing or malformed h attribute are treated.
// When true they are handled as if h were 0, otherwise they are ignored.
const LenientCounters = true

// Errors returned by the engine.
var (
	// ErrAlreadyActive is returned by Enable while stream management is enabled
	// or being negotiated, and by Resume only while an enable or resume request
	// is outstanding. Resume from an enabled stream is allowed.
	ErrAlreadyActive          = errors.New("sm: stream management already active")
	ErrResumptionNotSupported = errors.New("sm: no resumption id held")
	ErrResumptionExpired      = errors.New("sm: resumption deadline passed")
	ErrNotEnabled             = errors.New("sm: stream management not enabled")
	ErrInvalidState           = errors.New("sm: invalid stored state")
	errNotAttached            = errors.New("sm: engine is not attached to a session")
)

// State is the state of the engine.
type State uint8

// A list of possible states.
const (
	Disabled State = iota
	Enabling
	Active
	Resuming
	Restored
	Rejected
)

// String returns a lower case name for the state.
func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabling:
		return "enabling"
	case Active:
		return "enabled"
	case Resuming:
		return "resuming"
	case Restored:
		return "resumed"
	case Rejected:
		return "failed"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Host is the part of a session used by the engine.
// *xclient.Session implements Host.
type Host interface {
	Post(f func()) bool
	Transmit(st *stanza.Stanza) error
	Replay(st *stanza.Stanza) error
	Flush()
	AfterFunc(d time.Duration, f func()) (stop func() bool)
	Bus() *event.Bus
}

// Engine is a stream management module.
type Engine struct {
	host    Host
	log     zerolog.Logger
	hasLog  bool
	metrics *metrics.Collector
	store   store.Store
	key     string
	now     func() time.Time

	ackThreshold     uint32
	requestThreshold int
	requestInterval  time.Duration
	answerDelay      time.Duration
	maxHint          time.Duration

	state     State
	available bool
	hold      bool

	in, out, acked uint32
	lastSentH      uint32
	lastRequest    time.Time
	requestQueued  bool
	queue          queue

	resumptionID string
	location     string
	max          time.Duration
	deadline     time.Time

	onEnabled  func(id string, err error)
	onResumed  func(err error)
	stopAnswer func() bool
}

// New returns a stream management engine.
// It must be registered with a session before it can be used.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:              zerolog.Nop(),
		now:              time.Now,
		ackThreshold:     DefaultAckThreshold,
		requestThreshold: DefaultRequestThreshold,
		requestInterval:  DefaultRequestInterval,
		answerDelay:      DefaultAnswerDelay,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Attach satisfies xclient.Attacher.
func (e *Engine) Attach(s *xclient.Session) {
	if !e.hasLog {
		e.log = s.Logger().With().Str("module", NS).Logger()
	}
	if e.metrics == nil {
		e.metrics = s.Metrics()
	}
	e.Bind(s)
}

// Bind sets the host used by the engine.
// Attach calls it, it is exported for hosts other than *xclient.Session.
func (e *Engine) Bind(h Host) {
	e.host = h
	h.Bus().SubscribeFunc(xclient.FeaturesChanged, func(ev event.Event) {
		available := ev.(xclient.FeaturesChangedEvent).Has(NS)
		if available != e.available {
			e.log.Debug().Bool("available", available).Msg("stream management availability changed")
		}
		e.available = available
	})
}

// ID satisfies mux.Module.
func (e *Engine) ID() string { return NS }

// Match satisfies mux.Module.
func (e *Engine) Match(st *stanza.Stanza) bool {
	return st.Namespace() == NS
}

// HandleStanza satisfies mux.Module.
// Stream management elements are consumed by InterceptIncoming so this is
// never reached in a correctly configured session.
func (e *Engine) HandleStanza(*stanza.Stanza, mux.Writer) error {
	return stanza.Error{Type: stanza.Cancel, Condition: stanza.UndefinedCondition}
}

// Available reports whether the peer advertised support for stream management
// on the current stream.
func (e *Engine) Available() bool { return e.available }

// State returns the current state of the engine.
func (e *Engine) State() State { return e.state }

// AckEnabled reports whether stanzas are being counted on the current stream.
func (e *Engine) AckEnabled() bool {
	return e.state == Active || e.state == Restored
}

// ResumptionID returns the id issued by the peer for resuming the stream, or
// the empty string if resumption was not enabled.
func (e *Engine) ResumptionID() string { return e.resumptionID }

// Location returns the preferred address for resuming the stream given by the
// peer, if any.
func (e *Engine) Location() string { return e.location }

// Max returns the maximum resumption time advertised by the peer.
func (e *Engine) Max() time.Duration { return e.max }

// Deadline returns the time after which the stream can no longer be resumed.
// It is only known once the stream has been lost.
func (e *Engine) Deadline() time.Time { return e.deadline }

// Counters returns the number of stanzas received and sent, and the last
// count acknowledged by the peer.
func (e *Engine) Counters() (in, out, acked uint32) {
	return e.in, e.out, e.acked
}

// Unacked returns the stanzas that were sent but not yet acknowledged, oldest
// first.
func (e *Engine) Unacked() []*stanza.Stanza {
	return e.queue.Items()
}

// Holding satisfies mux.Holder.
// Application traffic is held while waiting for the peer to confirm enabling
// or resuming, and after the stream was lost while a resumption is possible.
func (e *Engine) Holding() bool {
	return e.hold || e.state == Enabling || e.state == Resuming
}

// Enable asks the peer to enable stream management.
// If resume is true the peer is asked to allow resumption for up to max (or
// the configured MaxResumption if max is zero).
// cb is called on the session goroutine with the resumption id issued by the
// peer (if any) once enabling succeeds or fails.
// Enabling starts a new stream management session, any state kept for
// resuming a previous stream is discarded.
func (e *Engine) Enable(resume bool, max time.Duration, cb func(id string, err error)) {
	if cb == nil {
		cb = func(string, error) {}
	}
	if e.host == nil {
		cb("", errNotAttached)
		return
	}
	if !e.host.Post(func() { e.enable(resume, max, cb) }) {
		cb("", xclient.ErrSessionClosed)
	}
}

func (e *Engine) enable(resume bool, max time.Duration, cb func(string, error)) {
	switch e.state {
	case Enabling, Active, Resuming, Restored:
		cb("", ErrAlreadyActive)
		return
	}
	if e.queue.Len() > 0 || e.resumptionID != "" {
		e.log.Warn().Int("unacked", e.queue.Len()).Msg("enabling discards state of previous stream")
		e.deleteStored()
	}
	e.clear()

	el := stanza.NewElement(NS, "enable")
	if resume {
		el.SetAttribute("resume", "true")
		if max <= 0 {
			max = e.maxHint
		}
		if max > 0 {
			el.SetAttribute("max", strconv.FormatInt(int64(max/time.Second), 10))
		}
	}
	e.log.Debug().Bool("resume", resume).Msg("enabling stream management")
	e.state = Enabling
	e.onEnabled = cb
	if err := e.host.Transmit(stanza.New(el)); err != nil {
		e.state = Disabled
		e.onEnabled = nil
		cb("", err)
		e.host.Flush()
	}
}

// Resume asks the peer to resume the previous stream.
// cb is called on the session goroutine once the stream has been resumed and
// unacknowledged stanzas have been retransmitted, or when resumption fails.
func (e *Engine) Resume(cb func(err error)) {
	if cb == nil {
		cb = func(error) {}
	}
	if e.host == nil {
		cb(errNotAttached)
		return
	}
	if !e.host.Post(func() { e.resume(cb) }) {
		cb(xclient.ErrSessionClosed)
	}
}

func (e *Engine) resume(cb func(error)) {
	switch e.state {
	case Enabling, Resuming:
		cb(ErrAlreadyActive)
		return
	}
	if e.resumptionID == "" {
		cb(ErrResumptionNotSupported)
		return
	}
	if !e.deadline.IsZero() && e.now().After(e.deadline) {
		e.log.Debug().Time("deadline", e.deadline).Msg("resumption deadline passed")
		e.deleteStored()
		e.clear()
		e.state = Disabled
		cb(ErrResumptionExpired)
		e.host.Flush()
		return
	}

	el := stanza.NewElement(NS, "resume")
	el.SetAttribute("h", strconv.FormatUint(uint64(e.in), 10))
	el.SetAttribute("previd", e.resumptionID)
	e.log.Debug().Uint32("h", e.in).Str("previd", e.resumptionID).Msg("resuming stream")
	e.state = Resuming
	e.onResumed = cb
	if err := e.host.Transmit(stanza.New(el)); err != nil {
		e.state = Disabled
		e.onResumed = nil
		cb(err)
	}
}

// Request asks the peer to acknowledge the stanzas it received.
// Requests are sent at most once per RequestInterval, extra requests are
// dropped.
func (e *Engine) Request() error {
	if !e.AckEnabled() {
		return ErrNotEnabled
	}
	if !e.lastRequest.IsZero() && e.now().Sub(e.lastRequest) < e.requestInterval {
		return nil
	}
	e.lastRequest = e.now()
	e.metrics.AckRequest(metrics.Out)
	return e.host.Transmit(stanza.New(stanza.NewElement(NS, "r")))
}

// SendAck acknowledges the stanzas received so far if any were received since
// the last acknowledgement.
func (e *Engine) SendAck() error {
	if !e.AckEnabled() {
		return ErrNotEnabled
	}
	return e.sendAck(false)
}

func (e *Engine) sendAck(force bool) error {
	if !force && e.lastSentH == e.in {
		return nil
	}
	e.lastSentH = e.in
	el := stanza.NewElement(NS, "a")
	el.SetAttribute("h", strconv.FormatUint(uint64(e.in), 10))
	e.metrics.Ack(metrics.Out)
	return e.host.Transmit(stanza.New(el))
}

// InterceptIncoming satisfies mux.Filter.
func (e *Engine) InterceptIncoming(st *stanza.Stanza) bool {
	if st.Namespace() != NS {
		if e.AckEnabled() {
			e.in++
			if e.in-e.lastSentH >= e.ackThreshold {
				if err := e.sendAck(false); err != nil {
					e.log.Warn().Err(err).Msg("sending acknowledgement")
				}
			}
		}
		return false
	}

	switch st.Name() {
	case "enabled":
		e.handleEnabled(st)
	case "resumed":
		e.handleResumed(st)
	case "failed":
		e.handleFailed(st)
	case "a":
		if e.AckEnabled() {
			e.handleAck(st)
		}
	case "r":
		if e.AckEnabled() {
			e.handleRequest()
		}
	default:
		e.log.Debug().Str("name", st.Name()).Msg("ignoring unknown stream management element")
	}
	return true
}

// InterceptOutgoing satisfies mux.Filter.
func (e *Engine) InterceptOutgoing(st *stanza.Stanza) {
	if !e.AckEnabled() || st.Namespace() == NS {
		return
	}
	e.out++
	e.queue.Push(st)
	e.metrics.QueueDepth(e.queue.Len())
	if e.queue.Len() > e.requestThreshold && !e.requestQueued {
		// Posted so that the request follows st on the wire.
		e.requestQueued = true
		posted := e.host.Post(func() {
			e.requestQueued = false
			err := e.Request()
			if err != nil && !errors.Is(err, ErrNotEnabled) {
				e.log.Warn().Err(err).Msg("requesting acknowledgement")
			}
		})
		if !posted {
			e.requestQueued = false
		}
	}
}

func parseH(st *stanza.Stanza) (uint32, bool) {
	h, err := strconv.ParseUint(st.Attr("h"), 10, 32)
	if err != nil {
		return 0, LenientCounters
	}
	return uint32(h), true
}

// ack trims the queue up to the peer's count h.
// Counts at or below the last acknowledged one are ignored and counts beyond
// the number of stanzas sent are clamped.
func (e *Engine) ack(h uint32) uint32 {
	delta := h - e.acked
	if int32(delta) <= 0 {
		return 0
	}
	if pending := uint32(e.queue.Len()); delta > pending {
		e.log.Warn().Uint32("h", h).Uint32("acked", e.acked).Uint32("out", e.out).Msg("peer acknowledged more stanzas than were sent")
		delta = pending
	}
	e.queue.Drop(int(delta))
	e.acked += delta
	e.metrics.QueueDepth(e.queue.Len())
	return delta
}

func (e *Engine) handleAck(st *stanza.Stanza) {
	h, ok := parseH(st)
	if !ok {
		e.log.Warn().Str("h", st.Attr("h")).Msg("ignoring acknowledgement without a valid count")
		return
	}
	e.metrics.Ack(metrics.In)
	if e.ack(h) > 0 {
		e.persist()
	}
}

func (e *Engine) handleRequest() {
	e.metrics.AckRequest(metrics.In)
	if e.stopAnswer != nil {
		return
	}
	e.stopAnswer = e.host.AfterFunc(e.answerDelay, func() {
		e.stopAnswer = nil
		if !e.AckEnabled() {
			return
		}
		if err := e.sendAck(true); err != nil {
			e.log.Warn().Err(err).Msg("answering acknowledgement request")
		}
	})
}

func (e *Engine) handleEnabled(st *stanza.Stanza) {
	if e.state != Enabling {
		e.log.Warn().Stringer("state", e.state).Msg("unexpected enabled element")
		return
	}
	id := st.Attr("id")
	r := st.Attr("resume")
	resume := (r == "true" || r == "1") && id != ""
	if resume {
		e.resumptionID = id
	}
	e.location = st.Attr("location")
	if mx, err := strconv.ParseUint(st.Attr("max"), 10, 32); err == nil {
		e.max = time.Duration(mx) * time.Second
	}
	e.state = Active
	cb := e.onEnabled
	e.onEnabled = nil

	e.log.Debug().Bool("resume", resume).Str("id", e.resumptionID).Msg("stream management enabled")
	e.persist()
	e.host.Bus().Publish(EnabledEvent{
		Resume:   resume,
		ID:       e.resumptionID,
		Location: e.location,
		Max:      e.max,
	})
	if cb != nil {
		cb(e.resumptionID, nil)
	}
	e.host.Flush()
}

func (e *Engine) handleResumed(st *stanza.Stanza) {
	if e.state != Resuming {
		e.log.Warn().Stringer("state", e.state).Msg("unexpected resumed element")
		return
	}
	h, ok := parseH(st)
	if ok {
		e.ack(h)
	} else {
		e.log.Warn().Str("h", st.Attr("h")).Msg("resumed without a valid count")
	}
	if id := st.Attr("previd"); id != "" {
		e.resumptionID = id
	}
	if mx, err := strconv.ParseUint(st.Attr("max"), 10, 32); err == nil {
		e.max = time.Duration(mx) * time.Second
	}
	e.state = Restored
	e.hold = false
	e.deadline = time.Time{}

	replay := e.queue.Items()
	for _, q := range replay {
		if err := e.host.Replay(q); err != nil {
			e.log.Warn().Err(err).Msg("retransmitting unacknowledged stanza")
			break
		}
	}
	cb := e.onResumed
	e.onResumed = nil

	e.log.Debug().Uint32("h", h).Int("replayed", len(replay)).Msg("stream resumed")
	e.metrics.Resumption(true)
	e.persist()
	e.host.Bus().Publish(ResumedEvent{
		H:        h,
		ID:       e.resumptionID,
		Replayed: len(replay),
	})
	if cb != nil {
		cb(nil)
	}
	e.host.Flush()
}

func (e *Engine) handleFailed(st *stanza.Stanza) {
	cond := stanza.UnexpectedRequest
	for _, c := range st.Payload() {
		if c.Name.Space == ns.Stanza && c.Name.Local != "text" {
			cond = stanza.Condition(c.Name.Local)
			break
		}
	}
	err := stanza.Error{Type: stanza.Cancel, Condition: cond}
	resuming := e.state == Resuming
	resumeCb, enableCb := e.onResumed, e.onEnabled
	e.onResumed, e.onEnabled = nil, nil

	e.log.Warn().Str("condition", string(cond)).Bool("resuming", resuming).Msg("stream management failed")
	e.deleteStored()
	e.clear()
	e.state = Rejected
	if resuming {
		e.metrics.Resumption(false)
	}
	e.host.Bus().Publish(FailedEvent{
		Condition: cond,
		Resuming:  resuming,
	})
	if resumeCb != nil {
		resumeCb(err)
	}
	if enableCb != nil {
		enableCb("", err)
	}
	e.host.Flush()
}

// Reset satisfies mux.Resetter.
// A stream reset only stops counting, resumption state is kept so that the
// stream can be resumed on a new connection.
// A session reset discards everything.
func (e *Engine) Reset(scope mux.Scope) {
	e.failPending(xclient.ErrDisconnected)
	if e.stopAnswer != nil {
		e.stopAnswer()
		e.stopAnswer = nil
	}
	if scope&mux.SessionScope != 0 {
		e.log.Debug().Msg("discarding stream management session")
		e.deleteStored()
		e.clear()
		e.state = Disabled
		return
	}
	if scope&mux.StreamScope == 0 {
		return
	}
	e.state = Disabled
	if e.resumptionID != "" {
		e.hold = true
		if e.max > 0 && e.deadline.IsZero() {
			e.deadline = e.now().Add(e.max)
		}
		e.persist()
	}
}

func (e *Engine) failPending(err error) {
	resumeCb, enableCb := e.onResumed, e.onEnabled
	e.onResumed, e.onEnabled = nil, nil
	if resumeCb != nil {
		resumeCb(err)
	}
	if enableCb != nil {
		enableCb("", err)
	}
}

func (e *Engine) clear() {
	e.in, e.out, e.acked, e.lastSentH = 0, 0, 0, 0
	e.lastRequest = time.Time{}
	e.queue.Clear()
	e.resumptionID = ""
	e.location = ""
	e.max = 0
	e.deadline = time.Time{}
	e.hold = false
	e.metrics.QueueDepth(0)
}

// Snapshot returns the resumable state of the engine.
func (e *Engine) Snapshot() store.State {
	st := store.State{
		Key:          e.key,
		ResumptionID: e.resumptionID,
		Location:     e.location,
		Max:          e.max,
		Deadline:     e.deadline,
		In:           e.in,
		Out:          e.out,
		Acked:        e.acked,
		Updated:      e.now(),
	}
	for _, q := range e.queue.Items() {
		st.Queue = append(st.Queue, q.String())
	}
	return st
}

// Restore replaces the counters, queue, and resumption state of an inactive
// engine with st so that Resume can be attempted.
func (e *Engine) Restore(st store.State) error {
	switch e.state {
	case Enabling, Active, Resuming, Restored:
		return ErrAlreadyActive
	}
	if uint32(len(st.Queue)) != st.Out-st.Acked {
		return fmt.Errorf("%w: %d queued stanzas for %d unacknowledged", ErrInvalidState, len(st.Queue), st.Out-st.Acked)
	}
	var q queue
	for _, raw := range st.Queue {
		parsed, err := stanza.Parse(raw)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidState, err)
		}
		q.Push(parsed)
	}
	e.clear()
	e.queue = q
	e.in, e.out, e.acked = st.In, st.Out, st.Acked
	e.lastSentH = st.In
	e.resumptionID = st.ResumptionID
	e.location = st.Location
	e.max = st.Max
	e.deadline = st.Deadline
	e.state = Disabled
	e.hold = e.resumptionID != ""
	e.metrics.QueueDepth(e.queue.Len())
	return nil
}

// Load restores the state saved in the configured store.
// It returns store.ErrNotFound if nothing was saved.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return fmt.Errorf("%w: no store configured", store.ErrNotFound)
	}
	st, err := e.store.Load(ctx, e.key)
	if err != nil {
		return err
	}
	return e.Restore(st)
}

func (e *Engine) persist() {
	if e.store == nil {
		return
	}
	if e.resumptionID == "" {
		e.deleteStored()
		return
	}
	if err := e.store.Save(context.Background(), e.Snapshot()); err != nil {
		e.log.Warn().Err(err).Msg("saving stream management state")
	}
}

func (e *Engine) deleteStored() {
	if e.store == nil {
		return
	}
	if err := e.store.Delete(context.Background(), e.key); err != nil {
		e.log.Warn().Err(err).Msg("deleting stream management state")
	}
}
