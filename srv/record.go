// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package srv

import (
	"cmp"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"
)

// Kind is the connection method of an endpoint.
type Kind uint8

// A list of connection methods.
const (
	StartTLS Kind = iota
	DirectTLS
	WebSocket
	BOSH
)

func (k Kind) String() string {
	switch k {
	case StartTLS:
		return "starttls"
	case DirectTLS:
		return "directtls"
	case WebSocket:
		return "websocket"
	case BOSH:
		return "bosh"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Record is a single endpoint of an XMPP service.
type Record struct {
	Kind     Kind
	Target   string
	Port     uint16
	Priority uint16
	Weight   uint16

	// URL is the endpoint of WebSocket and BOSH records.
	URL string

	// InvalidUntil is the time until which the record should not be used.
	InvalidUntil time.Time
}

func recordFromSRV(a *net.SRV, kind Kind) Record {
	return Record{
		Kind:     kind,
		Target:   strings.TrimSuffix(a.Target, "."),
		Port:     a.Port,
		Priority: a.Priority,
		Weight:   a.Weight,
	}
}

// Addr returns the host and port of the record joined for dialing.
// WebSocket and BOSH records are dialed through their URL.
func (r Record) Addr() string {
	return net.JoinHostPort(r.Target, fmt.Sprint(r.Port))
}

// Same reports whether r and o describe the same endpoint, ignoring whether
// either has been invalidated.
func (r Record) Same(o Record) bool {
	return r.Target == o.Target && r.Port == o.Port && r.Priority == o.Priority &&
		r.Weight == o.Weight && r.Kind == o.Kind && r.URL == o.URL
}

// Valid reports whether the record may be used at now.
func (r Record) Valid(now time.Time) bool {
	return r.InvalidUntil.IsZero() || now.After(r.InvalidUntil)
}

func (r Record) String() string {
	addr := r.URL
	if addr == "" {
		addr = r.Addr()
	}
	return fmt.Sprintf("%s %s (priority %d, weight %d)", r.Kind, addr, r.Priority, r.Weight)
}

// Result is the ordered list of endpoints of a domain.
// Records are ordered by ascending priority and, within a priority, by
// descending weight.
// Result is not safe for concurrent use.
type Result struct {
	Domain  string
	Records []Record

	now func() time.Time
}

// NewResult returns an empty result for domain.
func NewResult(domain string) *Result {
	return &Result{Domain: domain, now: time.Now}
}

// SetClock sets the function used to read the current time.
func (r *Result) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Result) time() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

func compareRecords(a, b Record) int {
	return cmp.Or(
		cmp.Compare(a.Priority, b.Priority),
		cmp.Compare(b.Weight, a.Weight),
	)
}

// Record returns the first record that is currently valid.
func (r *Result) Record() (Record, bool) {
	now := r.time()
	for _, rec := range r.Records {
		if rec.Valid(now) {
			return rec, true
		}
	}
	return Record{}, false
}

// HasValid reports whether any record is currently valid.
func (r *Result) HasValid() bool {
	_, ok := r.Record()
	return ok
}

// MarkInvalid prevents rec from being returned by Record for d.
// It reports whether rec was found.
func (r *Result) MarkInvalid(rec Record, d time.Duration) bool {
	for i := range r.Records {
		if r.Records[i].Same(rec) {
			r.Records[i].InvalidUntil = r.time().Add(d)
			return true
		}
	}
	return false
}

// Update merges the records of a new query into the result and reports
// whether anything changed.
// Records that are no longer returned are dropped, new records are added, and
// the invalidation of records present in both is kept unless the new record
// carries its own.
func (r *Result) Update(records []Record) bool {
	before := len(r.Records)
	kept := slices.DeleteFunc(slices.Clone(r.Records), func(old Record) bool {
		return !slices.ContainsFunc(records, old.Same)
	})
	changed := len(kept) != before

	for _, rec := range records {
		i := slices.IndexFunc(kept, rec.Same)
		if i < 0 {
			kept = append(kept, rec)
			changed = true
			continue
		}
		if !rec.InvalidUntil.IsZero() {
			kept[i].InvalidUntil = rec.InvalidUntil
			changed = true
		}
	}
	slices.SortStableFunc(kept, compareRecords)
	r.Records = kept
	return changed
}
