// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package metrics exports Prometheus collectors for a client session.
//
// A nil *Collector is valid and discards all observations, so packages can
// record metrics unconditionally.
package metrics // import "mellium.im/xclient/metrics"

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "xclient"

// Directions used as label values.
const (
	In  = "in"
	Out = "out"
)

// Collector holds the metrics for one or more sessions.
type Collector struct {
	stanzas      *prometheus.CounterVec
	failures     *prometheus.CounterVec
	requests     *prometheus.CounterVec
	smAcks       *prometheus.CounterVec
	smRequests   *prometheus.CounterVec
	smResumption *prometheus.CounterVec
	smQueue      prometheus.Gauge
}

// New creates a collector and registers it with reg.
// If reg is nil the collectors are created but not registered.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		stanzas: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "stanzas_total",
				Help:      "Stanzas routed by the dispatcher.",
			},
			[]string{"direction", "route"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "module_failures_total",
				Help:      "Errors returned by modules while handling stanzas.",
			},
			[]string{"module"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "requests",
				Name:      "completed_total",
				Help:      "Outgoing requests by outcome.",
			},
			[]string{"outcome"},
		),
		smAcks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sm",
				Name:      "acks_total",
				Help:      "Stream management acknowledgements.",
			},
			[]string{"direction"},
		),
		smRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sm",
				Name:      "ack_requests_total",
				Help:      "Stream management acknowledgement requests.",
			},
			[]string{"direction"},
		),
		smResumption: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sm",
				Name:      "resumptions_total",
				Help:      "Stream resumption attempts by result.",
			},
			[]string{"result"},
		),
		smQueue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sm",
				Name:      "queue_depth",
				Help:      "Outgoing stanzas waiting for acknowledgement.",
			},
		),
	}
	if reg == nil {
		return c, nil
	}
	for _, col := range []prometheus.Collector{
		c.stanzas, c.failures, c.requests,
		c.smAcks, c.smRequests, c.smResumption, c.smQueue,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Stanza records a stanza routed in the given direction.
func (c *Collector) Stanza(direction, route string) {
	if c == nil {
		return
	}
	c.stanzas.WithLabelValues(direction, route).Inc()
}

// ModuleFailure records a module error.
func (c *Collector) ModuleFailure(module string) {
	if c == nil {
		return
	}
	c.failures.WithLabelValues(module).Inc()
}

// Request records the outcome of an outgoing request, eg. "result", "error",
// "timeout", or "disconnected".
func (c *Collector) Request(outcome string) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(outcome).Inc()
}

// Ack records an acknowledgement sent (Out) or received (In).
func (c *Collector) Ack(direction string) {
	if c == nil {
		return
	}
	c.smAcks.WithLabelValues(direction).Inc()
}

// AckRequest records an acknowledgement request sent (Out) or received (In).
func (c *Collector) AckRequest(direction string) {
	if c == nil {
		return
	}
	c.smRequests.WithLabelValues(direction).Inc()
}

// Resumption records the result of a resumption attempt.
func (c *Collector) Resumption(ok bool) {
	if c == nil {
		return
	}
	result := "failed"
	if ok {
		result = "resumed"
	}
	c.smResumption.WithLabelValues(result).Inc()
}

// QueueDepth sets the number of unacknowledged outgoing stanzas.
func (c *Collector) QueueDepth(n int) {
	if c == nil {
		return
	}
	c.smQueue.Set(float64(n))
}
