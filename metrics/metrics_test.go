// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mellium.im/xclient/metrics"
)

func TestNilCollector(t *testing.T) {
	var c *metrics.Collector
	assert.NotPanics(t, func() {
		c.Stanza(metrics.In, "handled")
		c.ModuleFailure("ping")
		c.Request("timeout")
		c.Ack(metrics.Out)
		c.AckRequest(metrics.In)
		c.Resumption(true)
		c.QueueDepth(3)
	})
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := metrics.New(reg)
	require.NoError(t, err)

	c.Stanza(metrics.In, "handled")
	c.Stanza(metrics.In, "handled")
	c.Resumption(false)
	c.QueueDepth(4)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range families {
		require.NotEmpty(t, mf.GetMetric())
		m := mf.GetMetric()[0]
		switch {
		case m.GetCounter() != nil:
			values[mf.GetName()] = m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			values[mf.GetName()] = m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, 2.0, values["xclient_dispatch_stanzas_total"])
	assert.Equal(t, 1.0, values["xclient_sm_resumptions_total"])
	assert.Equal(t, 4.0, values["xclient_sm_queue_depth"])
}

func TestDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.New(reg)
	require.NoError(t, err)
	_, err = metrics.New(reg)
	assert.Error(t, err)
}

func TestUnregistered(t *testing.T) {
	c, err := metrics.New(nil)
	require.NoError(t, err)
	assert.NotNil(t, c)
	c.Request("result")
}
