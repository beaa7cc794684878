// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memcontrol

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the controller's Prometheus metrics. All methods are
// nil-receiver safe so the controller can run with metrics disabled.
//
// # Fields
//
//   - DesiredDuration: current target (seconds; +Inf when unpressured)
//   - MemoryRatio: used / working-limit at the last update
//   - RegisteredQueues: queue table size
//   - ReportsTotal: duration reports received
//   - PushbacksTotal: targets pushed to queues
type Metrics struct {
	DesiredDuration  prometheus.Gauge
	MemoryRatio      prometheus.Gauge
	RegisteredQueues prometheus.Gauge
	ReportsTotal     prometheus.Counter
	PushbacksTotal   prometheus.Counter
}

// InitMetrics creates and registers the controller metrics on the
// default Prometheus registry. Panics if called twice.
func InitMetrics() *Metrics {
	const subsystem = "memcontrol"
	return &Metrics{
		DesiredDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "kodiak",
			Subsystem: subsystem,
			Name:      "desired_duration_seconds",
			Help:      "Current queue-duration target; +Inf means no pressure",
		}),
		MemoryRatio: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "kodiak",
			Subsystem: subsystem,
			Name:      "memory_ratio",
			Help:      "Used memory over the working limit at the last update",
		}),
		RegisteredQueues: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "kodiak",
			Subsystem: subsystem,
			Name:      "registered_queues",
			Help:      "Queues currently registered with the controller",
		}),
		ReportsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "kodiak",
			Subsystem: subsystem,
			Name:      "reports_total",
			Help:      "Queue duration reports received",
		}),
		PushbacksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "kodiak",
			Subsystem: subsystem,
			Name:      "pushbacks_total",
			Help:      "Targets pushed to queues outside their own reports",
		}),
	}
}

func (m *Metrics) SetDesiredDuration(v float64) {
	if m == nil {
		return
	}
	m.DesiredDuration.Set(v)
}

func (m *Metrics) SetMemoryRatio(v float64) {
	if m == nil {
		return
	}
	m.MemoryRatio.Set(v)
}

func (m *Metrics) SetRegisteredQueues(n int) {
	if m == nil {
		return
	}
	m.RegisteredQueues.Set(float64(n))
}

func (m *Metrics) IncReport() {
	if m == nil {
		return
	}
	m.ReportsTotal.Inc()
}

func (m *Metrics) IncPushback() {
	if m == nil {
		return
	}
	m.PushbacksTotal.Inc()
}
