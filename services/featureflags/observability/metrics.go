// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the feature-flag
// coordinator.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking. Every method is nil-receiver safe so components can run with
// metrics disabled.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all Kodiak metrics.
const metricsNamespace = "kodiak"

// Subsystem for feature-flag metrics.
const flagsSubsystem = "featureflags"

// Metrics holds all Prometheus metrics for the coordinator.
//
// # Fields
//
//   - EnablesTotal: enable outcomes by flag and result
//   - EnableDurationSeconds: end-to-end enable latency by result
//   - RebuildsTotal: registry snapshot publications
//   - RebuildDurationSeconds: snapshot build latency
//   - PeerFailuresTotal: peer RPC failures by peer
type Metrics struct {
	// EnablesTotal counts enable attempts.
	// Labels: flag, result (ok, unsupported, migration_crash, peer_error, error)
	EnablesTotal *prometheus.CounterVec

	// EnableDurationSeconds measures enable latency including peer
	// propagation. Labels: result
	EnableDurationSeconds *prometheus.HistogramVec

	// RebuildsTotal counts registry snapshot publications.
	RebuildsTotal prometheus.Counter

	// RebuildDurationSeconds measures snapshot build + publish latency.
	RebuildDurationSeconds prometheus.Histogram

	// PeerFailuresTotal counts failed peer RPCs. Labels: peer
	PeerFailuresTotal *prometheus.CounterVec

	classify func(err error) string
}

// InitMetrics creates and registers all coordinator metrics on the
// default Prometheus registry.
//
// # Inputs
//
//   - classify: maps an enable error to a result label. Nil collapses
//     every non-nil error to "error".
//
// # Outputs
//
//   - *Metrics: the registered metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics(classify func(err error) string) *Metrics {
	return &Metrics{
		EnablesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: flagsSubsystem,
				Name:      "enables_total",
				Help:      "Feature flag enable attempts by flag and result",
			},
			[]string{"flag", "result"},
		),
		EnableDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: flagsSubsystem,
				Name:      "enable_duration_seconds",
				Help:      "End-to-end enable latency including peer propagation",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"result"},
		),
		RebuildsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: flagsSubsystem,
				Name:      "registry_rebuilds_total",
				Help:      "Registry snapshot publications",
			},
		),
		RebuildDurationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: flagsSubsystem,
				Name:      "registry_rebuild_duration_seconds",
				Help:      "Registry snapshot build and publish latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
		PeerFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: flagsSubsystem,
				Name:      "peer_failures_total",
				Help:      "Failed feature-flag RPCs by peer",
			},
			[]string{"peer"},
		),
		classify: classify,
	}
}

// ObserveEnable records one enable attempt. Nil-receiver safe.
func (m *Metrics) ObserveEnable(flag string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		if m.classify != nil {
			result = m.classify(err)
		}
	}
	m.EnablesTotal.WithLabelValues(flag, result).Inc()
	m.EnableDurationSeconds.WithLabelValues(result).Observe(elapsed.Seconds())
}

// IncRebuild counts a registry publication without timing it.
// Nil-receiver safe.
func (m *Metrics) IncRebuild() {
	if m == nil {
		return
	}
	m.RebuildsTotal.Inc()
}

// ObserveRebuild records a timed registry rebuild. Nil-receiver safe.
func (m *Metrics) ObserveRebuild(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RebuildsTotal.Inc()
	m.RebuildDurationSeconds.Observe(elapsed.Seconds())
}

// IncPeerFailure counts a failed peer RPC. Nil-receiver safe.
func (m *Metrics) IncPeerFailure(peer string) {
	if m == nil {
		return
	}
	m.PeerFailuresTotal.WithLabelValues(peer).Inc()
}
