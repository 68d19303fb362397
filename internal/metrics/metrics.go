// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

// Package metrics provides Prometheus instrumentation for the experimentation
// engine: assignment outcomes, exposure ledger throughput and backpressure,
// and analysis-path durations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Assignment Metrics
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitlab_assignments_total",
			Help: "Total assignment evaluations by outcome",
		},
		[]string{"outcome"}, // "assigned", "inactive", "traffic_excluded", "target_excluded", "not_found"
	)

	AssignmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "splitlab_assignment_duration_seconds",
			Help:    "Duration of assignment evaluations in seconds",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		},
	)

	VariantAssignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitlab_variant_assignments_total",
			Help: "Total assignments by experiment and variant",
		},
		[]string{"experiment_id", "variant_id"},
	)

	// Ledger Metrics
	LedgerEventsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "splitlab_ledger_events_queued_total",
			Help: "Total events accepted into the ledger queue",
		},
	)

	LedgerEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitlab_ledger_events_dropped_total",
			Help: "Total events rejected by the ledger",
		},
		[]string{"reason"}, // "queue_full", "closed", "flush_failed"
	)

	LedgerEventsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "splitlab_ledger_events_written_total",
			Help: "Total events durably written by the background writer",
		},
	)

	LedgerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "splitlab_ledger_queue_depth",
			Help: "Current number of events waiting in the ledger queue",
		},
	)

	LedgerFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "splitlab_ledger_flush_duration_seconds",
			Help:    "Duration of ledger batch flushes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LedgerFlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "splitlab_ledger_flush_errors_total",
			Help: "Total failed ledger batch flushes",
		},
	)

	// Analysis Metrics
	AggregationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "splitlab_aggregation_duration_seconds",
			Help:    "Duration of per-metric event aggregation in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"metric_kind"},
	)

	AnalysisRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitlab_analysis_runs_total",
			Help: "Total significance analyses by result",
		},
		[]string{"result"}, // "significant", "inconclusive", "error"
	)

	ReportsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitlab_reports_generated_total",
			Help: "Total decision reports generated by recommendation",
		},
		[]string{"recommendation"},
	)

	// Store Metrics
	StoreCacheRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "splitlab_store_cache_refreshes_total",
			Help: "Total experiment snapshot cache refreshes",
		},
	)

	StoreCacheExperiments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "splitlab_store_cache_experiments",
			Help: "Number of experiments in the in-memory snapshot",
		},
	)
)

// RecordAssignment records an assignment evaluation outcome and duration.
func RecordAssignment(outcome string, elapsed time.Duration) {
	AssignmentsTotal.WithLabelValues(outcome).Inc()
	AssignmentDuration.Observe(elapsed.Seconds())
}

// RecordLedgerFlush records a batch flush duration and event count.
func RecordLedgerFlush(elapsed time.Duration, count int) {
	LedgerFlushDuration.Observe(elapsed.Seconds())
	LedgerEventsWritten.Add(float64(count))
}
