// Package metrics exposes Prometheus instrumentation for the monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AlertsIngested counts stored alerts by source type.
	AlertsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "osintwatch_alerts_ingested_total",
		Help: "Alerts stored, by source type.",
	}, []string{"source_type"})

	// DuplicatesSuppressed counts alerts flagged as duplicates at ingest.
	DuplicatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "osintwatch_duplicates_suppressed_total",
		Help: "Alerts marked as duplicates of an earlier alert.",
	})

	// PairChecks counts pairwise comparisons evaluated by the correlation
	// engine, by evidence dimension.
	PairChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "osintwatch_correlation_pair_checks_total",
		Help: "Pairwise comparisons evaluated, by evidence dimension.",
	}, []string{"dimension"})

	// ThreadsBuilt counts threads returned by correlation runs.
	ThreadsBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "osintwatch_correlation_threads_total",
		Help: "Threads produced by correlation runs.",
	})

	// CorrelationDuration observes wall time of one correlation run.
	CorrelationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "osintwatch_correlation_run_seconds",
		Help:    "Duration of one correlation run.",
		Buckets: prometheus.DefBuckets,
	})
)
