// Package metrics registers the indexer's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hashinal_passes_total", Help: "Indexing passes by outcome"},
		[]string{"status"},
	)
	PassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "hashinal_pass_duration_seconds", Help: "Indexing pass latency", Buckets: prometheus.ExponentialBuckets(0.5, 2, 12)},
		[]string{"status"},
	)
	RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hashinal_records_total", Help: "Candidate records by outcome"},
		[]string{"status"},
	)
	SkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hashinal_skips_total", Help: "Skipped records by reason"},
		[]string{"reason"},
	)
	LastSequence = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "hashinal_last_sequence_number", Help: "Highest sequence number persisted by this process"},
	)
	OverlappingTriggers = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hashinal_overlapping_triggers_total", Help: "Triggers dropped because a pass was in flight"},
	)
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "Request latency", Buckets: prometheus.DefBuckets},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		PassesTotal,
		PassDuration,
		RecordsTotal,
		SkipsTotal,
		LastSequence,
		OverlappingTriggers,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}
