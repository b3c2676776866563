// Package metrics provides Prometheus metrics for devmatch.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "devmatch"
)

// Assignment metrics
var (
	// BatchesGeneratedTotal counts committed batches by trigger (generate or refresh).
	BatchesGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "batches_generated_total",
			Help:      "Total batches generated",
		},
		[]string{"trigger"},
	)

	// CandidatesOfferedTotal counts offers by slot level.
	CandidatesOfferedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "candidates_offered_total",
			Help:      "Total candidate offers created",
		},
		[]string{"level"},
	)

	// PromotionsTotal counts developers placed in a slot outside their own level.
	PromotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "promotions_total",
			Help:      "Total fallback placements by slot and source level",
		},
		[]string{"slot", "source"},
	)

	// ResponsesTotal counts candidate transitions out of pending by outcome.
	ResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "responses_total",
			Help:      "Total candidate responses by outcome",
		},
		[]string{"outcome"},
	)

	// ResponseSeconds tracks how long developers took to respond.
	ResponseSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "response_seconds",
			Help:      "Seconds between offer and response",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 900, 1800},
		},
		[]string{"outcome"},
	)

	// GuardFailuresTotal counts business rule rejections by error kind.
	GuardFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "guard_failures_total",
			Help:      "Total operations refused by a business rule",
		},
		[]string{"operation", "kind"},
	)
)

// Storage metrics
var (
	// TxRetriesTotal counts transactions retried after a transient lock error.
	TxRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "tx_retries_total",
			Help:      "Total transaction retries after transient conflicts",
		},
		[]string{"operation"},
	)
)

// Sweeper metrics
var (
	// SweepRunsTotal counts expiry sweeps by result.
	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Total expiry sweeps",
		},
		[]string{"result"},
	)

	// SweepExpiredTotal counts candidates expired by the sweeper.
	SweepExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "expired_total",
			Help:      "Total candidates expired by the sweeper",
		},
	)
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
