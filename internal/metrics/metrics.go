// Package metrics defines custom Prometheus metrics for assetstage.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetstage_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assetstage_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Pipeline metrics.
var (
	// UploadURLsTotal counts issued upload URLs by outcome.
	UploadURLsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetstage_upload_urls_total",
			Help: "Signed upload URLs issued",
		},
		[]string{"status"},
	)

	// ConfirmationsTotal counts upload confirmations (registry claims) by outcome.
	ConfirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetstage_confirmations_total",
			Help: "Upload confirmations by outcome",
		},
		[]string{"status"},
	)

	// PromotionsTotal counts per-key promotions by outcome
	// ("success", "copy_error", "delete_error", "illegal_key").
	PromotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetstage_promotions_total",
			Help: "Staging-to-permanent promotions by outcome",
		},
		[]string{"status"},
	)

	// ReclaimedObjectsTotal counts staging objects deleted by the sweeper.
	ReclaimedObjectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assetstage_reclaimed_objects_total",
			Help: "Orphaned staging objects deleted by the sweeper",
		},
	)

	// SweepErrorsTotal counts per-object sweep failures by stage.
	SweepErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetstage_sweep_errors_total",
			Help: "Per-object failures during reclamation sweeps",
		},
		[]string{"stage"},
	)

	// SweepDuration observes the wall-clock time of a full sweep.
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assetstage_sweep_duration_seconds",
			Help:    "Duration of reclamation sweeps in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			UploadURLsTotal,
			ConfirmationsTotal,
			PromotionsTotal,
			ReclaimedObjectsTotal,
			SweepErrorsTotal,
			SweepDuration,
		)
		// Initialize so the series appear in /metrics before the first event.
		PromotionsTotal.WithLabelValues("success")
		UploadURLsTotal.WithLabelValues("success")
	})
}

// NormalizePath maps actual request paths to route templates suitable for
// use as Prometheus metric labels, keeping staging keys out of label values.
func NormalizePath(path string) string {
	switch path {
	case "/", "":
		return "/"
	case "/health", "/metrics", "/openapi", "/openapi.json", "/openapi.yaml":
		return path
	case "/api/uploads", "/api/uploads/confirm", "/api/assets/commit", "/api/admin/sweep":
		return path
	}

	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}
	if strings.HasPrefix(path, "/api/") {
		return "/api/{other}"
	}
	return "/{other}"
}
