// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the risk engine.
type Metrics struct {
	// Detection job metrics
	DetectorRuns     *prometheus.CounterVec // status: ok | error | skipped
	PatternsDetected prometheus.Counter
	PatternsStored   prometheus.Counter
	PatternsExpired  prometheus.Counter
	LastDetectorRun  prometheus.Gauge
	DetectorDuration prometheus.Histogram

	// Correlation metrics
	CorrelationQueries prometheus.Counter
	AnomalousRecords   prometheus.Counter
	HistogramRefreshes prometheus.Counter

	// API metrics
	HTTPRequests    *prometheus.CounterVec // route, code
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "shielded_risk"
	}

	return &Metrics{
		DetectorRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_runs_total",
			Help:      "Batch detection runs by outcome (ok, error, skipped).",
		}, []string{"status"}),
		PatternsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patterns_detected_total",
			Help:      "Batch patterns produced by detection runs.",
		}),
		PatternsStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patterns_stored_total",
			Help:      "Pattern upserts written to the store.",
		}),
		PatternsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patterns_expired_total",
			Help:      "Stored patterns removed by the expiry sweep.",
		}),
		LastDetectorRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_detector_run_timestamp",
			Help:      "Unix timestamp of the last completed detection run.",
		}),
		DetectorDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detector_duration_seconds",
			Help:      "Duration of detection runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		CorrelationQueries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_queries_total",
			Help:      "Round-trip correlation queries served.",
		}),
		AnomalousRecords: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalous_records_total",
			Help:      "Ledger rows skipped for missing required fields.",
		}),
		HistogramRefreshes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "histogram_refreshes_total",
			Help:      "Amount-frequency histogram cache refreshes.",
		}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
