// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Cycle metrics
	CyclesTotal    *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	RowsProcessed  prometheus.Counter
	CyclesRejected prometheus.Counter

	// Market data metrics
	FetchFailures    *prometheus.CounterVec
	IngestionLatency prometheus.Histogram

	// Reconciliation metrics
	ReconBreaks *prometheus.CounterVec

	// Anomaly metrics
	AnomaliesDetected *prometheus.CounterVec

	// Database metrics
	DBWriteLatency prometheus.Histogram

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
	PortfolioNav        prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "portfolio_ops"
	}

	return &Metrics{
		// Cycle metrics
		CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Total number of cycle runs by status",
		}, []string{"status"}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "End-to-end cycle duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		}),
		RowsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "rows_processed_total",
			Help:      "Total number of rows written across all cycles",
		}),
		CyclesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "rejected_total",
			Help:      "Total number of cycle triggers rejected because a cycle was in flight",
		}),

		// Market data metrics
		FetchFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "fetch_failures_total",
			Help:      "Total number of per-ticker fetch failures",
		}, []string{"ticker"}),
		IngestionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "ingestion_latency_seconds",
			Help:      "Market data fetch phase latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Reconciliation metrics
		ReconBreaks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recon",
			Name:      "breaks_total",
			Help:      "Total number of reconciliation breaks by check type",
		}, []string{"check_type"}),

		// Anomaly metrics
		AnomaliesDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "anomaly",
			Name:      "detected_total",
			Help:      "Total number of anomalies detected by severity",
		}, []string{"severity"}),

		// Database metrics
		DBWriteLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "write_latency_seconds",
			Help:      "Cycle transaction write-and-commit latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Health metrics
		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last successful cycle",
		}),
		PortfolioNav: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "portfolio_nav",
			Help:      "Total portfolio net asset value from the last successful cycle",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
