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
	// Event log metrics
	EventsAppended *prometheus.CounterVec
	StreamDropped  prometheus.Counter

	// Ledger metrics
	LedgerDebits      prometheus.Counter
	LedgerCredits     *prometheus.CounterVec
	InsufficientFunds prometheus.Counter

	// Dispatch metrics
	CommandsEnqueued  prometheus.Counter
	CommandsClaimed   prometheus.Counter
	CommandsFinalized *prometheus.CounterVec
	SubmitLatency     prometheus.Histogram

	// Publish metrics
	PublishRequests   *prometheus.CounterVec
	Compensations     *prometheus.CounterVec
	ExpiredPublishes  prometheus.Counter
	ConsistencyFaults *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram

	// Archive metrics
	EventsArchived prometheus.Counter
	ArchiveLag     prometheus.Gauge

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Health metrics
	LastSuccessfulReconcile prometheus.Gauge
	LastSuccessfulArchive   prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_ledger"
	}

	return &Metrics{
		// Event log metrics
		EventsAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventlog",
			Name:      "events_appended_total",
			Help:      "Total number of events appended by type",
		}, []string{"event_type"}),
		StreamDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventlog",
			Name:      "stream_dropped_total",
			Help:      "Total number of events dropped for slow stream subscribers",
		}),

		// Ledger metrics
		LedgerDebits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "debits_total",
			Help:      "Total number of ledger debits",
		}),
		LedgerCredits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "credits_total",
			Help:      "Total number of ledger credits by reason",
		}, []string{"reason"}),
		InsufficientFunds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "insufficient_funds_total",
			Help:      "Total number of debits rejected for insufficient funds",
		}),

		// Dispatch metrics
		CommandsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "commands_enqueued_total",
			Help:      "Total number of commands enqueued",
		}),
		CommandsClaimed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "commands_claimed_total",
			Help:      "Total number of commands claimed by workers",
		}),
		CommandsFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "commands_finalized_total",
			Help:      "Total number of commands finalized by status",
		}, []string{"status"}),
		SubmitLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "submit_latency_seconds",
			Help:      "Executor submission latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Publish metrics
		PublishRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "requests_total",
			Help:      "Total number of publish requests by result",
		}, []string{"result"}),
		Compensations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "compensations_total",
			Help:      "Total number of compensating credits by cause",
		}, []string{"cause"}),
		ExpiredPublishes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "expired_total",
			Help:      "Total number of pending publishes expired by reconciliation",
		}),
		ConsistencyFaults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "consistency_faults_total",
			Help:      "Total number of faults left for reconciliation by operation",
		}, []string{"operation"}),
		ReconcileDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "reconcile_duration_seconds",
			Help:      "Reconciliation sweep duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),

		// Archive metrics
		EventsArchived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "events_archived_total",
			Help:      "Total number of events copied to the archive",
		}),
		ArchiveLag: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "lag_events",
			Help:      "Events left to archive after the last run",
		}),

		// HTTP metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status",
		}, []string{"route", "status"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		// Health metrics
		LastSuccessfulReconcile: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_reconcile_timestamp",
			Help:      "Unix timestamp of last successful reconciliation sweep",
		}),
		LastSuccessfulArchive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_archive_timestamp",
			Help:      "Unix timestamp of last successful archive run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventAppended increments the appended events counter.
func RecordEventAppended(eventType string) {
	DefaultMetrics.EventsAppended.WithLabelValues(eventType).Inc()
}

// RecordStreamDropped counts an event a subscriber was too slow to receive.
func RecordStreamDropped() {
	DefaultMetrics.StreamDropped.Inc()
}

// RecordDebit increments the debit counter.
func RecordDebit() {
	DefaultMetrics.LedgerDebits.Inc()
}

// RecordCredit increments the credit counter for a reason.
func RecordCredit(reason string) {
	DefaultMetrics.LedgerCredits.WithLabelValues(reason).Inc()
}

// RecordInsufficientFunds increments the rejected debit counter.
func RecordInsufficientFunds() {
	DefaultMetrics.InsufficientFunds.Inc()
}

// RecordEnqueued increments the enqueued commands counter.
func RecordEnqueued() {
	DefaultMetrics.CommandsEnqueued.Inc()
}

// RecordClaimed adds n claimed commands.
func RecordClaimed(n int) {
	DefaultMetrics.CommandsClaimed.Add(float64(n))
}

// RecordFinalized increments the finalized commands counter for a status.
func RecordFinalized(status string) {
	DefaultMetrics.CommandsFinalized.WithLabelValues(status).Inc()
}

// RecordSubmitLatency records executor submission latency.
func RecordSubmitLatency(seconds float64) {
	DefaultMetrics.SubmitLatency.Observe(seconds)
}

// RecordPublishRequest records a publish request result.
func RecordPublishRequest(result string) {
	DefaultMetrics.PublishRequests.WithLabelValues(result).Inc()
}

// RecordCompensation records a compensating credit.
func RecordCompensation(cause string) {
	DefaultMetrics.Compensations.WithLabelValues(cause).Inc()
}

// RecordExpired increments the expired publishes counter.
func RecordExpired() {
	DefaultMetrics.ExpiredPublishes.Inc()
}

// RecordConsistencyFault records a fault left for reconciliation.
func RecordConsistencyFault(operation string) {
	DefaultMetrics.ConsistencyFaults.WithLabelValues(operation).Inc()
}

// RecordReconcile records a reconciliation sweep.
func RecordReconcile(seconds float64, unixNow int64) {
	DefaultMetrics.ReconcileDuration.Observe(seconds)
	DefaultMetrics.LastSuccessfulReconcile.Set(float64(unixNow))
}

// RecordArchive records an archive run.
func RecordArchive(copied int, lag int64, unixNow int64) {
	DefaultMetrics.EventsArchived.Add(float64(copied))
	DefaultMetrics.ArchiveLag.Set(float64(lag))
	DefaultMetrics.LastSuccessfulArchive.Set(float64(unixNow))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(route, status string, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, status).Inc()
	DefaultMetrics.HTTPDuration.WithLabelValues(route).Observe(seconds)
}
