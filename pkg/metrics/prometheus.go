package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the global container of Prometheus instruments shared across
// the ingest gateway, stream worker, and query service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Ingest (C3)
	SamplesAcceptedTotal *prometheus.CounterVec
	SamplesRejectedTotal *prometheus.CounterVec
	BatchSize            prometheus.Histogram
	PublishDuration      *prometheus.HistogramVec
	PreaggFlushSize      prometheus.Histogram

	// Stream worker (C4)
	BreakerState      *prometheus.GaugeVec
	ConsumerLag       *prometheus.GaugeVec
	MessagesProcessed *prometheus.CounterVec
	DeadLettered      prometheus.Counter
	RollupDuration    *prometheus.HistogramVec

	// Query & signals (C5)
	QueryDuration   *prometheus.HistogramVec
	LiveConnections prometheus.Gauge
	AlertsTriggered *prometheus.CounterVec
	HealthScore     *prometheus.GaugeVec

	// System metrics, driven by a registered RuntimeCollector rather than a
	// field this struct sets itself.
	runtimeCollector *RuntimeCollector

	// InFlightTracker drives HTTPRequestsInFlight from the router
	// middleware's Start/End calls, keyed per HTTP method.
	InFlightTracker *RequestTracker

	// Service info
	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics initializes and registers the metrics for namespace/subsystem.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"route", "method"},
		),

		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		SamplesAcceptedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ingest_samples_accepted_total",
				Help:      "Total number of metric samples accepted by the ingest gateway",
			},
			[]string{"service_name"},
		),

		SamplesRejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ingest_samples_rejected_total",
				Help:      "Total number of metric samples rejected by the ingest gateway",
			},
			[]string{"reason"},
		),

		BatchSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ingest_batch_size",
				Help:      "Number of samples per accepted ingest batch",
				Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
			},
		),

		PublishDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ingest_publish_duration_seconds",
				Help:      "Duration of publishing a batch envelope to the bus",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"outcome"},
		),

		PreaggFlushSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ingest_preagg_flush_size",
				Help:      "Number of aggregation keys flushed per pre-aggregation window",
				Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000},
			},
		),

		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "worker_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"partition"},
		),

		ConsumerLag: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "worker_consumer_lag",
				Help:      "Estimated consumer lag, in messages, per partition",
			},
			[]string{"partition"},
		),

		MessagesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "worker_messages_processed_total",
				Help:      "Total number of bus messages processed by the stream worker",
			},
			[]string{"partition", "status"},
		),

		DeadLettered: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "worker_dead_lettered_total",
				Help:      "Total number of batch envelopes sent to the dead-letter sink",
			},
		),

		RollupDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "worker_rollup_duration_seconds",
				Help:      "Duration of a rollup pass (hourly or daily)",
				Buckets:   []float64{.05, .1, .5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"granularity"},
		),

		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "query_duration_seconds",
				Help:      "Duration of query DSL executions",
				Buckets:   []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),

		LiveConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "query_live_connections",
				Help:      "Current number of open live-push WebSocket connections",
			},
		),

		AlertsTriggered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "signals_alerts_triggered_total",
				Help:      "Total number of alerts triggered by the derived-signal engine",
			},
			[]string{"severity"},
		),

		HealthScore: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "signals_health_score",
				Help:      "Last computed health score per service",
			},
			[]string{"service_name"},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	m.runtimeCollector = NewRuntimeCollector(namespace, subsystem)
	prometheus.MustRegister(m.runtimeCollector)
	m.InFlightTracker = NewRequestTracker(m.HTTPRequestsInFlight)

	defaultMetrics = m
	return m
}

// Get returns the global metrics container, initializing it with default
// namespace "vantage" on first use.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("vantage", "")
	}
	return defaultMetrics
}

// RecordHTTPRequest records an HTTP request's outcome and latency.
func (m *Metrics) RecordHTTPRequest(route, method, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordSamplesAccepted records samples accepted for a service in a single batch.
func (m *Metrics) RecordSamplesAccepted(serviceName string, count int) {
	m.SamplesAcceptedTotal.WithLabelValues(serviceName).Add(float64(count))
	m.BatchSize.Observe(float64(count))
}

// RecordSamplesRejected records samples rejected for a given reason.
func (m *Metrics) RecordSamplesRejected(reason string, count int) {
	m.SamplesRejectedTotal.WithLabelValues(reason).Add(float64(count))
}

// RecordPublish records the outcome and duration of publishing a batch to the bus.
func (m *Metrics) RecordPublish(outcome string, duration time.Duration) {
	m.PublishDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordPreaggFlush records the number of aggregation keys flushed.
func (m *Metrics) RecordPreaggFlush(keys int) {
	m.PreaggFlushSize.Observe(float64(keys))
}

// SetBreakerState records a partition's circuit breaker state (0/1/2).
func (m *Metrics) SetBreakerState(partition string, state float64) {
	m.BreakerState.WithLabelValues(partition).Set(state)
}

// SetConsumerLag records the estimated lag for a partition.
func (m *Metrics) SetConsumerLag(partition string, lag float64) {
	m.ConsumerLag.WithLabelValues(partition).Set(lag)
}

// RecordMessageProcessed records the outcome of processing one bus message.
func (m *Metrics) RecordMessageProcessed(partition, status string) {
	m.MessagesProcessed.WithLabelValues(partition, status).Inc()
}

// RecordDeadLettered increments the dead-letter counter.
func (m *Metrics) RecordDeadLettered() {
	m.DeadLettered.Inc()
}

// RecordRollup records the duration of a rollup pass.
func (m *Metrics) RecordRollup(granularity string, duration time.Duration) {
	m.RollupDuration.WithLabelValues(granularity).Observe(duration.Seconds())
}

// RecordQuery records the outcome and duration of a DSL query execution.
func (m *Metrics) RecordQuery(outcome string, duration time.Duration) {
	m.QueryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetLiveConnections sets the current count of open live-push connections.
func (m *Metrics) SetLiveConnections(count int) {
	m.LiveConnections.Set(float64(count))
}

// RecordAlertTriggered increments the alert counter for a severity.
func (m *Metrics) RecordAlertTriggered(severity string) {
	m.AlertsTriggered.WithLabelValues(severity).Inc()
}

// SetHealthScore records the last computed health score for a service.
func (m *Metrics) SetHealthScore(serviceName string, score float64) {
	m.HealthScore.WithLabelValues(serviceName).Set(score)
}

// SetServiceInfo sets the service info gauge.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts the HTTP server exposing /metrics and /health.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, write error isn't actionable
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
