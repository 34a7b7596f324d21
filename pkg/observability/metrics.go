package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics (ops server)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Billing cycle metrics
	BillingCyclesTotal      *prometheus.CounterVec
	BillingCycleDuration    prometheus.Histogram
	BillingLastCycleSeconds prometheus.Gauge
	InvoicesProcessedTotal  *prometheus.CounterVec
	ChargeAttemptsTotal     *prometheus.CounterVec
	ChargeRetryWaitSeconds  prometheus.Histogram
	ChargesInFlight         prometheus.Gauge

	// Provider metrics
	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration prometheus.Histogram

	// Scheduler metrics
	SchedulerTicksTotal           *prometheus.CounterVec
	SchedulerTriggerFailuresTotal prometheus.Counter

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "antaeus_http_requests_total",
				Help: "Total number of HTTP requests to the ops server",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "antaeus_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		BillingCyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "antaeus_billing_cycles_total",
				Help: "Total number of billing cycles run",
			},
			[]string{"status"},
		),
		BillingCycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "antaeus_billing_cycle_duration_seconds",
				Help:    "Billing cycle duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		BillingLastCycleSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "antaeus_billing_last_cycle_timestamp_seconds",
				Help: "Unix time the last billing cycle finished",
			},
		),
		InvoicesProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "antaeus_invoices_processed_total",
				Help: "Total number of invoices resolved by the billing runner",
			},
			[]string{"outcome"},
		),
		ChargeAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "antaeus_charge_attempts_total",
				Help: "Total number of charge attempts against the payment provider",
			},
			[]string{"result"},
		),
		ChargeRetryWaitSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "antaeus_charge_retry_wait_seconds",
				Help:    "Backoff waited before a charge retry",
				Buckets: []float64{0, .5, 1, 2, 3, 4, 5, 10},
			},
		),
		ChargesInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "antaeus_charges_in_flight",
				Help: "Number of charge tasks currently running",
			},
		),

		ProviderCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "antaeus_provider_calls_total",
				Help: "Total number of payment provider calls",
			},
			[]string{"result"},
		),
		ProviderCallDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "antaeus_provider_call_duration_seconds",
				Help:    "Payment provider call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		SchedulerTicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "antaeus_scheduler_ticks_total",
				Help: "Total number of scheduler ticks by decision",
			},
			[]string{"decision"},
		),
		SchedulerTriggerFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "antaeus_scheduler_trigger_failures_total",
				Help: "Total number of triggers that returned an error or panicked",
			},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "antaeus_storage_operations_total",
				Help: "Total number of invoice store operations",
			},
			[]string{"operation", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "antaeus_storage_operation_duration_seconds",
				Help:    "Invoice store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "antaeus_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "antaeus_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "antaeus_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.BillingCyclesTotal,
		m.BillingCycleDuration,
		m.BillingLastCycleSeconds,
		m.InvoicesProcessedTotal,
		m.ChargeAttemptsTotal,
		m.ChargeRetryWaitSeconds,
		m.ChargesInFlight,
		m.ProviderCallsTotal,
		m.ProviderCallDuration,
		m.SchedulerTicksTotal,
		m.SchedulerTriggerFailuresTotal,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
	)

	return m
}

// RecordCycle records a finished billing cycle
func (m *Metrics) RecordCycle(status string, duration time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.BillingCyclesTotal.WithLabelValues(status).Inc()
	m.BillingCycleDuration.Observe(duration.Seconds())
	m.BillingLastCycleSeconds.Set(float64(finishedAt.Unix()))
}

// RecordInvoiceOutcome records the terminal outcome of one invoice
func (m *Metrics) RecordInvoiceOutcome(outcome string) {
	if m == nil {
		return
	}
	m.InvoicesProcessedTotal.WithLabelValues(outcome).Inc()
}

// RecordChargeAttempt records the result of one provider call made by the runner
func (m *Metrics) RecordChargeAttempt(result string) {
	if m == nil {
		return
	}
	m.ChargeAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordRetryWait records a backoff delay before a retry
func (m *Metrics) RecordRetryWait(d time.Duration) {
	if m == nil {
		return
	}
	m.ChargeRetryWaitSeconds.Observe(d.Seconds())
}

// ChargeStarted increments the in-flight gauge and returns the matching decrement
func (m *Metrics) ChargeStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ChargesInFlight.Inc()
	return m.ChargesInFlight.Dec
}

// RecordProviderCall records a payment provider call
func (m *Metrics) RecordProviderCall(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCallsTotal.WithLabelValues(result).Inc()
	m.ProviderCallDuration.Observe(duration.Seconds())
}

// RecordSchedulerTick records the decision taken on a scheduler tick
func (m *Metrics) RecordSchedulerTick(decision string) {
	if m == nil {
		return
	}
	m.SchedulerTicksTotal.WithLabelValues(decision).Inc()
}

// RecordTriggerFailure records a failed or panicking trigger
func (m *Metrics) RecordTriggerFailure() {
	if m == nil {
		return
	}
	m.SchedulerTriggerFailuresTotal.Inc()
}

// RecordStorageOperation records an invoice store operation
func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateDBStats copies connection pool statistics into the DB gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// MetricsHandler returns the /metrics handler for registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
