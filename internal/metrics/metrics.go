package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Business Metrics
	TransactionsTotal      *prometheus.CounterVec
	TransactionReplays     *prometheus.CounterVec
	BalanceRetrievalTotal  *prometheus.CounterVec
	CurrentAccountBalances *prometheus.GaugeVec

	// Store Metrics
	StoreOpsTotal      *prometheus.CounterVec
	StoreOpDuration    *prometheus.HistogramVec
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge

	// System Metrics
	ServiceUptime    prometheus.Gauge
	Goroutines       prometheus.Gauge
	MemoryUsageBytes *prometheus.GaugeVec

	// Validation Metrics
	ValidationErrors *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgercore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledgercore_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledgercore_http_requests_in_flight",
				Help: "Number of HTTP requests currently being served",
			},
		),

		TransactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgercore_transactions_total",
				Help: "Total number of transaction executions by direction and outcome",
			},
			[]string{"direction", "outcome"},
		),
		TransactionReplays: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgercore_transaction_replays_total",
				Help: "Total number of idempotent replays served from the outcome cache",
			},
			[]string{"status"},
		),
		BalanceRetrievalTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgercore_balance_retrieval_total",
				Help: "Total number of balance retrievals",
			},
			[]string{"status"},
		),
		CurrentAccountBalances: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledgercore_current_account_balances",
				Help: "Current balance amounts per account",
			},
			[]string{"account_id"},
		),

		StoreOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgercore_store_operations_total",
				Help: "Total number of record store operations",
			},
			[]string{"operation", "status"},
		),
		StoreOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledgercore_store_operation_duration_seconds",
				Help:    "Duration of record store operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		),
		DBConnectionsInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledgercore_db_connections_in_use",
				Help: "Number of database connections currently in use",
			},
		),
		DBConnectionsIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledgercore_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		ServiceUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledgercore_service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		Goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledgercore_goroutines",
				Help: "Number of goroutines currently running",
			},
		),
		MemoryUsageBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledgercore_memory_usage_bytes",
				Help: "Memory usage in bytes",
			},
			[]string{"type"},
		),

		ValidationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgercore_validation_errors_total",
				Help: "Total number of validation errors",
			},
			[]string{"field", "tag"},
		),
	}
}

// --- Recording Methods ---

func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(duration.Seconds())
}

func (m *Metrics) RecordTransaction(direction, outcome string) {
	m.TransactionsTotal.WithLabelValues(direction, outcome).Inc()
}

func (m *Metrics) RecordReplay(status string) {
	m.TransactionReplays.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordBalanceRetrieval(status string) {
	m.BalanceRetrievalTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) UpdateAccountBalance(accountID string, balance float64) {
	m.CurrentAccountBalances.WithLabelValues(accountID).Set(balance)
}

func (m *Metrics) RecordStoreOp(operation, status string, duration time.Duration) {
	m.StoreOpsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordValidationError(field, tag string) {
	m.ValidationErrors.WithLabelValues(field, tag).Inc()
}

// UpdateSystemMetrics updates system-level metrics (goroutines, uptime, memory).
func (m *Metrics) UpdateSystemMetrics(uptime time.Duration, memStats *runtime.MemStats) {
	m.ServiceUptime.Set(uptime.Seconds())
	m.Goroutines.Set(float64(runtime.NumGoroutine()))

	m.MemoryUsageBytes.WithLabelValues("alloc").Set(float64(memStats.Alloc))
	m.MemoryUsageBytes.WithLabelValues("sys").Set(float64(memStats.Sys))
	m.MemoryUsageBytes.WithLabelValues("heap_alloc").Set(float64(memStats.HeapAlloc))
}
