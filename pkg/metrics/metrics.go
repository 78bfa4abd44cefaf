// Package metrics defines the Prometheus collectors of the push service and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Record results.
const (
	ResultOK      = "ok"
	ResultDropped = "dropped"
	ResultHalted  = "halted"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	RecordsTotal        *prometheus.CounterVec
	FaultsTotal         *prometheus.CounterVec
	ActionsTotal        *prometheus.CounterVec
	LagFromEventMs      *prometheus.HistogramVec
	BulkFlushesTotal    *prometheus.CounterVec
	BulkFlushDuration   prometheus.Histogram
	BulkItemsTotal      *prometheus.CounterVec
	BulkPending         prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espush_records_total",
				Help: "Input records by stream and result (ok, dropped, halted).",
			},
			[]string{"stream", "result"},
		),
		FaultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espush_faults_total",
				Help: "Rejected records by stream and fault kind.",
			},
			[]string{"stream", "kind"},
		),
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espush_actions_total",
				Help: "Write operations handed to the bulk loader by stream and action.",
			},
			[]string{"stream", "action"},
		),
		LagFromEventMs: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "espush_lag_from_event_ms",
				Help:    "Milliseconds between a record's event time and its assembly.",
				Buckets: prometheus.ExponentialBuckets(10, 4, 10),
			},
			[]string{"stream"},
		),
		BulkFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espush_bulk_flushes_total",
				Help: "Bulk flushes by status (ok, error).",
			},
			[]string{"status"},
		),
		BulkFlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "espush_bulk_flush_duration_seconds",
				Help:    "Wall time of bulk flushes including retries.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		BulkItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espush_bulk_items_total",
				Help: "Bulk items by result (ok, conflict, failed).",
			},
			[]string{"result"},
		),
		BulkPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "espush_bulk_pending_actions",
				Help: "Operations buffered in the bulk loader.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "espush_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espush_http_requests_total",
				Help: "Requests to the operations server by path and status.",
			},
			[]string{"path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "espush_http_request_duration_seconds",
				Help:    "Latency of operations server requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}

	reg.MustRegister(
		m.RecordsTotal,
		m.FaultsTotal,
		m.ActionsTotal,
		m.LagFromEventMs,
		m.BulkFlushesTotal,
		m.BulkFlushDuration,
		m.BulkItemsTotal,
		m.BulkPending,
		m.CircuitBreakerState,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// ObserveFlush records one bulk flush.
func (m *Metrics) ObserveFlush(ok bool, seconds float64, succeeded, conflicts, failed int) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.BulkFlushesTotal.WithLabelValues(status).Inc()
	m.BulkFlushDuration.Observe(seconds)
	m.BulkItemsTotal.WithLabelValues("ok").Add(float64(succeeded))
	m.BulkItemsTotal.WithLabelValues("conflict").Add(float64(conflicts))
	m.BulkItemsTotal.WithLabelValues("failed").Add(float64(failed))
}

// SetBreakerState records a circuit breaker state by its ordinal.
func (m *Metrics) SetBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
