// Package metrics owns the process Prometheus registry and the collectors
// shared by the keeper, feeds and HTTP server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradekeeper"

// Metrics wraps a private registry with the predefined collectors.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	KeeperCycleDuration *prometheus.HistogramVec
	KeeperCycles        *prometheus.CounterVec
	KeeperSubmissions   *prometheus.CounterVec
	FeedFailures        *prometheus.CounterVec
	PendingOrders       prometheus.Gauge
	ActiveAlerts        prometheus.Gauge
	BreakerState        *prometheus.GaugeVec
}

// New creates a registry with Go runtime and process collectors plus the
// tradekeeper collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}

	m.HTTPRequestsTotal = m.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	m.HTTPRequestDuration = m.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	m.KeeperCycleDuration = m.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "keeper_cycle_duration_seconds",
		Help:      "Duration of a keeper scan cycle.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})

	m.KeeperCycles = m.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keeper_cycles_total",
		Help:      "Keeper cycles by outcome.",
	}, []string{"outcome"})

	m.KeeperSubmissions = m.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keeper_submissions_total",
		Help:      "Execute and trigger submissions by kind and result.",
	}, []string{"kind", "result"})

	m.FeedFailures = m.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_failures_total",
		Help:      "Failed price fetches by source and token.",
	}, []string{"source", "token"})

	m.PendingOrders = m.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_orders",
		Help:      "Orders currently PENDING.",
	})

	m.ActiveAlerts = m.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_alerts",
		Help:      "Alerts currently active.",
	})

	m.BreakerState = m.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_breaker_state",
		Help:      "Feed circuit breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"source"})

	return m
}

// NewCounterVec creates and registers a counter vector.
func (m *Metrics) NewCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(opts, labels)
	m.registry.MustRegister(cv)
	return cv
}

// NewGaugeVec creates and registers a gauge vector.
func (m *Metrics) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	gv := prometheus.NewGaugeVec(opts, labels)
	m.registry.MustRegister(gv)
	return gv
}

// NewGauge creates and registers a gauge.
func (m *Metrics) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	g := prometheus.NewGauge(opts)
	m.registry.MustRegister(g)
	return g
}

// NewHistogramVec creates and registers a histogram vector.
func (m *Metrics) NewHistogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	hv := prometheus.NewHistogramVec(opts, labels)
	m.registry.MustRegister(hv)
	return hv
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
