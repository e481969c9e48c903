// Package metrics holds the Prometheus collectors for parcelwatch. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	SimulationsActive     prometheus.Gauge
	SimulationsFinished   *prometheus.CounterVec
	SimulationTicks       *prometheus.CounterVec
	SimulationTickSeconds prometheus.Histogram

	BroadcastsPublished *prometheus.CounterVec
	BroadcastFailures   *prometheus.CounterVec

	WebsocketClients prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parcelwatch_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parcelwatch_http_request_duration_seconds",
				Help:    "HTTP request latency distribution",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		SimulationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parcelwatch_simulations_active",
			Help: "Number of delivery simulations currently running",
		}),
		SimulationsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parcelwatch_simulations_finished_total",
				Help: "Simulations that reached a final state",
			},
			[]string{"state"},
		),
		SimulationTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parcelwatch_simulation_ticks_total",
				Help: "Simulation ticks processed",
			},
			[]string{"mode"},
		),
		SimulationTickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "parcelwatch_simulation_tick_duration_seconds",
			Help:    "Time taken to apply a single simulation tick",
			Buckets: prometheus.DefBuckets,
		}),

		BroadcastsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parcelwatch_broadcasts_published_total",
				Help: "Realtime messages handed to a transport",
			},
			[]string{"transport"},
		),
		BroadcastFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parcelwatch_broadcast_failures_total",
				Help: "Realtime messages a transport failed to deliver",
			},
			[]string{"transport"},
		),

		WebsocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parcelwatch_websocket_clients",
			Help: "Connected websocket clients",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SimulationsActive,
		m.SimulationsFinished,
		m.SimulationTicks,
		m.SimulationTickSeconds,
		m.BroadcastsPublished,
		m.BroadcastFailures,
		m.WebsocketClients,
	)

	return m
}

func (m *Metrics) ObserveHTTPRequest(method string, path string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) SimulationStarted() {
	if m == nil {
		return
	}
	m.SimulationsActive.Inc()
}

func (m *Metrics) SimulationFinished(state string) {
	if m == nil {
		return
	}
	m.SimulationsActive.Dec()
	m.SimulationsFinished.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveTick(mode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SimulationTicks.WithLabelValues(mode).Inc()
	m.SimulationTickSeconds.Observe(duration.Seconds())
}

func (m *Metrics) BroadcastPublished(transport string) {
	if m == nil {
		return
	}
	m.BroadcastsPublished.WithLabelValues(transport).Inc()
}

func (m *Metrics) BroadcastFailed(transport string) {
	if m == nil {
		return
	}
	m.BroadcastFailures.WithLabelValues(transport).Inc()
}

func (m *Metrics) WebsocketConnected() {
	if m == nil {
		return
	}
	m.WebsocketClients.Inc()
}

func (m *Metrics) WebsocketDisconnected() {
	if m == nil {
		return
	}
	m.WebsocketClients.Dec()
}
