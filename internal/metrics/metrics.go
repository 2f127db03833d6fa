// Package metrics holds the hub's Prometheus collectors. A nil *Metrics
// is valid everywhere and records nothing, so components never need to
// check whether metrics are enabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry; every hub process creates exactly one
// and hands it to the bus, the subscribers, and the HTTP server.
type Metrics struct {
	registry *prometheus.Registry

	BusDecodeErrors   *prometheus.CounterVec
	BusHandleErrors   *prometheus.CounterVec
	BusMessageLatency *prometheus.HistogramVec
	BusDropped        *prometheus.CounterVec

	AutomationRuns *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
}

// New creates and registers all hub collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		BusDecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "krypin_bus_decode_errors_total",
				Help: "Bus payloads that failed decoding, by subscriber",
			},
			[]string{"subscriber"},
		),

		BusHandleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "krypin_bus_handle_errors_total",
				Help: "Bus messages whose handler returned an error, by subscriber",
			},
			[]string{"subscriber"},
		),

		BusMessageLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "krypin_bus_message_latency_ms",
				Help:    "Milliseconds between receiving a message and finishing its handler",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
			},
			[]string{"subscriber"},
		),

		BusDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "krypin_bus_messages_dropped_total",
				Help: "Messages dropped because a subscriber buffer was full",
			},
			[]string{"transport"},
		),

		AutomationRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "krypin_automation_runs_total",
				Help: "Automation executions by result",
			},
			[]string{"result"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "krypin_http_requests_total",
				Help: "HTTP requests served, by method and status code",
			},
			[]string{"method", "code"},
		),
	}

	m.registry.MustRegister(
		m.BusDecodeErrors,
		m.BusHandleErrors,
		m.BusMessageLatency,
		m.BusDropped,
		m.AutomationRuns,
		m.HTTPRequests,
	)

	return m
}

// Handler serves this instance's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDecodeError counts a payload that failed to decode.
func (m *Metrics) RecordDecodeError(subscriber string) {
	if m == nil {
		return
	}
	m.BusDecodeErrors.WithLabelValues(subscriber).Inc()
}

// RecordHandleError counts a handler failure.
func (m *Metrics) RecordHandleError(subscriber string) {
	if m == nil {
		return
	}
	m.BusHandleErrors.WithLabelValues(subscriber).Inc()
}

// RecordLatency observes handler latency in milliseconds.
func (m *Metrics) RecordLatency(subscriber string, latencyMS float64) {
	if m == nil {
		return
	}
	m.BusMessageLatency.WithLabelValues(subscriber).Observe(latencyMS)
}

// RecordDropped counts a message discarded on a full subscriber buffer.
func (m *Metrics) RecordDropped(transport string) {
	if m == nil {
		return
	}
	m.BusDropped.WithLabelValues(transport).Inc()
}

// RecordAutomationRun counts one automation execution outcome.
func (m *Metrics) RecordAutomationRun(result string) {
	if m == nil {
		return
	}
	m.AutomationRuns.WithLabelValues(result).Inc()
}

// RecordHTTPRequest counts one served request.
func (m *Metrics) RecordHTTPRequest(method, code string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, code).Inc()
}
