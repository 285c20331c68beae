// Package observability owns the Prometheus registry and the service metrics.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service metric vectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	IdentityEvents  *prometheus.CounterVec
	MailDeliveries  *prometheus.CounterVec
}

// NewMetrics creates a registry with Go and process collectors plus the
// authsvc metrics.
func NewMetrics() *Metrics {
	// Create a new registry to avoid polluting the global one
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authsvc_http_requests_total",
				Help: "Total number of HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authsvc_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		IdentityEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authsvc_identity_events_total",
				Help: "Total number of register, verify and login outcomes",
			},
			[]string{"event", "result"},
		),
		MailDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authsvc_mail_deliveries_total",
				Help: "Total number of mail delivery attempts by kind and result",
			},
			[]string{"kind", "result"},
		),
	}

	registry.MustRegister(m.RequestsTotal, m.RequestDuration, m.IdentityEvents, m.MailDeliveries)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RecordEvent counts an identity outcome.
func (m *Metrics) RecordEvent(event, result string) {
	m.IdentityEvents.WithLabelValues(event, result).Inc()
}

// RecordDelivery counts a mail delivery attempt.
func (m *Metrics) RecordDelivery(kind, result string) {
	m.MailDeliveries.WithLabelValues(kind, result).Inc()
}
