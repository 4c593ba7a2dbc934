// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"consy/events"
	"consy/models"
)

const namespace = "consy"

// Metrics owns a registry and the application collectors
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight    prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	wsConnections   prometheus.Gauge
	eventsPublished *prometheus.CounterVec
	likeToggles     *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
}

// New creates a registry with every collector registered
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "route", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "route"})
	m.wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Current number of websocket clients.",
	})
	m.eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "events_published_total",
		Help:      "Events handed to the fan-out layer.",
	}, []string{"type", "scope"})
	m.likeToggles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reactions",
		Name:      "toggles_total",
		Help:      "Like toggles by target kind and resulting state.",
	}, []string{"kind", "result"})
	m.storeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "errors_total",
		Help:      "Requests that failed with a store error.",
	}, []string{"route"})

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.wsConnections,
		m.eventsPublished,
		m.likeToggles,
		m.storeErrors,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RequestStarted tracks an in-flight request; call the returned func when
// it completes.
func (m *Metrics) RequestStarted() func() {
	m.httpInFlight.Inc()
	return m.httpInFlight.Dec
}

// ObserveRequest records a completed HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	method = strings.ToUpper(method)
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// StoreError counts a request that failed in the persistence layer
func (m *Metrics) StoreError(route string) {
	m.storeErrors.WithLabelValues(route).Inc()
}

// ClientConnected and ClientDisconnected track live websocket clients.
func (m *Metrics) ClientConnected() { m.wsConnections.Inc() }

func (m *Metrics) ClientDisconnected() { m.wsConnections.Dec() }

// ObserveToggle counts a like toggle.
func (m *Metrics) ObserveToggle(kind models.TargetKind, liked bool) {
	result := "unliked"
	if liked {
		result = "liked"
	}
	m.likeToggles.WithLabelValues(string(kind), result).Inc()
}

// Publisher counts every event before handing it to next.
func (m *Metrics) Publisher(next events.Publisher) events.Publisher {
	return events.PublisherFunc(func(ctx context.Context, ev events.Event) {
		scope := "room"
		if ev.Global() {
			scope = "global"
		}
		m.eventsPublished.WithLabelValues(ev.Type, scope).Inc()
		next.Publish(ctx, ev)
	})
}
