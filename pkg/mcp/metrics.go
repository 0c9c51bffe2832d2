package mcp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instrumentation for the engine. All
// names are prefixed "mcp_" for namespacing; Registerer lets callers
// use a non-default registry in tests.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveSessions   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	NotificationsDropped *prometheus.CounterVec
}

// NewMetrics registers and returns the engine's metrics against reg.
// Pass prometheus.DefaultRegisterer for normal operation.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcp_requests_total",
				Help: "Total number of dispatched JSON-RPC requests by method and outcome.",
			},
			[]string{"method", "outcome"}, // outcome: "ok", "error", "notification"
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcp_request_duration_seconds",
				Help:    "Dispatch latency by method.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcp_active_sessions",
				Help: "Current number of tracked sessions.",
			},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcp_sessions_total",
				Help: "Total sessions created and terminated, by transport and reason.",
			},
			[]string{"transport", "event"}, // event: "created", "terminated" (evictions are not recorded)
		),
		NotificationsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcp_notifications_dropped_total",
				Help: "Outbound notifications dropped because a session's queue was full.",
			},
			[]string{"transport"},
		),
	}
}

// RecordRequest records one dispatch outcome and its latency.
func (m *Metrics) RecordRequest(method, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, outcome).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordSessionEvent records a session lifecycle transition.
func (m *Metrics) RecordSessionEvent(transport, event string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(transport, event).Inc()
}

// SetActiveSessions updates the active session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// RecordNotificationDropped records a backpressure drop on a
// session's outbound queue.
func (m *Metrics) RecordNotificationDropped(transport string) {
	if m == nil {
		return
	}
	m.NotificationsDropped.WithLabelValues(transport).Inc()
}
