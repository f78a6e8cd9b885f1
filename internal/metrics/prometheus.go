package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Direction labels for forwarded messages
const (
	DirectionClientToUpstream = "client_to_upstream"
	DirectionUpstreamToClient = "upstream_to_client"
)

// Metrics contains all Prometheus metrics for the relay
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionDuration prometheus.Histogram

	// Message metrics
	MessagesForwarded *prometheus.CounterVec
	MessagesQueued    prometheus.Counter
	MessagesDropped   prometheus.Counter

	// Upstream metrics
	UpstreamErrors prometheus.Counter
}

// NewMetrics creates all relay metrics on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of bridged sessions",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_total",
			Help: "Total number of sessions accepted",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_session_duration_seconds",
			Help:    "Lifetime of bridged sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		MessagesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_forwarded_total",
			Help: "Total number of messages forwarded across the bridge",
		}, []string{"direction"}),
		MessagesQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_queued_total",
			Help: "Total number of client messages queued before upstream opened",
		}),
		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_dropped_total",
			Help: "Total number of upstream messages dropped because the client had gone",
		}),

		UpstreamErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_upstream_errors_total",
			Help: "Total number of upstream dial or read failures",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionOpened increments the session counters
func (m *Metrics) RecordSessionOpened() {
	m.ActiveSessions.Inc()
	m.SessionsTotal.Inc()
}

// RecordSessionClosed decrements active sessions and records duration
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordForwarded increments forwarded messages for a direction
func (m *Metrics) RecordForwarded(direction string) {
	m.MessagesForwarded.WithLabelValues(direction).Inc()
}

// RecordQueued increments the pre-open queue counter
func (m *Metrics) RecordQueued() {
	m.MessagesQueued.Inc()
}

// RecordDropped increments the dropped messages counter
func (m *Metrics) RecordDropped() {
	m.MessagesDropped.Inc()
}

// RecordUpstreamError increments the upstream error counter
func (m *Metrics) RecordUpstreamError() {
	m.UpstreamErrors.Inc()
}
