// ABOUTME: Prometheus metrics for sessions, heartbeats, routed messages and tool calls.
// ABOUTME: Implements session.Observer so the registry can report lifecycle events.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Message outcomes recorded by the router.
const (
	OutcomeAccepted          = "accepted"
	OutcomeMissingSession    = "missing_session"
	OutcomeUnknownSession    = "unknown_session"
	OutcomeInvalidPayload    = "invalid_payload"
	OutcomeProcessingFailure = "processing_failure"
)

// Metrics holds the hub's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsTotal    prometheus.Counter
	HeartbeatsTotal  prometheus.Counter
	MessagesTotal    *prometheus.CounterVec
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcphub_sessions_active",
			Help: "Number of currently open streaming sessions",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcphub_sessions_total",
			Help: "Total number of streaming sessions opened",
		}),
		HeartbeatsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcphub_heartbeats_total",
			Help: "Total number of keep-alive heartbeats written",
		}),
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcphub_messages_total",
				Help: "Correlated messages received, by outcome",
			},
			[]string{"outcome"},
		),
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcphub_tool_calls_total",
				Help: "Tool invocations, by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcphub_tool_call_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
	}

	registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.HeartbeatsTotal,
		m.MessagesTotal,
		m.ToolCallsTotal,
		m.ToolCallDuration,
	)

	return m
}

// Handler returns the HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SessionOpened implements session.Observer.
func (m *Metrics) SessionOpened() {
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

// SessionClosed implements session.Observer.
func (m *Metrics) SessionClosed() {
	m.SessionsActive.Dec()
}

// HeartbeatSent implements session.Observer.
func (m *Metrics) HeartbeatSent() {
	m.HeartbeatsTotal.Inc()
}

// MessageRouted records the outcome of one correlated message.
func (m *Metrics) MessageRouted(outcome string) {
	m.MessagesTotal.WithLabelValues(outcome).Inc()
}

// ToolCalled records one tool invocation.
func (m *Metrics) ToolCalled(tool string, err error, elapsed time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}
