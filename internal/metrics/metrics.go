// Package metrics provides Prometheus metrics for the status board.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ActionsTotal      *prometheus.CounterVec
	ActionDuration    *prometheus.HistogramVec
	SessionsConnected prometheus.Gauge
	BroadcastsTotal   *prometheus.CounterVec
	SessionsEvicted   prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statusboard_actions_total",
				Help: "Total number of client actions by action and result.",
			},
			[]string{"action", "result"},
		),
		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "statusboard_action_duration_seconds",
				Help:    "Time to apply, persist and broadcast an action.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		SessionsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "statusboard_sessions_connected",
				Help: "Number of currently connected display/control sessions.",
			},
		),
		BroadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statusboard_broadcasts_total",
				Help: "Total frames fanned out to sessions by event.",
			},
			[]string{"event"},
		),
		SessionsEvicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "statusboard_sessions_evicted_total",
				Help: "Sessions dropped because their outbound buffer was full.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statusboard_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.ActionsTotal)
	reg.MustRegister(m.ActionDuration)
	reg.MustRegister(m.SessionsConnected)
	reg.MustRegister(m.BroadcastsTotal)
	reg.MustRegister(m.SessionsEvicted)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAction increments the action counter.
func (m *Metrics) RecordAction(action, result string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(action, result).Inc()
}

// ObserveDuration records how long an action took end to end.
func (m *Metrics) ObserveDuration(action string, seconds float64) {
	if m == nil {
		return
	}
	m.ActionDuration.WithLabelValues(action).Observe(seconds)
}

// SetSessions sets the connected session count.
func (m *Metrics) SetSessions(count int) {
	if m == nil {
		return
	}
	m.SessionsConnected.Set(float64(count))
}

// RecordBroadcast counts frames delivered for event.
func (m *Metrics) RecordBroadcast(event string, sessions int) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.WithLabelValues(event).Add(float64(sessions))
}

// RecordEviction counts a dropped slow session.
func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.SessionsEvicted.Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}
