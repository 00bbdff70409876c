// Package metrics exposes session lifecycle counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "authsession"
)

// Metrics records session events. A nil *Metrics records nothing.
type Metrics struct {
	refreshAttempts *prometheus.CounterVec
	refreshJoined   *prometheus.CounterVec
	validations     *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	state           *prometheus.GaugeVec
	apiLatency      *prometheus.HistogramVec
}

// New registers the session metrics with reg. Use prometheus.DefaultRegisterer
// to expose them through promhttp.Handler.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Labels: trigger (bootstrap, manual, periodic, activity, crosstab, tokensource),
		// outcome (ok, auth, transport, server, stale, error)
		refreshAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "attempts_total",
			Help:      "Refresh flights started, by trigger and outcome",
		}, []string{"trigger", "outcome"}),

		refreshJoined: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "joined_total",
			Help:      "Callers that joined an in-flight refresh instead of starting one",
		}, []string{"trigger"}),

		validations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "validations_total",
			Help:      "Session validations by outcome",
		}, []string{"outcome"}),

		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions",
		}, []string{"from", "to"}),

		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "1 for the current session state, 0 otherwise",
		}, []string{"state"}),

		apiLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Auth API call latency by operation and outcome",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 90},
		}, []string{"op", "outcome"}),
	}
}

func (m *Metrics) RefreshAttempt(trigger, outcome string) {
	if m == nil {
		return
	}
	m.refreshAttempts.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) RefreshJoined(trigger string) {
	if m == nil {
		return
	}
	m.refreshJoined.WithLabelValues(trigger).Inc()
}

func (m *Metrics) Validation(outcome string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(outcome).Inc()
}

// Transition counts a state change and moves the state gauge.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
	m.state.WithLabelValues(from).Set(0)
	m.state.WithLabelValues(to).Set(1)
}

func (m *Metrics) APICall(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.apiLatency.WithLabelValues(op, outcome).Observe(d.Seconds())
}
