package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.RefreshAttempt("periodic", "ok")
	m.RefreshAttempt("periodic", "ok")
	m.RefreshAttempt("activity", "auth")
	m.RefreshJoined("manual")
	m.Validation("transport")

	expected := `
# HELP authsession_refresh_attempts_total Refresh flights started, by trigger and outcome
# TYPE authsession_refresh_attempts_total counter
authsession_refresh_attempts_total{outcome="auth",trigger="activity"} 1
authsession_refresh_attempts_total{outcome="ok",trigger="periodic"} 2
# HELP authsession_refresh_joined_total Callers that joined an in-flight refresh instead of starting one
# TYPE authsession_refresh_joined_total counter
authsession_refresh_joined_total{trigger="manual"} 1
# HELP authsession_session_validations_total Session validations by outcome
# TYPE authsession_session_validations_total counter
authsession_session_validations_total{outcome="transport"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"authsession_refresh_attempts_total",
		"authsession_refresh_joined_total",
		"authsession_session_validations_total",
	))
}

func TestMetrics_StateGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.Transition("unauthenticated", "validating")
	m.Transition("validating", "authenticated")

	expected := `
# HELP authsession_session_state 1 for the current session state, 0 otherwise
# TYPE authsession_session_state gauge
authsession_session_state{state="authenticated"} 1
authsession_session_state{state="unauthenticated"} 0
authsession_session_state{state="validating"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "authsession_session_state"))

	m.APICall("validate", "ok", 120*time.Millisecond)
	n, err := testutil.GatherAndCount(reg, "authsession_api_request_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.RefreshAttempt("manual", "ok")
		m.RefreshJoined("manual")
		m.Validation("ok")
		m.Transition("a", "b")
		m.APICall("refresh", "ok", time.Second)
	})
}
