package session

import (
	"errors"
	"time"

	"github.com/jrsteele09/go-auth-session/authapi"
	sessionerrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/token/refresh"
)

// Metrics receives session events. internal/metrics implements it.
type Metrics interface {
	refresh.Recorder
	Validation(outcome string)
	Transition(from, to string)
	APICall(op, outcome string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RefreshAttempt(string, string) {}
func (nopMetrics) RefreshJoined(string) {}
func (nopMetrics) Validation(string) {}
func (nopMetrics) Transition(string, string) {}
func (nopMetrics) APICall(string, string, time.Duration) {}

// Outcome labels err for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, sessionerrors.ErrStaleResult):
		return "stale"
	case errors.Is(err, sessionerrors.ErrStorage), errors.Is(err, sessionerrors.ErrNoCredentials):
		return "storage"
	}
	switch authapi.Classify(err) {
	case authapi.ErrAuth:
		return "auth"
	case authapi.ErrServer:
		return "server"
	default:
		return "transport"
	}
}
