package authapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error kinds. Only ErrAuth is authoritative proof that a credential is
// invalid; the others never invalidate a session on their own.
var (
	ErrAuth      = errors.New("credential rejected")
	ErrTransport = errors.New("transport failure")
	ErrServer    = errors.New("server error")
)

// Error is a classified AuthAPI failure. errors.Is(err, ErrAuth) etc. match
// on Kind.
type Error struct {
	Op         string // validate, refresh, login, logout
	Kind       error  // ErrAuth, ErrTransport or ErrServer
	StatusCode int    // HTTP status, 0 when no response was received
	Message    string // Message reported by the backend, if any
	Err        error  // Underlying cause, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error. A nil kind is treated as ErrTransport.
func NewError(op string, kind error, status int, err error) *Error {
	if kind == nil {
		kind = ErrTransport
	}
	return &Error{Op: op, Kind: kind, StatusCode: status, Err: err}
}

// StatusKind maps an HTTP status to an error kind: 401 and 403 are
// authoritative, 408 and 429 are transient transport conditions, anything
// else that is not 2xx is a server error.
func StatusKind(status int) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrAuth
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return ErrTransport
	case status >= 200 && status < 300:
		return nil
	default:
		return ErrServer
	}
}

// Classify returns the kind of err: ErrAuth, ErrServer or ErrTransport. Errors
// of unknown origin, context errors included, are transport failures.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAuth):
		return ErrAuth
	case errors.Is(err, ErrServer):
		return ErrServer
	default:
		return ErrTransport
	}
}

// IsAuth reports whether err is an authoritative rejection.
func IsAuth(err error) bool {
	return Classify(err) == ErrAuth
}

// Retryable reports whether err is worth retrying later.
func Retryable(err error) bool {
	kind := Classify(err)
	return kind == ErrTransport || kind == ErrServer
}

// TransportError wraps a failure to get any response at all.
func TransportError(op string, err error) *Error {
	e := NewError(op, ErrTransport, 0, err)
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		e.Message = "request timed out"
	case errors.Is(err, context.Canceled):
		e.Message = "request cancelled"
	}
	return e
}
