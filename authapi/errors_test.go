package authapi_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jrsteele09/go-auth-session/authapi"
	"github.com/stretchr/testify/require"
)

func TestStatusKind(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusOK, nil},
		{http.StatusNoContent, nil},
		{http.StatusUnauthorized, authapi.ErrAuth},
		{http.StatusForbidden, authapi.ErrAuth},
		{http.StatusRequestTimeout, authapi.ErrTransport},
		{http.StatusTooManyRequests, authapi.ErrTransport},
		{http.StatusNotFound, authapi.ErrServer},
		{http.StatusInternalServerError, authapi.ErrServer},
		{http.StatusBadGateway, authapi.ErrServer},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			require.Equal(t, tt.want, authapi.StatusKind(tt.status))
		})
	}
}

func TestClassify(t *testing.T) {
	authErr := authapi.NewError(authapi.OpValidate, authapi.ErrAuth, http.StatusUnauthorized, nil)
	serverErr := authapi.NewError(authapi.OpRefresh, authapi.ErrServer, http.StatusBadGateway, nil)

	tests := []struct {
		name      string
		err       error
		want      error
		retryable bool
	}{
		{name: "nil", err: nil, want: nil},
		{name: "auth", err: authErr, want: authapi.ErrAuth},
		{name: "wrapped auth", err: fmt.Errorf("bootstrap: %w", authErr), want: authapi.ErrAuth},
		{name: "server", err: serverErr, want: authapi.ErrServer, retryable: true},
		{name: "unknown", err: errors.New("boom"), want: authapi.ErrTransport, retryable: true},
		{name: "deadline", err: context.DeadlineExceeded, want: authapi.ErrTransport, retryable: true},
		{name: "sentinel", err: authapi.ErrServer, want: authapi.ErrServer, retryable: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, authapi.Classify(tt.err))
			require.Equal(t, tt.retryable, authapi.Retryable(tt.err))
			require.Equal(t, tt.want == authapi.ErrAuth, authapi.IsAuth(tt.err))
		})
	}
}

func TestError_Format(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := authapi.TransportError(authapi.OpLogin, cause)

	require.ErrorIs(t, err, authapi.ErrTransport)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, authapi.ErrAuth)
	require.Equal(t, "[login] transport failure: dial tcp: connection refused", err.Error())

	timeout := authapi.TransportError(authapi.OpValidate, context.DeadlineExceeded)
	require.Contains(t, timeout.Error(), "request timed out")

	e := authapi.NewError(authapi.OpValidate, authapi.ErrAuth, http.StatusUnauthorized, nil)
	e.Message = "token expired"
	require.Equal(t, "[validate] credential rejected (status 401): token expired", e.Error())
}
