package httpclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/authapi"
	"github.com/jrsteele09/go-auth-session/authapi/httpclient"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newClient(t *testing.T, h http.Handler, opts ...httpclient.Option) *httpclient.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := httpclient.New(srv.URL+"/api", opts...)
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := httpclient.New("")
	require.ErrorContains(t, err, "base URL is required")

	_, err = httpclient.New("not a url")
	require.ErrorContains(t, err, "invalid base URL")
}

func TestValidateSession(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    any
		wantErr error
		wantID  string
	}{
		{
			name:   "data envelope",
			status: http.StatusOK,
			body:   map[string]any{"status": "success", "data": map[string]any{"id": "u1", "email": "u1@example.com", "role": "admin"}},
			wantID: "u1",
		},
		{
			name:   "profile envelope",
			status: http.StatusOK,
			body:   map[string]any{"status": "success", "profile": map[string]any{"id": "u2", "email": "u2@example.com"}},
			wantID: "u2",
		},
		{name: "unauthorized", status: http.StatusUnauthorized, body: map[string]any{"message": "expired"}, wantErr: authapi.ErrAuth},
		{name: "forbidden", status: http.StatusForbidden, body: map[string]any{}, wantErr: authapi.ErrAuth},
		{name: "server error", status: http.StatusBadGateway, body: map[string]any{}, wantErr: authapi.ErrServer},
		{name: "no profile", status: http.StatusOK, body: map[string]any{"status": "success"}, wantErr: authapi.ErrServer},
		{name: "error status", status: http.StatusOK, body: map[string]any{"status": "error", "message": "db down"}, wantErr: authapi.ErrServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth atomic.Value
			c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/api/profile", r.URL.Path)
				require.Equal(t, http.MethodGet, r.Method)
				gotAuth.Store(r.Header.Get("Authorization"))
				writeJSON(w, tt.status, tt.body)
			}))

			p, err := c.ValidateSession(context.Background(), "access-1")
			require.Equal(t, "Bearer access-1", gotAuth.Load())
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Nil(t, p)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantID, p.ID)
		})
	}
}

func TestValidateSession_MalformedBody(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>cold start</html>"))
	}))

	_, err := c.ValidateSession(context.Background(), "access-1")
	require.ErrorIs(t, err, authapi.ErrServer)
}

func TestValidateSession_NoToken(t *testing.T) {
	c, err := httpclient.New("http://127.0.0.1:1/api")
	require.NoError(t, err)

	_, err = c.ValidateSession(context.Background(), "")
	require.ErrorIs(t, err, authapi.ErrAuth)
}

func TestValidateSession_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), httpclient.WithTimeout(50*time.Millisecond))
	defer close(release)

	_, err := c.ValidateSession(context.Background(), "access-1")
	require.ErrorIs(t, err, authapi.ErrTransport)
	require.False(t, authapi.IsAuth(err))
}

func TestValidateSession_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := httpclient.New(url)
	require.NoError(t, err)
	_, err = c.ValidateSession(context.Background(), "access-1")
	require.ErrorIs(t, err, authapi.ErrTransport)
}

func TestRefreshSession(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    any
		wantErr error
		want    token.Credentials
	}{
		{
			name:   "rotated",
			status: http.StatusOK,
			body:   map[string]any{"status": "success", "access_token": "access-2", "refresh_token": "refresh-2"},
			want:   token.Credentials{AccessToken: "access-2", RefreshToken: "refresh-2"},
		},
		{
			name:   "refresh token kept",
			status: http.StatusOK,
			body:   map[string]any{"status": "success", "access_token": "access-2"},
			want:   token.Credentials{AccessToken: "access-2", RefreshToken: "refresh-1"},
		},
		{name: "bad request", status: http.StatusBadRequest, body: map[string]any{"message": "invalid refresh token"}, wantErr: authapi.ErrAuth},
		{name: "unauthorized", status: http.StatusUnauthorized, body: map[string]any{}, wantErr: authapi.ErrAuth},
		{name: "status error", status: http.StatusOK, body: map[string]any{"status": "error", "message": "revoked"}, wantErr: authapi.ErrAuth},
		{name: "server error", status: http.StatusInternalServerError, body: map[string]any{}, wantErr: authapi.ErrServer},
		{name: "missing access token", status: http.StatusOK, body: map[string]any{"status": "success"}, wantErr: authapi.ErrServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/api/refresh-token", r.URL.Path)
				require.Empty(t, r.Header.Get("Authorization"))
				var req authapi.RefreshRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				require.Equal(t, "refresh-1", req.RefreshToken)
				writeJSON(w, tt.status, tt.body)
			}))

			creds, err := c.RefreshSession(context.Background(), "refresh-1")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, *creds)
		})
	}
}

func TestLogin(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req authapi.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "error", "message": "invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "success",
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"user":          map[string]any{"id": "u1", "email": req.Email},
		})
	}))

	result, err := c.Login(context.Background(), "ada@example.com", "secret")
	require.NoError(t, err)
	require.Equal(t, token.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"}, result.Credentials)
	require.Equal(t, "ada@example.com", result.User.Email)

	_, err = c.Login(context.Background(), "ada@example.com", "wrong")
	require.ErrorIs(t, err, authapi.ErrAuth)
	require.ErrorContains(t, err, "invalid credentials")
}

func TestLogout(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/api/logout", r.URL.Path)
		require.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.Logout(context.Background(), token.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"}))
	require.NoError(t, c.Logout(context.Background(), token.Credentials{}))
	require.Equal(t, int32(1), calls.Load())
}
