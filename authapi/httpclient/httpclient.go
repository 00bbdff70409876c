// Package httpclient implements authapi.Client against the REST backend:
// GET /profile, POST /refresh-token, POST /login and POST /logout.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-auth-session/authapi"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/users"
)

const (
	DefaultTimeout      = 90 * time.Second
	DefaultLoginTimeout = 2 * time.Minute

	maxBodyBytes = 1 << 20
)

const (
	pathProfile = "/profile"
	pathRefresh = "/refresh-token"
	pathLogin   = "/login"
	pathLogout  = "/logout"
)

var _ authapi.Client = (*Client)(nil)

// Client talks to the REST backend. It is safe for concurrent use.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	timeout      time.Duration
	loginTimeout time.Duration
	logger       zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client. Its Timeout is ignored in
// favour of the per-operation timeouts.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithLoginTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.loginTimeout = d
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[httpclient.New] base URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("[httpclient.New] invalid base URL %q", baseURL)
	}

	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{},
		timeout:      DefaultTimeout,
		loginTimeout: DefaultLoginTimeout,
		logger:       log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "httpclient").Logger()
	return c, nil
}

func (c *Client) ValidateSession(ctx context.Context, accessToken string) (*users.Profile, error) {
	if accessToken == "" {
		return nil, authapi.NewError(authapi.OpValidate, authapi.ErrAuth, 0, errors.New("no access token"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body authapi.ProfileResponse
	status, err := c.do(ctx, authapi.OpValidate, c.bearer(ctx, accessToken), http.MethodGet, pathProfile, nil, &body)
	if err != nil {
		return nil, err
	}
	if body.Status != "" && body.Status != authapi.StatusSuccess {
		return nil, c.malformed(authapi.OpValidate, status, body.Message)
	}
	profile := body.User()
	if !profile.Valid() {
		return nil, c.malformed(authapi.OpValidate, status, "profile missing id or email")
	}
	return profile, nil
}

// RefreshSession posts the refresh token. 400 counts as an authoritative
// rejection here because that is how the backend reports an unknown or
// expired refresh token.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*token.Credentials, error) {
	if refreshToken == "" {
		return nil, authapi.NewError(authapi.OpRefresh, authapi.ErrAuth, 0, errors.New("no refresh token"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body authapi.TokenResponse
	status, err := c.do(ctx, authapi.OpRefresh, c.httpClient, http.MethodPost, pathRefresh,
		authapi.RefreshRequest{RefreshToken: refreshToken}, &body)
	if err != nil {
		return nil, rejectBadRequest(err)
	}
	if body.Status != authapi.StatusSuccess {
		e := authapi.NewError(authapi.OpRefresh, authapi.ErrAuth, status, nil)
		e.Message = body.Message
		return nil, e
	}
	if body.AccessToken == "" {
		return nil, c.malformed(authapi.OpRefresh, status, "no access token in response")
	}

	creds := token.Credentials{RefreshToken: refreshToken}.Rotate(token.Credentials{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
	})
	return &creds, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*authapi.LoginResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.loginTimeout)
	defer cancel()

	var body authapi.TokenResponse
	status, err := c.do(ctx, authapi.OpLogin, c.httpClient, http.MethodPost, pathLogin,
		authapi.LoginRequest{Email: email, Password: password}, &body)
	if err != nil {
		return nil, rejectBadRequest(err)
	}
	if body.Status != "" && body.Status != authapi.StatusSuccess {
		e := authapi.NewError(authapi.OpLogin, authapi.ErrAuth, status, nil)
		e.Message = body.Message
		return nil, e
	}

	creds := token.Credentials{AccessToken: body.AccessToken, RefreshToken: body.RefreshToken}
	if !creds.Complete() {
		return nil, c.malformed(authapi.OpLogin, status, "incomplete credentials in response")
	}
	result := &authapi.LoginResult{Credentials: creds}
	if p := body.Profile(); p.Valid() {
		result.User = p
	}
	return result, nil
}

func (c *Client) Logout(ctx context.Context, creds token.Credentials) error {
	if creds.AccessToken == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.do(ctx, authapi.OpLogout, c.bearer(ctx, creds.AccessToken), http.MethodPost, pathLogout,
		authapi.RefreshRequest{RefreshToken: creds.RefreshToken}, nil)
	return err
}

// bearer returns a client that authorises requests with accessToken.
func (c *Client) bearer(ctx context.Context, accessToken string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
}

// do sends a JSON request and decodes a JSON response into out. Non-2xx
// statuses are classified with authapi.StatusKind.
func (c *Client) do(ctx context.Context, op string, hc *http.Client, method, path string, in, out any) (int, error) {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, errors.Wrapf(err, "[Client.%s] encode request", op)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, errors.Wrapf(err, "[Client.%s] build request", op)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("op", op).Msg("request failed")
		return 0, authapi.TransportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, authapi.TransportError(op, err)
	}

	c.logger.Debug().Str("op", op).Int("status", resp.StatusCode).Msg("response received")

	if kind := authapi.StatusKind(resp.StatusCode); kind != nil {
		e := authapi.NewError(op, kind, resp.StatusCode, nil)
		var errBody authapi.ErrorResponse
		if json.Unmarshal(data, &errBody) == nil {
			e.Message = errBody.Text()
		}
		return resp.StatusCode, e
	}

	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, c.malformed(op, resp.StatusCode, "malformed response body")
	}
	return resp.StatusCode, nil
}

func (c *Client) malformed(op string, status int, msg string) error {
	e := authapi.NewError(op, authapi.ErrServer, status, nil)
	e.Message = msg
	c.logger.Warn().Str("op", op).Int("status", status).Msg(msg)
	return e
}

// rejectBadRequest reclassifies a 400 as an authoritative rejection.
func rejectBadRequest(err error) error {
	var apiErr *authapi.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
		apiErr.Kind = authapi.ErrAuth
	}
	return err
}
