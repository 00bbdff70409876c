// Package oidcclient implements authapi.Client against an OpenID Connect
// provider: validation through the UserInfo endpoint, refresh and login
// through the provider's token endpoint, logout through RFC 7009 token
// revocation when the provider advertises it.
package oidcclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-auth-session/authapi"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/users"
)

const defaultTimeout = 90 * time.Second

var _ authapi.Client = (*Client)(nil)

type Client struct {
	provider      *oidc.Provider
	oauth2Config  oauth2.Config
	revocationURL string
	httpClient    *http.Client
	userInfo      *http.Client
	timeout       time.Duration
	logger        zerolog.Logger
}

type options struct {
	httpClient *http.Client
	scopes     []string
	timeout    time.Duration
	authStyle  oauth2.AuthStyle
	logger     zerolog.Logger
}

type Option func(*options)

func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithScopes replaces the default openid, profile, email and offline_access scopes.
func WithScopes(scopes ...string) Option {
	return func(o *options) {
		o.scopes = scopes
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithAuthStyle fixes how client credentials are sent to the token endpoint.
// By default it is auto-detected.
func WithAuthStyle(style oauth2.AuthStyle) Option {
	return func(o *options) {
		o.authStyle = style
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New discovers the provider at issuer.
func New(ctx context.Context, issuer, clientID, clientSecret string, opts ...Option) (*Client, error) {
	if issuer == "" {
		return nil, errors.New("[oidcclient.New] issuer is required")
	}
	if clientID == "" {
		return nil, errors.New("[oidcclient.New] client ID is required")
	}

	o := options{
		httpClient: &http.Client{},
		scopes:     []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess},
		timeout:    defaultTimeout,
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(&o)
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, o.httpClient), issuer)
	if err != nil {
		return nil, errors.Wrap(err, "[oidcclient.New] discovery failed")
	}

	var discovery struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if err := provider.Claims(&discovery); err != nil {
		return nil, errors.Wrap(err, "[oidcclient.New] decode discovery document")
	}

	endpoint := provider.Endpoint()
	if o.authStyle != oauth2.AuthStyleAutoDetect {
		endpoint.AuthStyle = o.authStyle
	}

	return &Client{
		provider: provider,
		oauth2Config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoint,
			Scopes:       o.scopes,
		},
		revocationURL: discovery.RevocationEndpoint,
		httpClient:    o.httpClient,
		userInfo: &http.Client{
			Transport: &classifyingTransport{base: o.httpClient.Transport, op: authapi.OpValidate},
		},
		timeout: o.timeout,
		logger:  o.logger.With().Str("component", "oidcclient").Str("issuer", issuer).Logger(),
	}, nil
}

func (c *Client) ValidateSession(ctx context.Context, accessToken string) (*users.Profile, error) {
	if accessToken == "" {
		return nil, authapi.NewError(authapi.OpValidate, authapi.ErrAuth, 0, errors.New("no access token"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	info, err := c.provider.UserInfo(oidc.ClientContext(ctx, c.userInfo), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	if err != nil {
		if authapi.Classify(err) == authapi.ErrTransport && !isNetworkError(err) {
			// Response arrived but was unusable.
			return nil, authapi.NewError(authapi.OpValidate, authapi.ErrServer, 0, err)
		}
		return nil, err
	}

	return profileFromUserInfo(info)
}

func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*token.Credentials, error) {
	if refreshToken == "" {
		return nil, authapi.NewError(authapi.OpRefresh, authapi.ErrAuth, 0, errors.New("no refresh token"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tok, err := c.oauth2Config.TokenSource(c.tokenContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classifyTokenError(authapi.OpRefresh, err)
	}

	creds := token.Credentials{RefreshToken: refreshToken}.Rotate(token.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	})
	return &creds, nil
}

// Login uses the resource owner password grant.
func (c *Client) Login(ctx context.Context, email, password string) (*authapi.LoginResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tok, err := c.oauth2Config.PasswordCredentialsToken(c.tokenContext(ctx), email, password)
	if err != nil {
		return nil, classifyTokenError(authapi.OpLogin, err)
	}

	creds := token.Credentials{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if !creds.Complete() {
		return nil, authapi.NewError(authapi.OpLogin, authapi.ErrServer, 0,
			errors.New("provider issued no refresh token; is offline_access granted?"))
	}

	result := &authapi.LoginResult{Credentials: creds}
	if p, err := c.ValidateSession(ctx, creds.AccessToken); err == nil {
		result.User = p
	} else {
		c.logger.Warn().Err(err).Msg("login succeeded but userinfo failed")
	}
	return result, nil
}

// Logout revokes the refresh token. Providers without a revocation endpoint
// are left alone.
func (c *Client) Logout(ctx context.Context, creds token.Credentials) error {
	if c.revocationURL == "" {
		c.logger.Debug().Msg("provider has no revocation endpoint, skipping remote logout")
		return nil
	}
	tok, hint := creds.RefreshToken, "refresh_token"
	if tok == "" {
		tok, hint = creds.AccessToken, "access_token"
	}
	if tok == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{"token": {tok}, "token_type_hint": {hint}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "[Client.Logout] build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(c.oauth2Config.ClientID), url.QueryEscape(c.oauth2Config.ClientSecret))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return authapi.TransportError(authapi.OpLogout, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if kind := authapi.StatusKind(resp.StatusCode); kind != nil {
		return authapi.NewError(authapi.OpLogout, kind, resp.StatusCode, nil)
	}
	return nil
}

func (c *Client) tokenContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func profileFromUserInfo(info *oidc.UserInfo) (*users.Profile, error) {
	var claims map[string]any
	if err := info.Claims(&claims); err != nil {
		return nil, authapi.NewError(authapi.OpValidate, authapi.ErrServer, 0, err)
	}

	p := &users.Profile{
		ID:          info.Subject,
		Email:       info.Email,
		DisplayName: utils.NonZeroPtr(utils.FirstNonEmpty(stringClaim(claims, "name"), stringClaim(claims, "preferred_username"))),
		PhotoURL:    utils.NonZeroPtr(stringClaim(claims, "picture")),
		Role:        roleFromClaims(claims),
	}
	if !p.Valid() {
		return nil, authapi.NewError(authapi.OpValidate, authapi.ErrServer, 0, errors.New("userinfo missing sub or email"))
	}
	return p, nil
}

func stringClaim(claims map[string]any, name string) string {
	s, _ := claims[name].(string)
	return s
}

func roleFromClaims(claims map[string]any) users.RoleType {
	if role := stringClaim(claims, "role"); role != "" {
		return users.RoleType(role)
	}
	roles, _ := claims["roles"].([]any)
	if slices.Contains(utils.ToStringSlice(roles), string(users.RoleAdmin)) {
		return users.RoleAdmin
	}
	return ""
}

// classifyTokenError maps token endpoint failures. invalid_grant and
// invalid_client come back as 400 or 401 and are authoritative.
func classifyTokenError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		kind := authapi.StatusKind(status)
		if status == http.StatusBadRequest {
			kind = authapi.ErrAuth
		}
		e := authapi.NewError(op, kind, status, err)
		e.Message = retrieveErr.ErrorCode
		return e
	}
	if isNetworkError(err) {
		return authapi.TransportError(op, err)
	}
	return authapi.NewError(op, authapi.ErrServer, 0, err)
}

func isNetworkError(err error) bool {
	var urlErr *url.Error
	return errors.As(err, &urlErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// classifyingTransport turns non-2xx responses into classified errors so
// that callers which only see a formatted error string (UserInfo) still
// report the right kind.
type classifyingTransport struct {
	base http.RoundTripper
	op   string
}

func (t *classifyingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, authapi.TransportError(t.op, err)
	}
	kind := authapi.StatusKind(resp.StatusCode)
	if kind == nil {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()
	return nil, authapi.NewError(t.op, kind, resp.StatusCode, nil)
}
