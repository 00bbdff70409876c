package session

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-auth-session/token/jwt"
	"github.com/jrsteele09/go-auth-session/token/refresh"
)

// TokenSource adapts the session for oauth2.NewClient. Tokens close to
// expiry are refreshed through the manager, so concurrent API callers share
// one refresh with everything else in the tab.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, m: m}
}

type tokenSource struct {
	ctx context.Context
	m   *Manager
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	tok, err := ts.current()
	if err != nil {
		return nil, err
	}
	if tok.Expiry.IsZero() || tok.Expiry.Sub(ts.m.nowTime()) > ts.m.expiryLeeway {
		return tok, nil
	}

	if err := ts.m.RefreshFor(ts.ctx, refresh.TriggerTokenSource); err != nil {
		ts.m.logger.Warn().Err(err).Msg("token source refresh failed")
	}
	return ts.current()
}

func (ts *tokenSource) current() (*oauth2.Token, error) {
	access, err := ts.m.AccessToken()
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if info, err := jwt.Introspect(access); err == nil && info.HasExpiry() {
		tok.Expiry = info.ExpiresAt
	}
	return tok, nil
}
