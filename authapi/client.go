// Package authapi defines the contract the session client consumes from the
// authentication backend, and the error taxonomy every implementation must
// report failures with.
package authapi

import (
	"context"

	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/users"
)

// Operation names used in errors, logs and metrics.
const (
	OpValidate = "validate"
	OpRefresh  = "refresh"
	OpLogin    = "login"
	OpLogout   = "logout"
)

// LoginResult is what a successful login yields.
type LoginResult struct {
	Credentials token.Credentials
	User        *users.Profile // Nil when the backend does not return a profile with the tokens
}

// Client is the authentication backend. Every error it returns must be
// classifiable with Classify; unclassified errors are treated as transport
// failures.
type Client interface {
	// ValidateSession returns the profile the access token belongs to.
	ValidateSession(ctx context.Context, accessToken string) (*users.Profile, error)

	// RefreshSession exchanges a refresh token for a new pair. An omitted
	// refresh token in the result means the old one remains valid.
	RefreshSession(ctx context.Context, refreshToken string) (*token.Credentials, error)

	Login(ctx context.Context, email, password string) (*LoginResult, error)

	// Logout revokes creds on the backend.
	Logout(ctx context.Context, creds token.Credentials) error
}
