package authapi

import "github.com/jrsteele09/go-auth-session/users"

const StatusSuccess = "success"

// TokenResponse is the body returned by the login and refresh-token
// endpoints.
type TokenResponse struct {
	// Status is "success" or "error".
	Status string `json:"status,omitempty"`

	// Message explains an error status.
	Message string `json:"message,omitempty"`

	// AccessToken is the bearer token for API calls.
	AccessToken string `json:"access_token,omitempty"`

	// RefreshToken is omitted by backends that do not rotate refresh tokens.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the access token lifetime in seconds. It is a hint; the
	// JWT's exp claim is authoritative.
	ExpiresIn int `json:"expires_in,omitempty"`

	// User is returned by login. Some backends name it data.
	User *users.Profile `json:"user,omitempty"`
	Data *users.Profile `json:"data,omitempty"`
}

// Profile returns whichever profile field the backend populated.
func (r *TokenResponse) Profile() *users.Profile {
	if r.User != nil {
		return r.User
	}
	return r.Data
}

// ProfileResponse is the body returned by GET /profile.
type ProfileResponse struct {
	Status  string         `json:"status,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    *users.Profile `json:"data,omitempty"`
	Profile *users.Profile `json:"profile,omitempty"`
}

// User returns whichever profile field the backend populated.
func (r *ProfileResponse) User() *users.Profile {
	if r.Data != nil {
		return r.Data
	}
	return r.Profile
}

// RefreshRequest is the body of POST /refresh-token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ErrorResponse is the error body common to every endpoint.
type ErrorResponse struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Text returns the most specific message in the body.
func (r *ErrorResponse) Text() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Error
}
