package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// ErrOpaqueToken is returned for access tokens that are not JWTs.
var ErrOpaqueToken = errors.New("token is not a JWT")

// Introspection holds the claims a client can read from an access token
// without the signing key. The signature is NOT verified, so nothing here
// proves the token is valid; it is only an expiry hint for scheduling.
type Introspection struct {
	Subject   string    `json:"sub,omitempty"`   // Users unique ID
	Email     string    `json:"email,omitempty"` // E-mail claim when present
	IssuedAt  time.Time `json:"iat,omitempty"`   // Issued at time
	ExpiresAt time.Time `json:"exp,omitempty"`   // Expiration, zero when the token carries none
}

// Introspect parses rawToken without verifying its signature.
func Introspect(rawToken string) (*Introspection, error) {
	if strings.TrimSpace(rawToken) == "" || strings.Count(rawToken, ".") != 2 {
		return nil, ErrOpaqueToken
	}

	unverifiedToken, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpaqueToken, err)
	}

	claims, ok := unverifiedToken.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("error extracting claims")
	}

	i := &Introspection{}
	i.Subject, _ = claims.GetSubject()
	i.Email, _ = claims["email"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		i.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		i.IssuedAt = iat.Time
	}
	return i, nil
}

// HasExpiry reports whether the token carried an exp claim.
func (i *Introspection) HasExpiry() bool {
	return i != nil && !i.ExpiresAt.IsZero()
}

// Expired reports whether the exp claim is in the past.
func (i *Introspection) Expired() bool {
	return i.ExpiresWithin(0)
}

// ExpiresWithin reports whether the token expires within d from now.
// Tokens without an exp claim never expire by this measure.
func (i *Introspection) ExpiresWithin(d time.Duration) bool {
	if !i.HasExpiry() {
		return false
	}
	return !NowTimeFunc().Add(d).Before(i.ExpiresAt)
}

// Remaining is the time left before expiry, zero when expired or unknown.
func (i *Introspection) Remaining() time.Duration {
	if !i.HasExpiry() {
		return 0
	}
	if r := i.ExpiresAt.Sub(NowTimeFunc()); r > 0 {
		return r
	}
	return 0
}
