package jwt_test

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/token/jwt"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func TestIntrospect(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	jwt.NowTimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.NowTimeFunc = time.Now })

	raw := signedToken(t, jwtlib.MapClaims{
		"sub":   "user-1",
		"email": "jane@example.com",
		"iat":   now.Add(-15 * time.Minute).Unix(),
		"exp":   now.Add(45 * time.Minute).Unix(),
	})

	i, err := jwt.Introspect(raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", i.Subject)
	require.Equal(t, "jane@example.com", i.Email)
	require.True(t, i.HasExpiry())
	require.False(t, i.Expired())
	require.False(t, i.ExpiresWithin(30*time.Minute))
	require.True(t, i.ExpiresWithin(45*time.Minute))
	require.Equal(t, 45*time.Minute, i.Remaining())
}

func TestIntrospect_Expired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	jwt.NowTimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.NowTimeFunc = time.Now })

	// ParseUnverified skips claim validation, so expired tokens still introspect.
	raw := signedToken(t, jwtlib.MapClaims{"sub": "user-1", "exp": now.Add(-time.Minute).Unix()})
	i, err := jwt.Introspect(raw)
	require.NoError(t, err)
	require.True(t, i.Expired())
	require.Zero(t, i.Remaining())
}

func TestIntrospect_Opaque(t *testing.T) {
	for _, raw := range []string{"", "opaque-refresh-token", "a.b.c"} {
		_, err := jwt.Introspect(raw)
		require.ErrorIs(t, err, jwt.ErrOpaqueToken, raw)
	}
}

func TestIntrospect_NoExpiry(t *testing.T) {
	raw := signedToken(t, jwtlib.MapClaims{"sub": "user-1"})
	i, err := jwt.Introspect(raw)
	require.NoError(t, err)
	require.False(t, i.HasExpiry())
	require.False(t, i.ExpiresWithin(time.Hour))
}
