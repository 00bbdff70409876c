package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/config"
	sessionerrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := config.New()

	require.Equal(t, 45*time.Minute, c.GetRefreshInterval())
	require.Equal(t, 30*time.Minute, c.GetIdleThreshold())
	require.Equal(t, time.Hour, c.GetAccessTokenLifetime())
	require.Equal(t, 100*time.Millisecond, c.GetBootstrapDebounce())
	require.Equal(t, "/login", c.GetLoginPath())
	require.Equal(t, 2*time.Minute, c.GetLoginTimeout())
	require.Equal(t, 90*time.Second, c.GetRequestTimeout())
	require.Equal(t, config.BackendFile, c.GetStoreBackend())
	require.NoError(t, config.Validate(c))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SESSION_REFRESH_INTERVAL", "10m")
	t.Setenv("SESSION_IDLE_THRESHOLD", "not-a-duration")
	t.Setenv("STORE_BACKEND", config.BackendRedis)
	t.Setenv("SESSION_STRICT_BOOTSTRAP", "true")

	c := config.New()
	require.Equal(t, 10*time.Minute, c.GetRefreshInterval())
	require.Equal(t, 30*time.Minute, c.GetIdleThreshold(), "unparsable values fall back to the default")
	require.Equal(t, config.BackendRedis, c.GetStoreBackend())
	require.True(t, c.GetStrictBootstrap())
}

func TestValidate(t *testing.T) {
	t.Run("interval must stay below token lifetime", func(t *testing.T) {
		t.Setenv("SESSION_REFRESH_INTERVAL", "61m")
		err := config.Validate(config.New())
		require.ErrorIs(t, err, sessionerrors.ErrInvalidConfig)
		require.Contains(t, err.Error(), "below the access token lifetime")
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "floppy")
		err := config.Validate(config.New())
		require.ErrorIs(t, err, sessionerrors.ErrInvalidConfig)
	})

	t.Run("encryption key length", func(t *testing.T) {
		t.Setenv("STORE_ENCRYPTION_KEY", "abcd")
		err := config.Validate(config.New())
		require.ErrorIs(t, err, sessionerrors.ErrInvalidConfig)
		require.Contains(t, err.Error(), "32 bytes")
	})
}
