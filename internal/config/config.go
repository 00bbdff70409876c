package config

import (
	"fmt"
	"time"

	sessionerrors "github.com/jrsteele09/go-auth-session/internal/errors"
)

type Config interface {
	EnvConfig
	SessionConfig
	APIConfig
	StoreConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	Session
	API
	Store
}

func New() Config {
	return mainConfig{}
}

// Validate checks the relationships between settings that the individual
// getters cannot enforce on their own.
func Validate(c Config) error {
	if c.GetRefreshInterval() <= 0 {
		return sessionerrors.Wrapf(sessionerrors.ErrInvalidConfig, "refresh interval must be positive")
	}
	if c.GetRefreshInterval() >= c.GetAccessTokenLifetime() {
		return sessionerrors.Wrapf(sessionerrors.ErrInvalidConfig,
			"refresh interval %s must be below the access token lifetime %s",
			c.GetRefreshInterval(), c.GetAccessTokenLifetime())
	}
	if c.GetIdleThreshold() <= 0 {
		return sessionerrors.Wrapf(sessionerrors.ErrInvalidConfig, "idle threshold must be positive")
	}
	switch c.GetStoreBackend() {
	case BackendMemory, BackendFile, BackendBolt, BackendRedis:
	default:
		return sessionerrors.Wrapf(sessionerrors.ErrInvalidConfig, "unknown store backend %q", c.GetStoreBackend())
	}
	if key := c.GetStoreEncryptionKey(); key != nil && len(key) != 32 {
		return sessionerrors.Wrapf(sessionerrors.ErrInvalidConfig, "store encryption key must be 32 bytes, got %d", len(key))
	}
	return nil
}

// Describe renders the effective settings for debug logging. Secrets are omitted.
func Describe(c Config) string {
	return fmt.Sprintf("env=%s backend=%s refresh=%s idle=%s api=%s",
		c.GetEnv(), c.GetStoreBackend(), c.GetRefreshInterval().Round(time.Second),
		c.GetIdleThreshold().Round(time.Second), c.GetAPIBaseURL())
}
