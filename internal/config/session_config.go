package config

import "time"

type SessionConfig interface {
	GetRefreshInterval() time.Duration
	GetIdleThreshold() time.Duration
	GetAccessTokenLifetime() time.Duration
	GetBootstrapDebounce() time.Duration
	GetLoginPath() string
	GetStrictBootstrap() bool
}

type Session struct{}

var _ SessionConfig = Session{}

// GetRefreshInterval is the proactive refresh cadence. It must stay below the
// access token lifetime.
func (Session) GetRefreshInterval() time.Duration {
	return GetEnvDuration("SESSION_REFRESH_INTERVAL", 45*time.Minute)
}

// GetIdleThreshold is the idle gap after which renewed activity triggers a refresh.
func (Session) GetIdleThreshold() time.Duration {
	return GetEnvDuration("SESSION_IDLE_THRESHOLD", 30*time.Minute)
}

func (Session) GetAccessTokenLifetime() time.Duration {
	return GetEnvDuration("SESSION_ACCESS_TOKEN_LIFETIME", time.Hour)
}

func (Session) GetBootstrapDebounce() time.Duration {
	return GetEnvDuration("SESSION_BOOTSTRAP_DEBOUNCE", 100*time.Millisecond)
}

func (Session) GetLoginPath() string {
	return GetEnv("SESSION_LOGIN_PATH", "/login")
}

// GetStrictBootstrap hides the cached user until the first validation resolves.
func (Session) GetStrictBootstrap() bool {
	return GetEnvBool("SESSION_STRICT_BOOTSTRAP", false)
}
