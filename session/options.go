package session

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-auth-session/token/refresh"
)

const (
	DefaultLoginPath         = "/login"
	DefaultBootstrapDebounce = 100 * time.Millisecond
	DefaultRequestTimeout    = 90 * time.Second
	DefaultLoginTimeout      = 2 * time.Minute
	DefaultExpiryLeeway      = time.Minute
)

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithRedirect sets the navigation hook called with the login path after
// sign-out.
func WithRedirect(fn func(path string)) Option {
	return func(m *Manager) {
		m.redirect = fn
	}
}

func WithLoginPath(path string) Option {
	return func(m *Manager) {
		m.loginPath = path
	}
}

// WithCoordinator shares a coordinator, typically so that a test can observe it.
func WithCoordinator(c *refresh.Coordinator[Snapshot]) Option {
	return func(m *Manager) {
		m.coordinator = c
	}
}

func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithBootstrapDebounce sets the window in which repeated Bootstrap calls
// are ignored. Zero disables debouncing.
func WithBootstrapDebounce(d time.Duration) Option {
	return func(m *Manager) {
		m.debounce = d
	}
}

// WithStrictBootstrap hides the cached profile until the backend has
// confirmed it.
func WithStrictBootstrap(strict bool) Option {
	return func(m *Manager) {
		m.strict = strict
	}
}

// WithRequestTimeout bounds each call to the auth API. Zero leaves the
// client's own timeouts in charge.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.requestTimeout = d
	}
}

// WithLoginTimeout bounds Login, which may take longer than other calls on
// a cold backend.
func WithLoginTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.loginTimeout = d
	}
}

// WithExpiryLeeway sets how close to expiry TokenSource refreshes an access token.
func WithExpiryLeeway(d time.Duration) Option {
	return func(m *Manager) {
		m.expiryLeeway = d
	}
}
