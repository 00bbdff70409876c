package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-session/token/refresh"
)

// Signal is a kind of user interaction.
type Signal int

const (
	SignalPointer Signal = iota
	SignalKeyboard
	SignalScroll
	SignalTouch
)

func (s Signal) String() string {
	switch s {
	case SignalPointer:
		return "pointer"
	case SignalKeyboard:
		return "keyboard"
	case SignalScroll:
		return "scroll"
	case SignalTouch:
		return "touch"
	default:
		return "unknown"
	}
}

// ActivityMonitor refreshes the session when the user comes back after a
// long idle period. Nothing runs while the user is idle.
type ActivityMonitor struct {
	mgr       *Manager
	threshold time.Duration
	nowTime   func() time.Time
	logger    zerolog.Logger

	lock         sync.Mutex
	lastActivity time.Time
}

type ActivityOption func(*ActivityMonitor)

// WithActivityClock sets the now time function (primarily for testing)
func WithActivityClock(nowFunc func() time.Time) ActivityOption {
	return func(a *ActivityMonitor) {
		a.nowTime = nowFunc
	}
}

func WithActivityLogger(l zerolog.Logger) ActivityOption {
	return func(a *ActivityMonitor) {
		a.logger = l
	}
}

// NewActivityMonitor counts the moment of creation as the last activity.
func NewActivityMonitor(mgr *Manager, idleThreshold time.Duration, opts ...ActivityOption) (*ActivityMonitor, error) {
	if mgr == nil {
		return nil, errors.New("[NewActivityMonitor] session manager is required")
	}
	if idleThreshold <= 0 {
		return nil, errors.Errorf("[NewActivityMonitor] idle threshold must be positive, got %s", idleThreshold)
	}
	a := &ActivityMonitor{
		mgr:       mgr,
		threshold: idleThreshold,
		nowTime:   time.Now,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("component", "activity").Logger()
	a.lastActivity = a.nowTime()
	return a, nil
}

// Observe records sig. If it ends an idle period longer than the threshold
// and the session is authenticated, one refresh runs before Observe returns.
func (a *ActivityMonitor) Observe(ctx context.Context, sig Signal) error {
	a.lock.Lock()
	now := a.nowTime()
	idle := now.Sub(a.lastActivity)
	a.lastActivity = now
	a.lock.Unlock()

	if idle <= a.threshold || !a.mgr.Snapshot().IsAuthenticated {
		return nil
	}

	a.logger.Debug().Str("signal", sig.String()).Dur("idle", idle).Msg("activity after idle period, refreshing")
	return a.mgr.RefreshFor(ctx, refresh.TriggerActivity)
}

// LastActivity returns when the last signal was observed.
func (a *ActivityMonitor) LastActivity() time.Time {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.lastActivity
}

// Run observes signals until ctx ends or signals is closed.
func (a *ActivityMonitor) Run(ctx context.Context, signals <-chan Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if err := a.Observe(ctx, sig); err != nil {
				a.logger.Warn().Err(err).Str("outcome", Outcome(err)).Msg("activity refresh failed")
			}
		}
	}
}
