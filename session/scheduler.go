package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-session/token/refresh"
)

// TickerFunc starts a ticker and returns its channel and stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Scheduler refreshes an authenticated session on a fixed interval, which
// must stay below the access token lifetime.
type Scheduler struct {
	mgr       *Manager
	interval  time.Duration
	newTicker TickerFunc
	logger    zerolog.Logger
}

type SchedulerOption func(*Scheduler)

// WithTicker replaces the wall-clock ticker (primarily for testing).
func WithTicker(fn TickerFunc) SchedulerOption {
	return func(s *Scheduler) {
		s.newTicker = fn
	}
}

func WithSchedulerLogger(l zerolog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

func NewScheduler(mgr *Manager, interval time.Duration, opts ...SchedulerOption) (*Scheduler, error) {
	if mgr == nil {
		return nil, errors.New("[NewScheduler] session manager is required")
	}
	if interval <= 0 {
		return nil, errors.Errorf("[NewScheduler] interval must be positive, got %s", interval)
	}
	s := &Scheduler{
		mgr:       mgr,
		interval:  interval,
		newTicker: realTicker,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "scheduler").Logger()
	return s, nil
}

// Run ticks until ctx ends. The interval restarts whenever the session
// becomes authenticated; ticks while signed out are ignored. A failed tick is
// logged and retried on the next one.
func (s *Scheduler) Run(ctx context.Context) error {
	restart := make(chan struct{}, 1)
	authenticated := s.mgr.Snapshot().IsAuthenticated
	unsubscribe := s.mgr.Subscribe(func(snap Snapshot) {
		if snap.IsAuthenticated && !authenticated {
			select {
			case restart <- struct{}{}:
			default:
			}
		}
		authenticated = snap.IsAuthenticated
	})
	defer unsubscribe()

	tick, stop := s.newTicker(s.interval)
	defer func() { stop() }()

	s.logger.Info().Dur("interval", s.interval).Msg("periodic refresh started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("periodic refresh stopped")
			return nil
		case <-restart:
			stop()
			tick, stop = s.newTicker(s.interval)
		case <-tick:
			if !s.mgr.Snapshot().IsAuthenticated {
				continue
			}
			if err := s.mgr.RefreshFor(ctx, refresh.TriggerPeriodic); err != nil {
				s.logger.Warn().Err(err).Str("outcome", Outcome(err)).Msg("periodic refresh failed, retrying next tick")
			}
		}
	}
}
