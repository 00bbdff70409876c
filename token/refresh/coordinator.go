package refresh

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Trigger identifies what asked for a refresh.
type Trigger string

const (
	TriggerBootstrap   Trigger = "bootstrap"
	TriggerManual      Trigger = "manual"
	TriggerPeriodic    Trigger = "periodic"
	TriggerActivity    Trigger = "activity"
	TriggerCrossTab    Trigger = "crosstab"
	TriggerTokenSource Trigger = "tokensource"
)

// flightKey is constant: a tab owns one session, so every refresh shares one lock.
const flightKey = "session"

const defaultFlightTimeout = 2 * time.Minute

// Recorder receives coordinator events. internal/metrics implements it.
type Recorder interface {
	RefreshAttempt(trigger, outcome string)
	RefreshJoined(trigger string)
}

// OutcomeFunc labels a flight result for metrics and logs.
type OutcomeFunc func(error) string

// Coordinator guarantees at most one refresh flight at a time. Callers that
// arrive while a flight is running join it and receive the same result.
type Coordinator[T any] struct {
	group    singleflight.Group
	inFlight atomic.Bool
	timeout  time.Duration
	recorder Recorder
	outcome  OutcomeFunc
	logger   zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	timeout  time.Duration
	recorder Recorder
	outcome  OutcomeFunc
	logger   *zerolog.Logger
}

// WithTimeout bounds a single flight. The flight is detached from the
// leader's context, so this is the only deadline it has.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

func WithRecorder(r Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

func WithOutcome(fn OutcomeFunc) Option {
	return func(o *options) {
		o.outcome = fn
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

// NewCoordinator creates a coordinator for results of type T.
func NewCoordinator[T any](opts ...Option) *Coordinator[T] {
	o := options{timeout: defaultFlightTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.outcome == nil {
		o.outcome = defaultOutcome
	}
	logger := log.Logger
	if o.logger != nil {
		logger = *o.logger
	}
	return &Coordinator[T]{
		timeout:  o.timeout,
		recorder: o.recorder,
		outcome:  o.outcome,
		logger:   logger.With().Str("component", "refresh").Logger(),
	}
}

// Do runs fn unless a flight is already running, in which case the caller
// joins that flight. shared is true when more than one caller received the
// result. A caller whose ctx ends stops waiting; the flight itself carries on
// for the benefit of the other callers.
func (c *Coordinator[T]) Do(ctx context.Context, trigger Trigger, fn func(ctx context.Context) (T, error)) (result T, shared bool, err error) {
	led := false
	ch := c.group.DoChan(flightKey, func() (any, error) {
		led = true
		return c.fly(ctx, trigger, fn)
	})

	select {
	case res := <-ch:
		if !led {
			c.joined(trigger)
		}
		v, _ := res.Val.(T)
		return v, res.Shared, res.Err
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// InFlight reports whether a flight is running.
func (c *Coordinator[T]) InFlight() bool {
	return c.inFlight.Load()
}

func (c *Coordinator[T]) fly(ctx context.Context, trigger Trigger, fn func(ctx context.Context) (T, error)) (result T, err error) {
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)

	flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh flight panicked: %v", r)
		}
		outcome := c.outcome(err)
		if c.recorder != nil {
			c.recorder.RefreshAttempt(string(trigger), outcome)
		}
		c.logger.Debug().Str("trigger", string(trigger)).Str("outcome", outcome).Msg("refresh flight finished")
	}()

	return fn(flightCtx)
}

func (c *Coordinator[T]) joined(trigger Trigger) {
	if c.recorder != nil {
		c.recorder.RefreshJoined(string(trigger))
	}
	c.logger.Debug().Str("trigger", string(trigger)).Msg("joined in-flight refresh")
}

func defaultOutcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
