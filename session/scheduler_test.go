package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/authapi"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/stretchr/testify/require"
)

func startScheduler(t *testing.T, f *fixture, clock *fakeClock, interval time.Duration) {
	t.Helper()
	s, err := session.NewScheduler(f.mgr, interval, session.WithTicker(clock.Ticker))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	require.Eventually(t, func() bool { return clock.activeTickers() == 1 }, time.Second, time.Millisecond)
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := session.NewScheduler(nil, time.Minute)
	require.ErrorContains(t, err, "session manager is required")

	f := newFixture(t)
	_, err = session.NewScheduler(f.mgr, 0)
	require.ErrorContains(t, err, "interval must be positive")
}

func TestScheduler_RefreshesOncePerInterval(t *testing.T) {
	f := newFixture(t)
	f.signedIn(alice)
	f.chain(0, 3, alice)
	clock := newFakeClock()
	startScheduler(t, f, clock, 45*time.Minute)

	clock.Advance(3 * 45 * time.Minute)

	require.Eventually(t, func() bool {
		return f.api.Calls(authapi.OpRefresh) == 3 && !f.mgr.InFlight()
	}, time.Second, time.Millisecond)
	require.Equal(t, pair(3), *f.store.Load())
	require.Equal(t, session.StateAuthenticated, f.mgr.Snapshot().State)
}

func TestScheduler_IgnoresTicksWhileSignedOut(t *testing.T) {
	f := newFixture(t)
	clock := newFakeClock()
	startScheduler(t, f, clock, 45*time.Minute)

	clock.Advance(2 * 45 * time.Minute)

	require.Zero(t, f.api.Calls(authapi.OpRefresh))
	require.Zero(t, f.api.Calls(authapi.OpValidate))
}

func TestScheduler_FailedTickRetriesNextTick(t *testing.T) {
	f := newFixture(t)
	f.signedIn(alice)
	f.chain(0, 1, alice)
	f.api.Fail(authapi.OpRefresh, transportErr(authapi.OpRefresh))
	clock := newFakeClock()
	startScheduler(t, f, clock, 45*time.Minute)

	clock.Advance(45 * time.Minute)
	require.Eventually(t, func() bool {
		return f.api.Calls(authapi.OpRefresh) == 1 && !f.mgr.InFlight()
	}, time.Second, time.Millisecond)
	require.Equal(t, session.StateAuthenticated, f.mgr.Snapshot().State)
	require.Equal(t, pair(0), *f.store.Load())

	f.api.Fail(authapi.OpRefresh, nil)
	clock.Advance(45 * time.Minute)
	require.Eventually(t, func() bool {
		creds := f.store.Load()
		return creds != nil && *creds == pair(1)
	}, time.Second, time.Millisecond)
}

func TestScheduler_RestartsIntervalOnSignIn(t *testing.T) {
	f := newFixture(t)
	f.api.AddAccount(alice.Email, "secret", pair(0), alice)
	f.chain(0, 1, alice)
	clock := newFakeClock()
	startScheduler(t, f, clock, 45*time.Minute)

	clock.Advance(30 * time.Minute)
	require.NoError(t, f.mgr.Login(context.Background(), alice.Email, "secret"))
	require.Eventually(t, func() bool { return clock.created() == 2 }, time.Second, time.Millisecond)

	// The first ticker would have fired here.
	clock.Advance(20 * time.Minute)
	require.Zero(t, f.api.Calls(authapi.OpRefresh))

	clock.Advance(25 * time.Minute)
	require.Eventually(t, func() bool {
		return f.api.Calls(authapi.OpRefresh) == 1 && !f.mgr.InFlight()
	}, time.Second, time.Millisecond)
}
