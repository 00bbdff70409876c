package session_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/authapi"
	authapifake "github.com/jrsteele09/go-auth-session/authapi/apifake"
	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/session"
	storagerepofake "github.com/jrsteele09/go-auth-session/storage/repofake"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/stretchr/testify/require"
)

var (
	startTime = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	alice = users.Profile{ID: "user-alice", Email: "alice@example.com", Role: users.RoleUser}
)

func pair(n int) token.Credentials {
	return token.Credentials{
		AccessToken:  fmt.Sprintf("access-%d", n),
		RefreshToken: fmt.Sprintf("refresh-%d", n),
	}
}

type fixture struct {
	t      *testing.T
	api    *authapifake.FakeClient
	shared *storagerepofake.Shared
	store  *credentials.Store
	mgr    *session.Manager

	lock      sync.Mutex
	redirects []string
	seen      []session.Snapshot
}

// newFixture returns a signed-out tab over fresh shared storage.
func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()
	return newTab(t, authapifake.NewFakeClient(), storagerepofake.NewShared(), opts...)
}

// newTab opens another tab on the same backend and storage.
func newTab(t *testing.T, api *authapifake.FakeClient, shared *storagerepofake.Shared, opts ...session.Option) *fixture {
	t.Helper()
	f := &fixture{t: t, api: api, shared: shared}

	store, err := credentials.NewStore(shared.Tab())
	require.NoError(t, err)
	f.store = store

	opts = append([]session.Option{
		session.WithBootstrapDebounce(0),
		session.WithRedirect(func(path string) {
			f.lock.Lock()
			defer f.lock.Unlock()
			f.redirects = append(f.redirects, path)
		}),
	}, opts...)
	mgr, err := session.NewManager(api, store, opts...)
	require.NoError(t, err)
	f.mgr = mgr

	mgr.Subscribe(func(s session.Snapshot) {
		f.lock.Lock()
		defer f.lock.Unlock()
		f.seen = append(f.seen, s)
	})
	return f
}

// seed stores credentials as a previous run would have left them.
func (f *fixture) seed(creds token.Credentials, cached *users.Profile) {
	f.t.Helper()
	require.NoError(f.t, f.store.Save(creds))
	if cached != nil {
		require.NoError(f.t, f.store.SaveCachedUser(*cached))
	}
}

// chain makes refresh-i exchangeable for pair(i+1) for i in [from, to).
func (f *fixture) chain(from, to int, user users.Profile) {
	for i := from; i < to; i++ {
		f.api.Rotate(pair(i).RefreshToken, pair(i+1), user)
	}
}

// signedIn seeds pair(0) for user and bootstraps to Authenticated.
func (f *fixture) signedIn(user users.Profile) {
	f.t.Helper()
	f.seed(pair(0), nil)
	f.api.AddSession(pair(0).AccessToken, user)
	require.NoError(f.t, f.mgr.Bootstrap(context.Background()))
	require.Equal(f.t, session.StateAuthenticated, f.mgr.Snapshot().State)
}

func (f *fixture) states() []session.State {
	f.lock.Lock()
	defer f.lock.Unlock()
	states := make([]session.State, 0, len(f.seen))
	for _, s := range f.seen {
		states = append(states, s.State)
	}
	return states
}

func (f *fixture) snapshots() []session.Snapshot {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]session.Snapshot(nil), f.seen...)
}

func (f *fixture) redirectPaths() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.redirects...)
}

func transportErr(op string) error {
	return authapi.TransportError(op, fmt.Errorf("dial tcp: connection refused"))
}

func serverErr(op string) error {
	return authapi.NewError(op, authapi.ErrServer, 503, nil)
}

// countingMetrics records what the manager reports.
type countingMetrics struct {
	attempts    atomic.Int32
	joined      atomic.Int32
	validations atomic.Int32
	transitions atomic.Int32
}

func (c *countingMetrics) RefreshAttempt(string, string) { c.attempts.Add(1) }
func (c *countingMetrics) RefreshJoined(string) { c.joined.Add(1) }
func (c *countingMetrics) Validation(string) { c.validations.Add(1) }
func (c *countingMetrics) Transition(string, string) { c.transitions.Add(1) }
func (c *countingMetrics) APICall(string, string, time.Duration) {}

// fakeClock drives tickers by hand.
type fakeClock struct {
	lock    sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

type fakeTicker struct {
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: startTime}
}

func (c *fakeClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *fakeClock) Ticker(d time.Duration) (<-chan time.Time, func()) {
	c.lock.Lock()
	defer c.lock.Unlock()
	tk := &fakeTicker{ch: make(chan time.Time), interval: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, tk)
	return tk.ch, func() {
		c.lock.Lock()
		defer c.lock.Unlock()
		tk.stopped = true
	}
}

func (c *fakeClock) activeTickers() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	n := 0
	for _, tk := range c.tickers {
		if !tk.stopped {
			n++
		}
	}
	return n
}

func (c *fakeClock) created() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.tickers)
}

// Advance moves time forward, delivering every tick that falls due in order.
// Each delivery waits for the receiver.
func (c *fakeClock) Advance(d time.Duration) {
	c.lock.Lock()
	target := c.now.Add(d)
	c.lock.Unlock()

	for {
		c.lock.Lock()
		var due *fakeTicker
		for _, tk := range c.tickers {
			if !tk.stopped && !tk.next.After(target) && (due == nil || tk.next.Before(due.next)) {
				due = tk
			}
		}
		if due == nil {
			c.now = target
			c.lock.Unlock()
			return
		}
		at := due.next
		c.now = at
		due.next = at.Add(due.interval)
		c.lock.Unlock()

		due.ch <- at
	}
}
