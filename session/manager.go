// Package session drives the client-side authentication session: it
// validates stored credentials, refreshes them, and keeps every observer of
// the session in step with storage.
//
// Only an authoritative rejection from the backend (authapi.ErrAuth) ever
// signs a user out. Transport and server failures leave the session as it
// was, falling back to the cached profile where there is one.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-session/authapi"
	"github.com/jrsteele09/go-auth-session/credentials"
	sessionerrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/token/refresh"
)

var (
	ErrNotAuthenticated = sessionerrors.ErrNotAuthenticated
	ErrStaleResult      = sessionerrors.ErrStaleResult
)

// Manager owns the session state of one tab. All writes to the credential
// store go through it.
type Manager struct {
	api   authapi.Client
	store *credentials.Store

	coordinator    *refresh.Coordinator[Snapshot]
	metrics        Metrics
	logger         zerolog.Logger
	nowTime        func() time.Time
	redirect       func(path string)
	loginPath      string
	debounce       time.Duration
	strict         bool
	requestTimeout time.Duration
	loginTimeout   time.Duration
	expiryLeeway   time.Duration

	// lock guards the fields below and serialises transitions with the
	// storage writes that accompany them.
	lock          sync.Mutex
	snapshot      Snapshot
	generation    uint64
	lastBootstrap time.Time
	subscribers   map[int]func(Snapshot)
	nextID        int

	current atomic.Pointer[Snapshot]
}

// NewManager creates a manager in the Unauthenticated state. Call Bootstrap
// to load the stored session.
func NewManager(api authapi.Client, store *credentials.Store, opts ...Option) (*Manager, error) {
	if api == nil {
		return nil, errors.New("[NewManager] auth API client is required")
	}
	if store == nil {
		return nil, errors.New("[NewManager] credential store is required")
	}

	m := &Manager{
		api:            api,
		store:          store,
		logger:         log.Logger,
		nowTime:        time.Now,
		loginPath:      DefaultLoginPath,
		debounce:       DefaultBootstrapDebounce,
		requestTimeout: DefaultRequestTimeout,
		loginTimeout:   DefaultLoginTimeout,
		expiryLeeway:   DefaultExpiryLeeway,
		subscribers:    make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = nopMetrics{}
	}
	base := m.logger
	m.logger = m.logger.With().Str("component", "session").Logger()
	if m.coordinator == nil {
		m.coordinator = refresh.NewCoordinator[Snapshot](
			refresh.WithRecorder(m.metrics),
			refresh.WithOutcome(Outcome),
			refresh.WithLogger(base),
		)
	}

	m.snapshot = Snapshot{State: StateUnauthenticated, ChangedAt: m.nowTime()}.derive()
	initial := m.snapshot
	m.current.Store(&initial)
	return m, nil
}

// Snapshot returns the current state without blocking.
func (m *Manager) Snapshot() Snapshot {
	return *m.current.Load()
}

// Store returns the credential store the manager writes through.
func (m *Manager) Store() *credentials.Store {
	return m.store
}

// Subscribe calls fn after every transition, in transition order. fn runs
// while the manager is locked: it may call Snapshot but must hand anything
// else off to another goroutine.
func (m *Manager) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.lock.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	m.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.lock.Lock()
			delete(m.subscribers, id)
			m.lock.Unlock()
		})
	}
}

// Changes delivers snapshots until ctx ends. A slow reader only sees the
// latest snapshot.
func (m *Manager) Changes(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	unsubscribe := m.Subscribe(func(s Snapshot) {
		select {
		case <-ch:
		default:
		}
		ch <- s
	})
	go func() {
		<-ctx.Done()
		unsubscribe()
		close(ch)
	}()
	return ch
}

// Bootstrap loads the stored session and validates it. Calls repeated within
// the debounce window do nothing.
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.lock.Lock()
	now := m.nowTime()
	if m.debounce > 0 && !m.lastBootstrap.IsZero() && now.Sub(m.lastBootstrap) < m.debounce {
		m.lock.Unlock()
		m.logger.Debug().Msg("bootstrap debounced")
		return nil
	}
	m.lastBootstrap = now
	m.lock.Unlock()

	return m.run(ctx, refresh.TriggerBootstrap, m.bootstrapFlow)
}

// RefreshAuth refreshes an authenticated session, or re-runs validation
// otherwise. Concurrent calls share one flight.
func (m *Manager) RefreshAuth(ctx context.Context) error {
	return m.RefreshFor(ctx, refresh.TriggerManual)
}

// RefreshFor is RefreshAuth on behalf of trigger.
func (m *Manager) RefreshFor(ctx context.Context, trigger refresh.Trigger) error {
	return m.run(ctx, trigger, m.refreshFlow)
}

// Login exchanges e-mail and password for credentials. On failure the
// session is left as it was.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	apiCtx, cancel := withTimeout(ctx, m.loginTimeout)
	defer cancel()

	start := time.Now()
	result, err := m.api.Login(apiCtx, email, password)
	m.metrics.APICall(authapi.OpLogin, Outcome(err), time.Since(start))
	if err != nil {
		return errors.Wrap(err, "[Manager.Login]")
	}

	m.lock.Lock()
	if err := m.store.Save(result.Credentials); err != nil {
		m.lock.Unlock()
		return errors.Wrap(err, "[Manager.Login] persist credentials")
	}
	m.generation++
	gen := m.generation

	if result.User.Valid() {
		p := result.User.WithFallbacks(nil)
		if err := m.store.SaveCachedUser(p); err != nil {
			m.logger.Warn().Err(err).Msg("cached user not saved")
		}
		m.setLocked(Snapshot{State: StateAuthenticated, User: &p, Verified: true})
		m.lock.Unlock()
		m.logger.Info().Str("user", p.ID).Msg("signed in")
		return nil
	}

	m.setLocked(Snapshot{State: StateValidating})
	m.lock.Unlock()

	_, err = m.validate(ctx, gen, result.Credentials, nil)
	return err
}

// SignOut clears the local session, revokes the credentials on the backend
// and redirects to the login path. The local session is gone even when the
// returned error reports that the remote logout failed.
func (m *Manager) SignOut(ctx context.Context) error {
	m.lock.Lock()
	creds := m.clearLocked()
	m.lock.Unlock()

	var err error
	if creds != nil {
		apiCtx, cancel := m.apiContext(ctx)
		start := time.Now()
		lerr := m.api.Logout(apiCtx, *creds)
		cancel()
		m.metrics.APICall(authapi.OpLogout, Outcome(lerr), time.Since(start))
		if lerr != nil {
			m.logger.Warn().Err(lerr).Msg("remote logout failed, local session cleared")
			err = errors.Wrap(lerr, "[Manager.SignOut] remote logout")
		}
	}

	if m.redirect != nil {
		m.redirect(m.loginPath)
	}
	return err
}

// ClearSession synchronously forgets the session and its stored
// credentials. Results of calls still in flight are discarded.
func (m *Manager) ClearSession() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.clearLocked()
}

// ForceLoggedOut resets the in-memory session without touching storage. It
// is used when another tab has already cleared the credentials.
func (m *Manager) ForceLoggedOut() {
	m.lock.Lock()
	wasAuthenticated := m.snapshot.IsAuthenticated
	m.generation++
	m.setLocked(Snapshot{State: StateUnauthenticated})
	m.lock.Unlock()

	if wasAuthenticated && m.redirect != nil {
		m.redirect(m.loginPath)
	}
}

// AccessToken returns the stored access token of an authenticated session.
func (m *Manager) AccessToken() (string, error) {
	if !m.Snapshot().IsAuthenticated {
		return "", ErrNotAuthenticated
	}
	creds := m.store.Load()
	if creds == nil {
		return "", sessionerrors.ErrNoCredentials
	}
	return creds.AccessToken, nil
}

// InFlight reports whether a validation or refresh is running.
func (m *Manager) InFlight() bool {
	return m.coordinator.InFlight()
}

type flow func(ctx context.Context, gen uint64) (Snapshot, error)

func (m *Manager) run(ctx context.Context, trigger refresh.Trigger, fn flow) error {
	_, shared, err := m.coordinator.Do(ctx, trigger, func(ctx context.Context) (Snapshot, error) {
		return fn(ctx, m.currentGeneration())
	})

	level := zerolog.DebugLevel
	if err != nil && !errors.Is(err, ErrStaleResult) {
		level = zerolog.WarnLevel
	}
	m.logger.WithLevel(level).Err(err).
		Str("trigger", string(trigger)).
		Bool("shared", shared).
		Str("state", m.Snapshot().State.String()).
		Msg("session flight finished")
	return err
}

func (m *Manager) currentGeneration() uint64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.generation
}

// commit applies next if no clear has happened since gen was read. persist
// runs under the same lock, so a stale flight can never write to storage
// after the session was cleared.
func (m *Manager) commit(gen uint64, next Snapshot, persist func() error) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if gen != m.generation {
		m.logger.Debug().Uint64("generation", gen).Uint64("current", m.generation).Msg("discarding stale result")
		return ErrStaleResult
	}
	if persist != nil {
		if err := persist(); err != nil {
			return err
		}
	}
	m.setLocked(next)
	return nil
}

// clearIfCurrent clears the session unless it changed since gen was read.
func (m *Manager) clearIfCurrent(gen uint64) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if gen != m.generation {
		return ErrStaleResult
	}
	m.clearLocked()
	return nil
}

// clearLocked returns the credentials that were stored.
func (m *Manager) clearLocked() *token.Credentials {
	creds := m.store.Load()
	m.generation++
	if err := m.store.Clear(); err != nil {
		m.logger.Err(err).Msg("credential store not cleared")
	}
	m.setLocked(Snapshot{State: StateUnauthenticated})
	return creds
}

func (m *Manager) setLocked(next Snapshot) {
	prev := m.snapshot
	next.Generation = m.generation
	next.ChangedAt = m.nowTime()
	next = next.derive()

	m.snapshot = next
	published := next
	m.current.Store(&published)

	if prev.State == StateUnauthenticated && next.State == StateUnauthenticated && prev.Err == nil && next.Err == nil {
		return
	}
	if prev.State != next.State {
		m.metrics.Transition(prev.State.String(), next.State.String())
	}
	m.logger.Debug().
		Str("from", prev.State.String()).
		Str("state", next.State.String()).
		Uint64("generation", next.Generation).
		Msg("session transition")

	for _, fn := range m.subscribers {
		fn(next)
	}
}

func (m *Manager) apiContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, m.requestTimeout)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
