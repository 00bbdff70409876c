package session

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-auth-session/authapi"
	sessionerrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/users"
)

// bootstrapFlow rebuilds the session from storage.
func (m *Manager) bootstrapFlow(ctx context.Context, gen uint64) (Snapshot, error) {
	m.migrateLegacy(gen)
	creds := m.store.Load()
	if creds == nil {
		err := m.commit(gen, Snapshot{State: StateUnauthenticated}, nil)
		return m.Snapshot(), err
	}

	cached := m.store.LoadCachedUser()
	if err := m.commit(gen, Snapshot{State: StateValidating, User: m.shown(cached)}, nil); err != nil {
		return m.Snapshot(), err
	}
	return m.validate(ctx, gen, *creds, cached)
}

// refreshFlow refreshes an authenticated session and revalidates any other.
func (m *Manager) refreshFlow(ctx context.Context, gen uint64) (Snapshot, error) {
	snap := m.Snapshot()
	if snap.State != StateAuthenticated {
		return m.bootstrapFlow(ctx, gen)
	}

	creds := m.store.Load()
	if creds == nil {
		// Cleared by another tab.
		if err := m.commit(gen, Snapshot{State: StateUnauthenticated}, nil); err != nil {
			return m.Snapshot(), err
		}
		return m.Snapshot(), sessionerrors.ErrNoCredentials
	}

	if err := m.commit(gen, Snapshot{State: StateRefreshing, User: snap.User, Verified: snap.Verified}, nil); err != nil {
		return m.Snapshot(), err
	}
	return m.refresh(ctx, gen, *creds, snap.User, snap.Verified)
}

// validate checks creds against the backend. cached is the last known
// profile, used as a fallback and for fields the backend omits.
func (m *Manager) validate(ctx context.Context, gen uint64, creds token.Credentials, cached *users.Profile) (Snapshot, error) {
	profile, err := m.callValidate(ctx, creds.AccessToken)
	m.metrics.Validation(Outcome(err))
	if err == nil {
		return m.authenticated(gen, *profile, cached)
	}

	if !authapi.IsAuth(err) {
		return m.fallback(gen, cached, false, err)
	}

	if creds.RefreshToken == "" {
		if cerr := m.clearIfCurrent(gen); cerr != nil {
			return m.Snapshot(), cerr
		}
		return m.Snapshot(), err
	}

	if cerr := m.commit(gen, Snapshot{State: StateRefreshing, User: m.shown(cached)}, nil); cerr != nil {
		return m.Snapshot(), cerr
	}
	return m.refresh(ctx, gen, creds, cached, false)
}

// refresh exchanges the refresh token and validates the new access token.
// prev is the user shown before the refresh.
func (m *Manager) refresh(ctx context.Context, gen uint64, creds token.Credentials, prev *users.Profile, prevVerified bool) (Snapshot, error) {
	next, err := m.callRefresh(ctx, creds.RefreshToken)
	if err != nil {
		if authapi.IsAuth(err) {
			return m.rejected(ctx, gen, creds, prev, err)
		}
		return m.fallback(gen, prev, prevVerified, err)
	}

	rotated := creds.Rotate(*next)
	if err := m.persist(gen, rotated); err != nil {
		return m.Snapshot(), err
	}

	profile, err := m.callValidate(ctx, rotated.AccessToken)
	m.metrics.Validation(Outcome(err))
	switch {
	case err == nil:
		return m.authenticated(gen, *profile, prev)
	case authapi.IsAuth(err):
		return m.rejected(ctx, gen, rotated, prev, err)
	default:
		return m.fallback(gen, prev, prevVerified, err)
	}
}

// rejected handles an authoritative rejection of used. When storage holds a
// different pair, another tab rotated the credentials while this flight ran:
// the stored pair is validated instead of clearing it. Otherwise the session
// is cleared.
func (m *Manager) rejected(ctx context.Context, gen uint64, used token.Credentials, prev *users.Profile, cause error) (Snapshot, error) {
	if stored := m.store.Load(); stored != nil && *stored != used {
		m.logger.Info().Err(cause).Msg("credentials rotated by another tab, adopting them")
		profile, err := m.callValidate(ctx, stored.AccessToken)
		m.metrics.Validation(Outcome(err))
		switch {
		case err == nil:
			return m.authenticated(gen, *profile, prev)
		case !authapi.IsAuth(err):
			return m.fallback(gen, prev, false, err)
		}
		cause = err
	}

	m.logger.Info().Err(cause).Msg("credentials rejected, signing out")
	if cerr := m.clearIfCurrent(gen); cerr != nil {
		return m.Snapshot(), cerr
	}
	return m.Snapshot(), cause
}

// migrateLegacy rewrites legacy keys under the lock, so a clear that lands
// first is never undone.
func (m *Manager) migrateLegacy(gen uint64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if gen != m.generation {
		return
	}
	if _, err := m.store.MigrateLegacy(); err != nil {
		m.logger.Warn().Err(err).Msg("legacy credentials not migrated")
	}
}

// persist saves refreshed credentials. A store that cannot take them leaves
// the session Failed: the backend has rotated the refresh token, so the
// stored pair is no longer usable.
func (m *Manager) persist(gen uint64, creds token.Credentials) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if gen != m.generation {
		return ErrStaleResult
	}
	if err := m.store.Save(creds); err != nil {
		m.logger.Err(err).Msg("refreshed credentials not persisted")
		m.setLocked(Snapshot{State: StateFailed, Err: err})
		return errors.Wrap(err, "[Manager.refresh] persist credentials")
	}
	return nil
}

func (m *Manager) authenticated(gen uint64, profile users.Profile, prev *users.Profile) (Snapshot, error) {
	p := profile.WithFallbacks(prev)
	err := m.commit(gen, Snapshot{State: StateAuthenticated, User: &p, Verified: true}, func() error {
		if err := m.store.SaveCachedUser(p); err != nil {
			m.logger.Warn().Err(err).Msg("cached user not saved")
		}
		return nil
	})
	return m.Snapshot(), err
}

// fallback handles a non-authoritative failure: the session keeps user when
// there is one and is otherwise reported signed out, with the stored
// credentials left in place for the next attempt.
func (m *Manager) fallback(gen uint64, user *users.Profile, verified bool, cause error) (Snapshot, error) {
	next := Snapshot{State: StateUnauthenticated, Err: cause}
	if user != nil {
		next = Snapshot{State: StateAuthenticated, User: user, Verified: verified, Err: cause}
	}
	if err := m.commit(gen, next, nil); err != nil {
		return m.Snapshot(), err
	}
	m.logger.Warn().Err(cause).Bool("kept_user", user != nil).Msg("auth backend unavailable, session unchanged")
	return m.Snapshot(), cause
}

// shown is the profile exposed while the backend has not confirmed it.
func (m *Manager) shown(cached *users.Profile) *users.Profile {
	if m.strict {
		return nil
	}
	return cached
}

func (m *Manager) callValidate(ctx context.Context, accessToken string) (*users.Profile, error) {
	ctx, cancel := m.apiContext(ctx)
	defer cancel()

	start := time.Now()
	p, err := m.api.ValidateSession(ctx, accessToken)
	if err == nil && !p.Valid() {
		err = authapi.NewError(authapi.OpValidate, authapi.ErrServer, 0, errors.New("backend returned an empty profile"))
	}
	m.metrics.APICall(authapi.OpValidate, Outcome(err), time.Since(start))
	return p, err
}

func (m *Manager) callRefresh(ctx context.Context, refreshToken string) (*token.Credentials, error) {
	ctx, cancel := m.apiContext(ctx)
	defer cancel()

	start := time.Now()
	next, err := m.api.RefreshSession(ctx, refreshToken)
	if err == nil && (next == nil || next.AccessToken == "") {
		err = authapi.NewError(authapi.OpRefresh, authapi.ErrServer, 0, errors.New("backend returned no access token"))
	}
	m.metrics.APICall(authapi.OpRefresh, Outcome(err), time.Since(start))
	return next, err
}
