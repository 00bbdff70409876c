package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/jrsteele09/go-auth-session/token/refresh"
)

// CrossTabSync follows credential changes made by other tabs. Each
// notification is only a cue: the state is always re-derived from storage
// and the manager's own snapshot, so out-of-order or duplicated
// notifications are harmless.
type CrossTabSync struct {
	mgr    *Manager
	repo   storage.Repo
	logger zerolog.Logger

	lock        sync.Mutex
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewCrossTabSync watches repo, which defaults to the storage view of the
// manager's credential store.
func NewCrossTabSync(mgr *Manager, repo storage.Repo) (*CrossTabSync, error) {
	if mgr == nil {
		return nil, errors.New("[NewCrossTabSync] session manager is required")
	}
	if repo == nil {
		repo = mgr.Store().Repo()
	}
	return &CrossTabSync{
		mgr:    mgr,
		repo:   repo,
		logger: mgr.logger.With().Str("component", "crosstab").Logger(),
	}, nil
}

func (c *CrossTabSync) Start() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.unsubscribe != nil {
		return nil
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	unsubscribe, err := c.repo.Subscribe(c.onChange)
	if err != nil {
		c.cancel()
		return errors.Wrap(err, "[CrossTabSync.Start]")
	}
	c.unsubscribe = unsubscribe
	return nil
}

func (c *CrossTabSync) Stop() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.unsubscribe == nil {
		return
	}
	c.unsubscribe()
	c.cancel()
	c.unsubscribe = nil
}

func (c *CrossTabSync) onChange(change storage.Change) {
	store := c.mgr.Store()
	if !store.IsCredentialKey(change.Key) {
		return
	}

	present := store.Load() != nil
	c.lock.Lock()
	ctx := c.ctx
	c.lock.Unlock()

	// The snapshot says whether this tab holds a session, whoever wrote last.
	snap := c.mgr.Snapshot()
	switch {
	case !present && snap.State != StateUnauthenticated:
		c.logger.Info().Str("origin", change.Origin).Msg("signed out in another tab")
		c.mgr.ForceLoggedOut()
	case present && !snap.IsAuthenticated && !snap.Loading:
		c.logger.Info().Str("origin", change.Origin).Msg("signed in in another tab")
		if err := c.mgr.RefreshFor(ctx, refresh.TriggerCrossTab); err != nil {
			c.logger.Warn().Err(err).Msg("cross-tab bootstrap failed")
		}
	}
}
