package main

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-session/authapi"
	"github.com/jrsteele09/go-auth-session/authapi/httpclient"
	"github.com/jrsteele09/go-auth-session/authapi/oidcclient"
	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/jrsteele09/go-auth-session/storage/boltrepo"
	"github.com/jrsteele09/go-auth-session/storage/filerepo"
	"github.com/jrsteele09/go-auth-session/storage/redisrepo"
	storagerepofake "github.com/jrsteele09/go-auth-session/storage/repofake"
)

const boltFileName = "session.db"

// app is one tab: a storage view, the store over it and a manager.
type app struct {
	cfg     config.Config
	repo    storage.Repo
	store   *credentials.Store
	api     authapi.Client
	mgr     *session.Manager
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, opts ...session.Option) (*app, error) {
	a := &app{cfg: cfg}

	repo, err := a.openRepo(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.repo = repo

	a.store, err = credentials.NewStore(repo,
		credentials.WithKeyPrefix(cfg.GetStoreKeyPrefix()),
		credentials.WithLogger(log.Logger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.api, err = newAPIClient(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts = append([]session.Option{
		session.WithLogger(log.Logger),
		session.WithLoginPath(cfg.GetLoginPath()),
		session.WithBootstrapDebounce(cfg.GetBootstrapDebounce()),
		session.WithStrictBootstrap(cfg.GetStrictBootstrap()),
		session.WithRequestTimeout(cfg.GetRequestTimeout()),
		session.WithLoginTimeout(cfg.GetLoginTimeout()),
		session.WithRedirect(func(path string) {
			log.Info().Str("path", path).Msg("Signed out, run `authsession login` to sign in again")
		}),
	}, opts...)
	a.mgr, err = session.NewManager(a.api, a.store, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openRepo(ctx context.Context) (storage.Repo, error) {
	switch a.cfg.GetStoreBackend() {
	case config.BackendMemory:
		return storagerepofake.NewFakeStorageRepo(), nil

	case config.BackendFile:
		opts := []filerepo.Option{filerepo.WithLogger(log.Logger)}
		if key := a.cfg.GetStoreEncryptionKey(); key != nil {
			opts = append(opts, filerepo.WithEncryptionKey(key))
		}
		repo, err := filerepo.New(a.cfg.GetStoreDir(), opts...)
		if err != nil {
			return nil, errors.Wrap(err, "[app.openRepo] file store")
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil

	case config.BackendBolt:
		db, err := boltrepo.Open(filepath.Join(a.cfg.GetStoreDir(), boltFileName))
		if err != nil {
			return nil, errors.Wrap(err, "[app.openRepo] bolt store")
		}
		a.closers = append(a.closers, db.Close)
		return db.Tab(), nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.GetRedisAddr(),
			Password: a.cfg.GetRedisPassword(),
			DB:       a.cfg.GetRedisDB(),
		})
		a.closers = append(a.closers, client.Close)
		repo := redisrepo.New(client,
			redisrepo.WithTimeout(a.cfg.GetStoreOpTimeout()),
			redisrepo.WithLogger(log.Logger),
		)
		a.closers = append(a.closers, repo.Close)
		pingCtx, cancel := context.WithTimeout(ctx, a.cfg.GetStoreOpTimeout())
		defer cancel()
		if err := repo.Ping(pingCtx); err != nil {
			return nil, errors.Wrapf(err, "[app.openRepo] redis %s", a.cfg.GetRedisAddr())
		}
		return repo, nil
	}
	return nil, errors.Errorf("[app.openRepo] unknown store backend %q", a.cfg.GetStoreBackend())
}

// newAPIClient prefers the OIDC provider when an issuer is configured.
func newAPIClient(ctx context.Context, cfg config.Config) (authapi.Client, error) {
	if issuer := cfg.GetOIDCIssuer(); issuer != "" {
		return oidcclient.New(ctx, issuer, cfg.GetOIDCClientID(), cfg.GetOIDCClientSecret(),
			oidcclient.WithTimeout(cfg.GetRequestTimeout()),
			oidcclient.WithLogger(log.Logger),
		)
	}
	return httpclient.New(cfg.GetAPIBaseURL(),
		httpclient.WithTimeout(cfg.GetRequestTimeout()),
		httpclient.WithLoginTimeout(cfg.GetLoginTimeout()),
		httpclient.WithLogger(log.Logger),
	)
}

// Close releases storage in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Closing storage")
		}
	}
	a.closers = nil
}
