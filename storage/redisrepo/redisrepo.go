// Package redisrepo shares session storage through Redis so that session
// managers on different hosts behave like tabs of one browser. Writes and
// their change notification go out in one MULTI/EXEC transaction.
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	sessionerrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/storage"
)

const (
	defaultChannel = "authsession:changes"
	defaultTimeout = 2 * time.Second
)

var _ storage.Repo = (*Repo)(nil)

type changeMessage struct {
	Key    string `json:"key"`
	Origin string `json:"origin"`
}

// Repo is a Redis-backed storage view.
type Repo struct {
	client  redis.UniversalClient
	prefix  string
	origin  string
	timeout time.Duration
	logger  zerolog.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
}

// Option configures a Repo.
type Option func(*Repo)

// WithPrefix namespaces keys. Views sharing a Redis database but using
// different prefixes also use different change channels.
func WithPrefix(prefix string) Option {
	return func(r *Repo) {
		r.prefix = prefix
	}
}

// WithTimeout bounds every Redis round trip.
func WithTimeout(d time.Duration) Option {
	return func(r *Repo) {
		r.timeout = d
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Repo) {
		r.logger = l
	}
}

// New returns a view over client. The client is owned by the caller.
func New(client redis.UniversalClient, opts ...Option) *Repo {
	r := &Repo{
		client:  client,
		origin:  storage.NewOrigin(),
		timeout: defaultTimeout,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "redisrepo").Logger()
	return r
}

// Ping checks connectivity.
func (r *Repo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Repo) Origin() string {
	return r.origin
}

func (r *Repo) Get(key string) (string, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", sessionerrors.Wrapf(storage.ErrUnavailable, "get %s: %v", key, err)
	}
	return v, nil
}

func (r *Repo) Set(key, value string) error {
	msg, err := r.message(key)
	if err != nil {
		return err
	}

	ctx, cancel := r.opContext()
	defer cancel()

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.prefix+key, value, 0)
		pipe.Publish(ctx, r.channel(), msg)
		return nil
	})
	if err != nil {
		return sessionerrors.Wrapf(storage.ErrUnavailable, "set %s: %v", key, err)
	}
	return nil
}

func (r *Repo) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := r.opContext()
	defer cancel()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			msg, err := r.message(key)
			if err != nil {
				return err
			}
			pipe.Del(ctx, r.prefix+key)
			pipe.Publish(ctx, r.channel(), msg)
		}
		return nil
	})
	if err != nil {
		return sessionerrors.Wrapf(storage.ErrUnavailable, "delete %v: %v", keys, err)
	}
	return nil
}

// Subscribe listens on the change channel until the returned func is called
// or Close is called.
func (r *Repo) Subscribe(fn storage.Listener) (func(), error) {
	ctx, cancel := r.opContext()
	defer cancel()

	pubsub := r.client.Subscribe(context.Background(), r.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, sessionerrors.Wrapf(storage.ErrUnavailable, "subscribe: %v", err)
	}

	r.mu.Lock()
	r.subs = append(r.subs, pubsub)
	r.mu.Unlock()

	go func() {
		for msg := range pubsub.Channel() {
			var change changeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				r.logger.Err(err).Msg("ignoring malformed change message")
				continue
			}
			if change.Origin == r.origin {
				continue
			}
			fn(storage.Change{Key: change.Key, Origin: change.Origin, At: time.Now()})
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := pubsub.Close(); err != nil {
				r.logger.Err(err).Msg("closing subscription")
			}
		})
	}, nil
}

// Close ends every subscription opened through this view.
func (r *Repo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, s := range r.subs {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.subs = nil
	return sessionerrors.Join(errs...)
}

func (r *Repo) channel() string {
	if r.prefix == "" {
		return defaultChannel
	}
	return r.prefix + "changes"
}

func (r *Repo) message(key string) (string, error) {
	data, err := json.Marshal(changeMessage{Key: key, Origin: r.origin})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r *Repo) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}
