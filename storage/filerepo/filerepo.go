// Package filerepo stores each key as a file in a directory. Several
// processes pointing at the same directory share a session; changes are
// observed through fsnotify.
package filerepo

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	sessionerrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/storage"
)

const (
	fileExt         = ".kv"
	tempPattern     = ".tmp-*"
	defaultDebounce = 50 * time.Millisecond
)

var _ storage.Repo = (*Repo)(nil)

// Repo is a directory-backed storage view.
type Repo struct {
	dir      string
	origin   string
	sealer   *sealer
	debounce time.Duration
	logger   zerolog.Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	listeners map[int]storage.Listener
	nextID    int
	done      chan struct{}
}

// Option configures a Repo.
type Option func(*Repo) error

// WithEncryptionKey seals every value with a 32-byte secretbox key.
func WithEncryptionKey(key []byte) Option {
	return func(r *Repo) error {
		s, err := newSealer(key)
		if err != nil {
			return err
		}
		r.sealer = s
		return nil
	}
}

// WithDebounce sets the window used to batch file system events.
func WithDebounce(d time.Duration) Option {
	return func(r *Repo) error {
		r.debounce = d
		return nil
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Repo) error {
		r.logger = l
		return nil
	}
}

// New creates the directory if needed and returns a view over it.
func New(dir string, opts ...Option) (*Repo, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, sessionerrors.Wrapf(err, "create storage dir")
	}
	r := &Repo{
		dir:       dir,
		origin:    storage.NewOrigin(),
		debounce:  defaultDebounce,
		logger:    log.Logger,
		listeners: make(map[int]storage.Listener),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With().Str("component", "filerepo").Str("dir", dir).Logger()
	return r, nil
}

// Dir returns the storage directory.
func (r *Repo) Dir() string {
	return r.dir
}

func (r *Repo) Origin() string {
	return r.origin
}

func (r *Repo) Get(key string) (string, error) {
	data, err := os.ReadFile(r.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", storage.ErrNotFound
		}
		return "", sessionerrors.Wrapf(storage.ErrUnavailable, "read %s: %v", key, err)
	}
	return r.sealer.open(string(data))
}

// Set writes through a temp file and rename so readers never see a partial value.
func (r *Repo) Set(key, value string) error {
	sealed, err := r.sealer.seal(value)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(r.dir, tempPattern)
	if err != nil {
		return sessionerrors.Wrapf(storage.ErrUnavailable, "create temp file: %v", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(sealed); err != nil {
		tmp.Close()
		return sessionerrors.Wrapf(storage.ErrUnavailable, "write %s: %v", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return sessionerrors.Wrapf(storage.ErrUnavailable, "sync %s: %v", key, err)
	}
	if err := tmp.Close(); err != nil {
		return sessionerrors.Wrapf(storage.ErrUnavailable, "close %s: %v", key, err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return sessionerrors.Wrapf(storage.ErrUnavailable, "chmod %s: %v", key, err)
	}
	if err := os.Rename(tmpName, r.path(key)); err != nil {
		return sessionerrors.Wrapf(storage.ErrUnavailable, "rename %s: %v", key, err)
	}
	return nil
}

func (r *Repo) Delete(keys ...string) error {
	var errs []error
	for _, key := range keys {
		if err := os.Remove(r.path(key)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, sessionerrors.Wrapf(storage.ErrUnavailable, "remove %s: %v", key, err))
		}
	}
	return sessionerrors.Join(errs...)
}

// Subscribe starts the directory watcher on first use. File system events
// carry no writer identity, so notifications have an empty Origin and
// include this view's own writes.
func (r *Repo) Subscribe(fn storage.Listener) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, sessionerrors.Wrapf(err, "create watcher")
		}
		if err := w.Add(r.dir); err != nil {
			w.Close()
			return nil, sessionerrors.Wrapf(err, "watch %s", r.dir)
		}
		r.watcher = w
		r.done = make(chan struct{})
		go r.watch(w, r.done)
	}

	id := r.nextID
	r.nextID++
	r.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.listeners, id)
		})
	}, nil
}

// Close stops the watcher.
func (r *Repo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	err := r.watcher.Close()
	r.watcher = nil
	return err
}

func (r *Repo) watch(w *fsnotify.Watcher, done chan struct{}) {
	pending := make(map[string]struct{})
	timer := time.NewTimer(r.debounce)
	timer.Stop()

	for {
		select {
		case <-done:
			timer.Stop()
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			key, ok := keyFromPath(event.Name)
			if !ok {
				continue
			}
			pending[key] = struct{}{}
			timer.Reset(r.debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.logger.Err(err).Msg("watcher error")

		case <-timer.C:
			r.flush(pending)
			pending = make(map[string]struct{})
		}
	}
}

func (r *Repo) flush(pending map[string]struct{}) {
	r.mu.Lock()
	listeners := make([]storage.Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.mu.Unlock()

	now := time.Now()
	for key := range pending {
		for _, l := range listeners {
			l(storage.Change{Key: key, At: now})
		}
	}
}

func (r *Repo) path(key string) string {
	return filepath.Join(r.dir, base64.RawURLEncoding.EncodeToString([]byte(key))+fileExt)
}

func keyFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, fileExt))
	if err != nil {
		return "", false
	}
	return string(raw), true
}
