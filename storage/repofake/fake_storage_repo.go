package storagerepofake

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"

	sessionerrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/storage"
)

var _ storage.Repo = (*FakeStorageRepo)(nil)

// Shared is an in-memory backing store. Views created with Tab share its
// data and receive each other's change notifications, like browser tabs of
// one origin sharing localStorage.
type Shared struct {
	data       map[string]string
	lock       sync.RWMutex
	bus        *storage.Broadcaster
	failReads  atomic.Bool
	failWrites atomic.Bool
	writes     atomic.Int64
}

func NewShared() *Shared {
	return &Shared{
		data: make(map[string]string),
		bus:  storage.NewBroadcaster(),
	}
}

// Tab returns a new view with its own origin.
func (s *Shared) Tab() *FakeStorageRepo {
	return &FakeStorageRepo{shared: s, origin: storage.NewOrigin()}
}

// FailReads makes every Get fail, simulating a throwing storage backend.
func (s *Shared) FailReads(fail bool) {
	s.failReads.Store(fail)
}

// FailWrites makes every Set and Delete fail.
func (s *Shared) FailWrites(fail bool) {
	s.failWrites.Store(fail)
}

// Dump returns a copy of the stored data.
func (s *Shared) Dump() map[string]string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return maps.Clone(s.data)
}

// Writes returns the number of successful Set calls.
func (s *Shared) Writes() int64 {
	return s.writes.Load()
}

// FakeStorageRepo is one tab's view of a Shared store.
type FakeStorageRepo struct {
	shared *Shared
	origin string
}

// NewFakeStorageRepo returns a single view over a private Shared store.
func NewFakeStorageRepo() *FakeStorageRepo {
	return NewShared().Tab()
}

func (r *FakeStorageRepo) Get(key string) (string, error) {
	if r.shared.failReads.Load() {
		return "", sessionerrors.Wrapf(storage.ErrUnavailable, "get %s", key)
	}
	r.shared.lock.RLock()
	defer r.shared.lock.RUnlock()
	v, ok := r.shared.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (r *FakeStorageRepo) Set(key, value string) error {
	if r.shared.failWrites.Load() {
		return sessionerrors.Wrapf(storage.ErrUnavailable, "set %s", key)
	}
	r.shared.lock.Lock()
	r.shared.data[key] = value
	r.shared.lock.Unlock()

	r.shared.writes.Add(1)
	r.shared.bus.Publish(storage.Change{Key: key, Origin: r.origin, At: time.Now()})
	return nil
}

func (r *FakeStorageRepo) Delete(keys ...string) error {
	if r.shared.failWrites.Load() {
		return sessionerrors.Wrapf(storage.ErrUnavailable, "delete %v", keys)
	}
	removed := make([]string, 0, len(keys))
	r.shared.lock.Lock()
	for _, key := range keys {
		if _, ok := r.shared.data[key]; ok {
			delete(r.shared.data, key)
			removed = append(removed, key)
		}
	}
	r.shared.lock.Unlock()

	for _, key := range removed {
		r.shared.bus.Publish(storage.Change{Key: key, Origin: r.origin, At: time.Now()})
	}
	return nil
}

func (r *FakeStorageRepo) Subscribe(fn storage.Listener) (func(), error) {
	return r.shared.bus.Subscribe(r.origin, fn), nil
}

func (r *FakeStorageRepo) Origin() string {
	return r.origin
}

// Shared returns the backing store, for tests that need fault injection.
func (r *FakeStorageRepo) Shared() *Shared {
	return r.shared
}
