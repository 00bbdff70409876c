// Package boltrepo keeps session storage in a single bbolt file. A bbolt
// file is locked by one process at a time, so the tabs sharing it are views
// opened from the same DB within one process.
package boltrepo

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	sessionerrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/storage"
)

const defaultBucket = "session"

// DB wraps an open bbolt database and the change feed shared by its views.
type DB struct {
	db     *bbolt.DB
	bucket []byte
	bus    *storage.Broadcaster
}

// NewDB wraps an already open database.
func NewDB(db *bbolt.DB) *DB {
	return &DB{db: db, bucket: []byte(defaultBucket), bus: storage.NewBroadcaster()}
}

// Open opens (or creates) the database file at path. The open gives up
// after a second if another process holds the file lock.
func Open(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewDB(db), nil
}

// Close closes the underlying BBolt database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Tab returns a new view with its own origin.
func (d *DB) Tab() *Repo {
	return &Repo{d: d, origin: storage.NewOrigin()}
}

var _ storage.Repo = (*Repo)(nil)

// Repo is one view of a DB.
type Repo struct {
	d      *DB
	origin string
}

func (r *Repo) Origin() string {
	return r.origin
}

func (r *Repo) Get(key string) (string, error) {
	var value string
	err := r.d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(r.d.bucket)
		if b == nil {
			return storage.ErrNotFound
		}
		data := b.Get([]byte(key))
		if data == nil {
			return storage.ErrNotFound
		}
		// data is only valid inside the transaction.
		value = string(data)
		return nil
	})
	if err != nil {
		if sessionerrors.Is(err, storage.ErrNotFound) {
			return "", err
		}
		return "", sessionerrors.Wrapf(storage.ErrUnavailable, "get %s: %v", key, err)
	}
	return value, nil
}

func (r *Repo) Set(key, value string) error {
	err := r.d.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(r.d.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
	if err != nil {
		return sessionerrors.Wrapf(storage.ErrUnavailable, "set %s: %v", key, err)
	}
	r.d.bus.Publish(storage.Change{Key: key, Origin: r.origin, At: time.Now()})
	return nil
}

func (r *Repo) Delete(keys ...string) error {
	var removed []string
	err := r.d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(r.d.bucket)
		if b == nil {
			return nil
		}
		for _, key := range keys {
			if b.Get([]byte(key)) == nil {
				continue
			}
			if err := b.Delete([]byte(key)); err != nil {
				return err
			}
			removed = append(removed, key)
		}
		return nil
	})
	if err != nil {
		return sessionerrors.Wrapf(storage.ErrUnavailable, "delete %v: %v", keys, err)
	}
	for _, key := range removed {
		r.d.bus.Publish(storage.Change{Key: key, Origin: r.origin, At: time.Now()})
	}
	return nil
}

func (r *Repo) Subscribe(fn storage.Listener) (func(), error) {
	return r.d.bus.Subscribe(r.origin, fn), nil
}
