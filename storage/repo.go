// Package storage defines the shared key/value storage the session client
// persists into. It plays the role a browser's localStorage plays for a web
// client: synchronous string reads and writes, shared by every session
// manager ("tab") attached to the same backing store, with change
// notifications delivered to the other tabs.
package storage

import (
	"time"

	sessionerrors "github.com/jrsteele09/go-auth-session/internal/errors"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = sessionerrors.ErrNotFound

// ErrUnavailable wraps backend failures.
var ErrUnavailable = sessionerrors.ErrStorage

// Change describes a write observed by a subscriber.
type Change struct {
	Key    string    // Logical key (without any backend prefix)
	Origin string    // Origin of the writer, empty when the backend cannot tell
	At     time.Time // When the change was observed
}

// Listener receives change notifications. It is never called concurrently
// with itself for the same subscription.
type Listener func(Change)

// Repo is one tab's view of the shared storage.
type Repo interface {
	// Get returns the value for key or ErrNotFound.
	Get(key string) (string, error)

	// Set writes a single key. A write is visible to every view once Set returns.
	Set(key, value string) error

	// Delete removes keys. Missing keys are not an error.
	Delete(keys ...string) error

	// Subscribe registers fn for changes made through other views.
	Subscribe(fn Listener) (unsubscribe func(), err error)

	// Origin identifies this view in change notifications.
	Origin() string
}
