package session

import (
	"time"

	"github.com/jrsteele09/go-auth-session/users"
)

// State is the lifecycle state of a tab's session.
type State int

const (
	StateUnauthenticated State = iota
	StateValidating
	StateAuthenticated
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateValidating:
		return "validating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the session. A new Snapshot is built on
// every transition; the User it points to must be treated as read-only.
type Snapshot struct {
	State State

	// User is the signed-in user. While validating it may be the cached
	// profile from storage, in which case Verified is false.
	User *users.Profile

	// Verified is true once the backend confirmed User in this session.
	Verified bool

	IsAuthenticated bool
	Loading         bool

	// Err is the last non-authoritative failure (transport or server). It is
	// informational; the UI may offer a retry.
	Err error

	Generation uint64
	ChangedAt  time.Time
}

// Optimistic reports whether the snapshot shows a user the backend has not
// confirmed yet.
func (s Snapshot) Optimistic() bool {
	return s.User != nil && !s.Verified
}

func (s Snapshot) derive() Snapshot {
	switch s.State {
	case StateAuthenticated:
		s.IsAuthenticated = s.User != nil
		s.Loading = false
	case StateRefreshing:
		s.IsAuthenticated = s.User != nil && s.Verified
		s.Loading = !s.IsAuthenticated
	case StateValidating:
		s.IsAuthenticated = false
		s.Loading = true
	default:
		s.User = nil
		s.Verified = false
		s.IsAuthenticated = false
		s.Loading = false
	}
	return s
}
