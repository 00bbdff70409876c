// Package credentials persists the session's token pair and cached user
// profile into shared storage.
//
// Both tokens live in one versioned record under a single key, so a reader
// in another tab can never pair an access token from one refresh with a
// refresh token from another.
package credentials

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	sessionerrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/users"
)

const (
	DefaultKeyPrefix = "authsession:"

	KeyCredentials = "credentials"
	KeyCachedUser  = "cached_user"
)

// Keys written by earlier clients. They are read, migrated and cleared but
// never written.
const (
	LegacyKeyAccessToken  = "access_token"
	LegacyKeyRefreshToken = "supabase_refresh_token"
	LegacyKeyUserData     = "user_data"
	LegacyKeySessionID    = "supabase_session_id"
	LegacyKeyUserID       = "supabase_user_id"
)

var (
	ErrPartialCredentials = sessionerrors.ErrPartialCredentials
	ErrNoCredentials      = sessionerrors.ErrNoCredentials
)

type record struct {
	Version      uint64    `json:"v"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	SavedAt      time.Time `json:"saved_at"`
}

// Store is the credential store of one tab.
type Store struct {
	repo    storage.Repo
	prefix  string
	logger  zerolog.Logger
	nowTime func() time.Time

	saveLock sync.Mutex
}

type Option func(*Store)

// WithKeyPrefix namespaces the store's own keys. Legacy keys are never prefixed.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithNowTime sets the clock used for saved_at (primarily for testing).
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

func NewStore(repo storage.Repo, opts ...Option) (*Store, error) {
	if repo == nil {
		return nil, errors.New("[NewStore] storage repo is required")
	}
	s := &Store{
		repo:    repo,
		prefix:  DefaultKeyPrefix,
		logger:  log.Logger,
		nowTime: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "credentials").Logger()
	return s, nil
}

// Repo returns the storage view the store writes through.
func (s *Store) Repo() storage.Repo {
	return s.repo
}

// Load returns the persisted credentials, or nil when they are absent,
// partial, unreadable or the storage fails.
func (s *Store) Load() *token.Credentials {
	rec, err := s.readRecord()
	switch {
	case err == nil:
		creds := token.Credentials{AccessToken: rec.AccessToken, RefreshToken: rec.RefreshToken}
		if !creds.Complete() {
			s.logger.Warn().Uint64("version", rec.Version).Msg("ignoring partial credential record")
			return nil
		}
		return &creds
	case sessionerrors.Is(err, storage.ErrNotFound):
		return s.loadLegacy()
	default:
		s.logger.Err(err).Msg("credentials unreadable, treating as signed out")
		return nil
	}
}

// Save persists both tokens in one write.
func (s *Store) Save(creds token.Credentials) error {
	if !creds.Complete() {
		return errors.Wrap(ErrPartialCredentials, "[Store.Save]")
	}

	s.saveLock.Lock()
	defer s.saveLock.Unlock()

	var version uint64
	if rec, err := s.readRecord(); err == nil {
		version = rec.Version
	}

	data, err := json.Marshal(record{
		Version:      version + 1,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		SavedAt:      s.nowTime().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "[Store.Save] encode")
	}
	if err := s.repo.Set(s.key(KeyCredentials), string(data)); err != nil {
		return errors.Wrap(err, "[Store.Save]")
	}
	return nil
}

// Clear removes every session key, legacy keys included.
func (s *Store) Clear() error {
	if err := s.repo.Delete(s.Keys()...); err != nil {
		return errors.Wrap(err, "[Store.Clear]")
	}
	return nil
}

// Version is the version of the persisted record, 0 when there is none.
func (s *Store) Version() uint64 {
	rec, err := s.readRecord()
	if err != nil {
		return 0
	}
	return rec.Version
}

// LoadCachedUser returns the cached profile. It is advisory only.
func (s *Store) LoadCachedUser() *users.Profile {
	raw, err := s.repo.Get(s.key(KeyCachedUser))
	if sessionerrors.Is(err, storage.ErrNotFound) {
		raw, err = s.repo.Get(LegacyKeyUserData)
	}
	if err != nil {
		if !sessionerrors.Is(err, storage.ErrNotFound) {
			s.logger.Err(err).Msg("cached user unreadable")
		}
		return nil
	}

	var p users.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.logger.Warn().Err(err).Msg("ignoring malformed cached user")
		return nil
	}
	if !p.Valid() {
		return nil
	}
	return &p
}

func (s *Store) SaveCachedUser(p users.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "[Store.SaveCachedUser] encode")
	}
	if err := s.repo.Set(s.key(KeyCachedUser), string(data)); err != nil {
		return errors.Wrap(err, "[Store.SaveCachedUser]")
	}
	return nil
}

// Keys lists every storage key the store reads or clears.
func (s *Store) Keys() []string {
	return []string{
		s.key(KeyCredentials),
		s.key(KeyCachedUser),
		LegacyKeyAccessToken,
		LegacyKeyRefreshToken,
		LegacyKeyUserData,
		LegacyKeySessionID,
		LegacyKeyUserID,
	}
}

// IsCredentialKey reports whether a change to key can alter what Load returns.
func (s *Store) IsCredentialKey(key string) bool {
	switch key {
	case s.key(KeyCredentials), LegacyKeyAccessToken, LegacyKeyRefreshToken:
		return true
	}
	return false
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

func (s *Store) readRecord() (*record, error) {
	raw, err := s.repo.Get(s.key(KeyCredentials))
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, sessionerrors.Wrapf(sessionerrors.ErrInvalidPayload, "credential record: %v", err)
	}
	return &rec, nil
}

// loadLegacy reads the two-key layout. It never writes: see MigrateLegacy.
func (s *Store) loadLegacy() *token.Credentials {
	access, err := s.repo.Get(LegacyKeyAccessToken)
	if err != nil {
		return nil
	}
	refresh, err := s.repo.Get(LegacyKeyRefreshToken)
	if err != nil {
		return nil
	}
	creds := token.Credentials{AccessToken: access, RefreshToken: refresh}
	if !creds.Complete() {
		return nil
	}
	return &creds
}

// MigrateLegacy rewrites credentials stored in the two-key layout as a
// record and removes the old keys. It does nothing when a record exists or
// the legacy pair is incomplete. Callers serialise it with Clear.
func (s *Store) MigrateLegacy() (bool, error) {
	if _, err := s.readRecord(); !sessionerrors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	creds := s.loadLegacy()
	if creds == nil {
		return false, nil
	}

	if err := s.Save(*creds); err != nil {
		return false, errors.Wrap(err, "[Store.MigrateLegacy]")
	}
	if err := s.repo.Delete(LegacyKeyAccessToken, LegacyKeyRefreshToken); err != nil {
		s.logger.Warn().Err(err).Msg("legacy credential keys not removed")
	}
	s.logger.Info().Msg("migrated legacy credentials")
	return true, nil
}
