// Package session holds the identity and bearer token of whoever is using the
// client, synchronized with local storage so that a restart does not require a
// new login.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/afromemo/afromemo/internal/localstore"
	"github.com/afromemo/afromemo/internal/logging"
)

// StorageKey is the local storage key of the persisted session record.
const StorageKey = "authInfos"

// AdminRole is the role tag granting administrator rights.
const AdminRole = "adm"

var (
	ErrEmptyToken     = errors.New("session: token is empty")
	ErrIncompleteUser = errors.New("session: user has no role")
)

// User is the profile returned by the API for an authenticated account.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	// Role is a comma separated list of role tags.
	Role string `json:"role"`
}

// Roles returns the trimmed role tags.
func (u User) Roles() []string {
	var roles []string
	for _, r := range strings.Split(u.Role, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// IsAdmin reports whether the role list contains AdminRole.
func (u User) IsAdmin() bool {
	for _, r := range u.Roles() {
		if r == AdminRole {
			return true
		}
	}
	return false
}

// Session is an authenticated identity with its bearer token.
type Session struct {
	User            User   `json:"user"`
	Token           string `json:"token"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

// record is the persisted form; a null token decodes as "".
type record struct {
	User            *User   `json:"user"`
	Token           *string `json:"token"`
	IsAuthenticated bool    `json:"isAuthenticated"`
}

func (s Session) validate() error {
	if s.Token == "" {
		return ErrEmptyToken
	}
	if len(s.User.Roles()) == 0 {
		return ErrIncompleteUser
	}
	return nil
}

// Store is the single source of truth for the authorization header of every
// authenticated request. It is safe for concurrent use.
type Store struct {
	storage localstore.Storage
	logger  *slog.Logger

	mu          sync.RWMutex
	current     *Session
	token       string
	initialized bool
	diffEnabled bool
}

// NewStore returns an empty, uninitialized store backed by storage.
func NewStore(storage localstore.Storage, logger *slog.Logger) *Store {
	return &Store{
		storage: storage,
		logger:  logging.OrDiscard(logger).With("component", "session"),
	}
}

// Init loads the persisted session once. Missing or malformed records leave the
// store logged out; Init never fails.
func (s *Store) Init(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return
	}

	data, err := s.storage.Get(ctx, StorageKey)
	if errors.Is(err, localstore.ErrNotFound) {
		s.initialized = true
		return
	}
	if err != nil {
		s.logger.Warn("read persisted session", "error", err)
		return
	}

	sess, err := decodeRecord(data)
	if err != nil {
		s.logger.Warn("discarding persisted session", "error", err)
		if err := s.storage.Delete(ctx, StorageKey); err != nil {
			s.logger.Warn("delete persisted session", "error", err)
		}
		s.initialized = true
		return
	}

	sess.IsAuthenticated = true
	s.current = &sess
	s.token = sess.Token
	s.initialized = true
	s.logger.Debug("session restored", "user", sess.User.Name)
}

// Login persists sess and makes it current. It is rejected without a token or a role.
func (s *Store) Login(ctx context.Context, sess Session) error {
	sess.IsAuthenticated = true
	if err := sess.validate(); err != nil {
		return err
	}
	data, err := encodeRecord(sess)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.Set(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	s.current = &sess
	s.token = sess.Token
	s.initialized = true
	s.logger.Info("logged in", "user", sess.User.Name, "admin", sess.User.IsAdmin())
	return nil
}

// Logout erases the persisted record, then the in-memory state. When the record
// cannot be erased nothing changes and the error is returned.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("erase session: %w", err)
	}
	s.current = nil
	s.token = ""
	s.initialized = false
	s.diffEnabled = false
	s.logger.Info("logged out")
	return nil
}

// SetToken replaces the bearer token, leaving the identity untouched. Without a
// session only the in-memory token changes. A persistence failure is returned
// after the in-memory token has been updated.
func (s *Store) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	if s.current == nil {
		return nil
	}
	s.current.Token = token
	data, err := encodeRecord(*s.current)
	if err != nil {
		return err
	}
	if err := s.storage.Set(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

// Token returns the current bearer token, "" when there is none.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Current returns a copy of the current session.
func (s *Store) Current() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil && s.current.IsAuthenticated && s.token != ""
}

func (s *Store) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil && s.current.User.IsAdmin()
}

func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// SetDiffEnabled toggles the display of submission diffs for the admin view.
func (s *Store) SetDiffEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diffEnabled = enabled
}

func (s *Store) DiffEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.diffEnabled
}

func encodeRecord(sess Session) ([]byte, error) {
	user := sess.User
	token := sess.Token
	data, err := json.Marshal(record{User: &user, Token: &token, IsAuthenticated: sess.IsAuthenticated})
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (Session, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if rec.User == nil {
		return Session{}, ErrIncompleteUser
	}
	sess := Session{User: *rec.User, IsAuthenticated: rec.IsAuthenticated}
	if rec.Token != nil {
		sess.Token = *rec.Token
	}
	if err := sess.validate(); err != nil {
		return Session{}, err
	}
	return sess, nil
}
