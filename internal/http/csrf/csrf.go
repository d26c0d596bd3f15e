package csrf

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	httperrors "github.com/afromemo/afromemo/internal/http/errors"
)

// HeaderName carries the token on protected requests.
const HeaderName = "X-CSRF-Token"

// DefaultTTL is how long an issued token stays usable.
const DefaultTTL = time.Hour

// Store issues single-use tokens for the public submission form.
type Store struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{tokens: map[string]time.Time{}, ttl: ttl, now: time.Now}
}

// Issue returns a new token.
func (s *Store) Issue() (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.tokens[token] = s.now().Add(s.ttl)
	s.mu.Unlock()
	return token, nil
}

// Consume reports whether token was issued and not expired, and invalidates it.
func (s *Store) Consume(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.tokens[token]
	if !ok {
		return false
	}
	delete(s.tokens, token)
	return s.now().Before(expiry)
}

// Cleanup drops expired tokens every interval until ctx is done.
func (s *Store) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purge()
		}
	}
}

func (s *Store) purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for token, expiry := range s.tokens {
		if !now.Before(expiry) {
			delete(s.tokens, token)
			n++
		}
	}
	return n
}

// Handler answers GET /api/csrfToken.
func (s *Store) Handler(w http.ResponseWriter, r *http.Request) {
	token, err := s.Issue()
	if err != nil {
		httperrors.InternalError(w, r, err, "issue csrf token")
		return
	}
	httperrors.WriteJSON(w, http.StatusAccepted, map[string]string{"csrf_token": token})
}

// Middleware rejects requests without a valid token in HeaderName.
func (s *Store) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Consume(r.Header.Get(HeaderName)) {
			httperrors.Write(w, http.StatusForbidden, "Invalid CSRF token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
