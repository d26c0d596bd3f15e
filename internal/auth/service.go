package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/afromemo/afromemo/internal/config"
	"github.com/afromemo/afromemo/internal/logging"
	"github.com/afromemo/afromemo/internal/store"
)

// RefreshCookieName is the HttpOnly cookie holding the refresh token.
const RefreshCookieName = "refresh_token"

// AdminRoles is the role list given to seeded administrators.
const AdminRoles = "adm,admin,user"

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrRefreshMissing     = errors.New("auth: refresh_token cookie is missing")
)

// Session is the outcome of a login or refresh.
type Session struct {
	User         *store.User
	AccessToken  string
	Expires      time.Time
	RefreshToken string
}

// Service implements password login with short-lived bearer tokens and
// server-side refresh tokens.
type Service struct {
	store        *store.Store
	tokens       *TokenIssuer
	secureCookie bool
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(cfg *config.Config, st *store.Store, logger *slog.Logger) *Service {
	return &Service{
		store:        st,
		tokens:       NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.RefreshSecret, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL),
		secureCookie: cfg.JWT.SecureCookie,
		logger:       logging.OrDiscard(logger).With("component", "auth"),
		now:          time.Now,
	}
}

// Login checks the password of username and opens a session.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.store.Users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	access, expires, err := s.tokens.IssueAccess(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	refresh, refreshExpires, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.RefreshTokens.Create(ctx, store.RefreshToken{
		UserID:    user.ID,
		TokenHash: hashToken(refresh),
		ExpiresAt: refreshExpires,
	}); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return &Session{User: user, AccessToken: access, Expires: expires, RefreshToken: refresh}, nil
}

// Refresh issues a new access token for a valid, unrevoked refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, ErrRefreshMissing
	}
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	stored, err := s.store.RefreshTokens.FindValid(ctx, hashToken(refreshToken), s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if stored.UserID != claims.UserID {
		return nil, ErrInvalidToken
	}
	user, err := s.store.Users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	access, expires, err := s.tokens.IssueAccess(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("access token refreshed", "user_id", user.ID)
	return &Session{User: user, AccessToken: access, Expires: expires}, nil
}

// Logout revokes refreshToken. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	err := s.store.RefreshTokens.Revoke(ctx, hashToken(refreshToken), s.now())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// Authenticate resolves the user behind a bearer token.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*store.User, error) {
	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, err
	}
	user, err := s.store.Users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

// SeedAdmin creates or updates an administrator account.
func (s *Service) SeedAdmin(ctx context.Context, username, password string) (*store.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user, err := s.store.Users.Upsert(ctx, store.User{
		Username:     username,
		Name:         username,
		Role:         AdminRoles,
		PasswordHash: hash,
	})
	if err != nil {
		return nil, fmt.Errorf("seed admin %q: %w", username, err)
	}
	s.logger.Info("administrator account ready", "username", username)
	return user, nil
}

// PurgeExpired drops refresh tokens past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.RefreshTokens.DeleteExpired(ctx, s.now())
}

// SetRefreshCookie stores token in the HttpOnly refresh cookie.
func (s *Service) SetRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.tokens.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearRefreshCookie removes the refresh cookie.
func (s *Service) ClearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// IsAdmin reports whether user carries the administrator role tag.
func IsAdmin(user *store.User) bool {
	if user == nil {
		return false
	}
	for _, role := range strings.Split(user.Role, ",") {
		if strings.TrimSpace(role) == "adm" {
			return true
		}
	}
	return false
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
