package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/afromemo/afromemo/internal/config"
	"github.com/afromemo/afromemo/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	cfg := &config.Config{}
	cfg.JWT.Secret = testAccessKey
	cfg.JWT.RefreshSecret = testRefreshKey
	cfg.JWT.AccessTokenTTL = 15 * time.Minute
	cfg.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	st := store.NewMemory()
	svc := NewService(cfg, st, nil)
	if _, err := svc.SeedAdmin(context.Background(), "admin", "s3cret-pass"); err != nil {
		t.Fatalf("SeedAdmin: %v", err)
	}
	return svc, st
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Login(ctx, "admin", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "s3cret-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: got %v", err)
	}

	sess, err := svc.Login(ctx, " Admin ", "s3cret-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Fatal("login returned empty tokens")
	}
	if !IsAdmin(sess.User) {
		t.Errorf("seeded user is not admin: role %q", sess.User.Role)
	}
	user, err := svc.Authenticate(ctx, sess.AccessToken)
	if err != nil || user.Username != "admin" {
		t.Errorf("Authenticate = %v, %v", user, err)
	}
}

func TestRefreshAndLogout(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess, err := svc.Login(ctx, "admin", "s3cret-pass")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Refresh(ctx, ""); !errors.Is(err, ErrRefreshMissing) {
		t.Errorf("missing cookie: got %v", err)
	}
	refreshed, err := svc.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.AccessToken == "" {
		t.Error("refresh returned no access token")
	}

	if err := svc.Logout(ctx, sess.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Refresh(ctx, sess.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("revoked refresh token accepted: %v", err)
	}
	if err := svc.Logout(ctx, "unknown"); err != nil {
		t.Errorf("logout of unknown token: %v", err)
	}
}

func TestRequireBearer(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	admin, _ := svc.Login(ctx, "admin", "s3cret-pass")

	hash, _ := HashPassword("visitor-pass")
	if _, err := st.Users.Upsert(ctx, store.User{Username: "editor", Role: "user", PasswordHash: hash}); err != nil {
		t.Fatal(err)
	}
	editor, err := svc.Login(ctx, "editor", "visitor-pass")
	if err != nil {
		t.Fatal(err)
	}

	handler := svc.RequireBearer(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			t.Error("user missing from context")
		}
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"refresh token as bearer", "Bearer " + admin.RefreshToken, http.StatusUnauthorized},
		{"non admin", "Bearer " + editor.AccessToken, http.StatusForbidden},
		{"admin", "Bearer " + admin.AccessToken, http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/protected/agenda", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestRefreshCookie(t *testing.T) {
	svc, _ := newTestService(t)
	rec := httptest.NewRecorder()
	svc.SetRefreshCookie(rec, "tok")
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies", len(cookies))
	}
	c := cookies[0]
	if c.Name != RefreshCookieName || !c.HttpOnly || c.MaxAge != 7*24*3600 {
		t.Errorf("unexpected cookie %+v", c)
	}
}

func TestHashPasswordTooShort(t *testing.T) {
	if _, err := HashPassword("abc"); !errors.Is(err, ErrPasswordTooShort) {
		t.Errorf("got %v", err)
	}
}
