package auth

import (
	"errors"
	"net/http"
	"strings"

	httperrors "github.com/afromemo/afromemo/internal/http/errors"
)

// RequireBearer rejects requests without a valid access token and stores the
// user in the request context.
func (s *Service) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			httperrors.Write(w, http.StatusUnauthorized, "Authorization required")
			return
		}
		user, err := s.Authenticate(r.Context(), strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
		if err != nil {
			if !errors.Is(err, ErrInvalidToken) {
				httperrors.InternalError(w, r, err, "authenticate bearer token")
				return
			}
			httperrors.Write(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// RequireAdmin must run after RequireBearer.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		if !IsAdmin(user) {
			httperrors.Write(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// OptionalBearer stores the user in the context when a valid access token is
// sent and lets every request through.
func (s *Service) OptionalBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			if user, err := s.Authenticate(r.Context(), strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))); err == nil {
				r = r.WithContext(WithUser(r.Context(), user))
			}
		}
		next.ServeHTTP(w, r)
	})
}
