package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/afromemo/afromemo/internal/auth"
	httperrors "github.com/afromemo/afromemo/internal/http/errors"
	"github.com/afromemo/afromemo/internal/store"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			httperrors.Write(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		httperrors.InternalError(w, r, err, "login")
		return
	}
	h.auth.SetRefreshCookie(w, sess.RefreshToken)
	httperrors.WriteJSON(w, http.StatusOK, tokenResponse{Token: sess.AccessToken, Expires: sess.Expires.Unix()})
}

func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(auth.RefreshCookieName)
	if err != nil || cookie.Value == "" {
		httperrors.Write(w, http.StatusBadRequest, "refresh_token cookie is missing")
		return
	}
	sess, err := h.auth.Refresh(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			h.auth.ClearRefreshCookie(w)
			httperrors.Write(w, http.StatusUnauthorized, "Invalid refresh token")
			return
		}
		httperrors.InternalError(w, r, err, "refresh token")
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, tokenResponse{Token: sess.AccessToken, Expires: sess.Expires.Unix()})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.RefreshCookieName); err == nil {
		if err := h.auth.Logout(r.Context(), cookie.Value); err != nil {
			httperrors.InternalError(w, r, err, "logout")
			return
		}
	}
	h.auth.ClearRefreshCookie(w)
	httperrors.OK(w, http.StatusOK, "Logged out", nil)
}

// GetUser returns the profile of ?username=, the caller's own when empty.
// Only administrators may read other profiles.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	current, _ := auth.UserFromContext(r.Context())
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	user := current
	if username != "" && !strings.EqualFold(username, current.Username) {
		if !auth.IsAdmin(current) {
			httperrors.Write(w, http.StatusForbidden, "Forbidden")
			return
		}
		var err error
		user, err = h.store.Users.GetByUsername(r.Context(), username)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				httperrors.Write(w, http.StatusNotFound, "User not found")
				return
			}
			httperrors.InternalError(w, r, err, "get user")
			return
		}
	}
	httperrors.WriteJSON(w, http.StatusOK, userResponse{
		ID:    strconv.FormatInt(user.ID, 10),
		Name:  user.Name,
		Email: user.Email,
		Role:  user.Role,
	})
}
