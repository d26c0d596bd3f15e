package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/afromemo/afromemo/internal/agenda"
	"github.com/afromemo/afromemo/internal/auth"
	"github.com/afromemo/afromemo/internal/config"
	httperrors "github.com/afromemo/afromemo/internal/http/errors"
	"github.com/afromemo/afromemo/internal/logging"
	"github.com/afromemo/afromemo/internal/notify"
	"github.com/afromemo/afromemo/internal/store"
)

const maxJSONBody = 1 << 20

// Handler serves the REST API.
type Handler struct {
	cfg    *config.Config
	store  *store.Store
	auth   *auth.Service
	notify *notify.Notifier
	logger *slog.Logger
	now    func() time.Time
}

func NewHandler(cfg *config.Config, st *store.Store, authService *auth.Service, notifier *notify.Notifier, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:    cfg,
		store:  st,
		auth:   authService,
		notify: notifier,
		logger: logging.OrDiscard(logger).With("component", "api"),
		now:    time.Now,
	}
}

// submissionRecord is a submission as exchanged with the public endpoints.
type submissionRecord struct {
	ID       string       `json:"id,omitempty"`
	Token    string       `json:"token,omitempty"`
	Email    string       `json:"email"`
	FormData agenda.Entry `json:"formData"`
	Status   string       `json:"status,omitempty"`
}

func recordOf(sub *store.Submission, token string) submissionRecord {
	entry := sub.FormData
	entry.ID = sub.ID
	return submissionRecord{
		ID:       sub.ID,
		Token:    token,
		Email:    sub.Email,
		FormData: entry,
		Status:   sub.Status,
	}
}

type tokenRequest struct {
	Token string `json:"token"`
}

type statusUpdate struct {
	ID     string        `json:"id"`
	Status agenda.Status `json:"status"`
}

type publishRequest struct {
	FormData agenda.Entry `json:"formData"`
	Action   string       `json:"action"`
	Token    string       `json:"token"`
}

type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// decodeJSON reads a JSON body into v and answers 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		httperrors.BadRequestError(w, r, err, "Invalid request")
		return false
	}
	return true
}

// submissionStatusFor maps an agenda status to the status of the linked submission.
func submissionStatusFor(s agenda.Status) (string, bool) {
	switch s {
	case agenda.StatusActive:
		return store.SubmissionActive, true
	case agenda.StatusPending:
		return store.SubmissionPending, true
	case agenda.StatusArchived:
		return store.SubmissionArchived, true
	case agenda.StatusDeleted:
		return store.SubmissionDeleted, true
	case agenda.StatusRemoved:
		return store.SubmissionRemoved, true
	}
	return "", false
}
