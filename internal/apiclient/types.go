package apiclient

import (
	"encoding/json"
	"strings"

	"github.com/afromemo/afromemo/internal/agenda"
)

// Submission status values used on the wire.
const (
	SubmissionUnconfirmed = "unconfirmed"
	SubmissionPending     = "pending"
	SubmissionActive      = "active"
	SubmissionArchived    = "archived"
	SubmissionDeleted     = "deleted"
	SubmissionRemoved     = "removed"
)

// ActionPublish is the admin action turning a submission into an agenda entry.
const ActionPublish = "publish"

// Credentials is the body of POST /api/login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned by the login and refresh endpoints.
type TokenResponse struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires,omitempty"`
}

// SubmissionRecord is a submission as exchanged with the public endpoints.
type SubmissionRecord struct {
	ID       string       `json:"id,omitempty"`
	Token    string       `json:"token,omitempty"`
	Email    string       `json:"email"`
	FormData agenda.Entry `json:"formData"`
	Status   string       `json:"status,omitempty"`
}

// AgendaStatus maps a submission status to the status of its agenda entry.
func (r SubmissionRecord) AgendaStatus() agenda.Status {
	switch strings.ToLower(strings.TrimSpace(r.Status)) {
	case SubmissionActive:
		return agenda.StatusActive
	case SubmissionArchived:
		return agenda.StatusArchived
	case SubmissionDeleted:
		return agenda.StatusDeleted
	default:
		return agenda.StatusPending
	}
}

// Entry flattens the record into an agenda entry flagged as a user submission.
func (r SubmissionRecord) Entry() agenda.Entry {
	e := r.FormData
	e.ID = r.ID
	e.Email = r.Email
	e.Token = r.Token
	e.UserSubmission = true
	e.Status = r.AgendaStatus()
	return e
}

// StatusUpdate is the body of PATCH /api/agenda/{id}.
type StatusUpdate struct {
	ID     string        `json:"id"`
	Status agenda.Status `json:"status"`
}

// PublishRequest is the body of POST /api/protected/agenda/admin.
type PublishRequest struct {
	FormData agenda.Entry `json:"formData"`
	Action   string       `json:"action"`
	Token    string       `json:"token"`
}

// TokenRequest carries a submission token for confirmation and deletion.
type TokenRequest struct {
	Token string `json:"token"`
}

// FieldChange is one differing field between a submission and its published entry.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Upload describes a stored poster.
type Upload struct {
	Filename string `json:"filename"`
	Size     string `json:"size,omitempty"`
}

type envelope struct {
	Message string          `json:"message"`
	Success bool            `json:"success"`
	Error   bool            `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type csrfResponse struct {
	CSRFToken string `json:"csrf_token"`
}
