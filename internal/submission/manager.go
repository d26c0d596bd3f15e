package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/afromemo/afromemo/internal/agenda"
	"github.com/afromemo/afromemo/internal/apiclient"
	"github.com/afromemo/afromemo/internal/i18n"
	"github.com/afromemo/afromemo/internal/logging"
	"github.com/afromemo/afromemo/internal/metrics"
)

var (
	// ErrSubmissionNotFound is returned when no submission matches a token.
	ErrSubmissionNotFound = errors.New("submission: not found")
	// ErrSubmissionExpired is returned when a confirmation link is too old.
	ErrSubmissionExpired = errors.New("submission: expired")
	// ErrSubmitFailed wraps server and network failures of a write.
	ErrSubmitFailed = errors.New("submission: request failed")
)

// API is the subset of the backend the manager drives.
type API interface {
	CSRFToken(ctx context.Context) (string, error)
	SaveSubmission(ctx context.Context, rec apiclient.SubmissionRecord, csrfToken string) error
	GetSubmission(ctx context.Context, token string) (apiclient.SubmissionRecord, error)
	ConfirmSubmission(ctx context.Context, token string) (string, error)
	DeleteSubmission(ctx context.Context, token string) error
	PublishSubmission(ctx context.Context, token string, entry agenda.Entry) error
	GetAgendaEntry(ctx context.Context, id string) (agenda.Entry, error)
	UpdateAgendaStatus(ctx context.Context, id string, status agenda.Status) error
	ListSubmissions(ctx context.Context) ([]agenda.Entry, error)
	SubmissionDiff(ctx context.Context, id string) (map[string]apiclient.FieldChange, error)
}

// SessionView is what the manager reads from the client session.
type SessionView interface {
	Token() string
	IsAdmin() bool
}

// Submission is a loaded submission as seen by its owner or an admin.
type Submission struct {
	ID    string
	Token Token
	Email string
	Entry agenda.Entry
	State State
}

// Manager runs submission actions against the API. Every action is checked
// against the lifecycle rules and the credentials it needs before any request.
type Manager struct {
	api       API
	session   SessionView
	validator Validator
	logger    *slog.Logger
}

// NewManager returns a Manager. now drives the end date check; nil uses time.Now.
func NewManager(api API, sess SessionView, now func() time.Time, logger *slog.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		api:       api,
		session:   sess,
		validator: Validator{Now: now},
		logger:    logging.OrDiscard(logger),
	}
}

// Save dispatches a form submission: an admin holding a submission token
// publishes it, a visitor holding one edits it, otherwise a new submission is created.
func (m *Manager) Save(ctx context.Context, token Token, d Draft) error {
	switch {
	case !token.Empty() && m.session.IsAdmin():
		return m.Publish(ctx, token, d.Entry)
	case !token.Empty():
		return m.Edit(ctx, token, d)
	default:
		return m.Create(ctx, d)
	}
}

// Create validates a public draft and sends it. The server emails the
// confirmation link, so no token is returned.
func (m *Manager) Create(ctx context.Context, d Draft) error {
	to, err := Next(StateDraft, ActionCreate, Visitor)
	if err != nil {
		return err
	}
	if err := CheckCredentials(ActionCreate, Visitor, Credentials{}); err != nil {
		return err
	}
	if err := m.validator.Validate(d, AudiencePublic); err != nil {
		return err
	}

	entry := Normalize(d.Entry)
	entry.Status = agenda.StatusPending
	rec := apiclient.SubmissionRecord{
		Email:    strings.TrimSpace(d.Email),
		FormData: entry,
	}
	if err := m.send(ctx, rec); err != nil {
		return err
	}
	m.transitioned(ActionCreate, to)
	return nil
}

// Load fetches the submission identified by token.
func (m *Manager) Load(ctx context.Context, token Token) (Submission, error) {
	if token.Empty() {
		return Submission{}, fmt.Errorf("%w: submission token", ErrMissingCredential)
	}
	rec, err := m.api.GetSubmission(ctx, token.Value())
	if err != nil {
		return Submission{}, mapLookupError(err)
	}
	state, err := ParseState(rec.Status)
	if err != nil {
		return Submission{}, err
	}
	entry := rec.FormData
	entry.ID = rec.ID
	return Submission{
		ID:    rec.ID,
		Token: token,
		Email: rec.Email,
		Entry: entry,
		State: state,
	}, nil
}

// Confirm validates the submitter's email with the confirmation token. It
// reports whether the submission had already been confirmed.
func (m *Manager) Confirm(ctx context.Context, token Token) (bool, error) {
	if err := CheckCredentials(ActionConfirm, Visitor, Credentials{SubmissionToken: token}); err != nil {
		return false, err
	}
	sub, err := m.Load(ctx, token)
	if err != nil {
		return false, err
	}
	to, err := Next(sub.State, ActionConfirm, Visitor)
	if err != nil {
		return false, err
	}
	if sub.State == StatePending {
		return true, nil
	}

	msg, err := m.api.ConfirmSubmission(ctx, token.Value())
	if err != nil {
		if apiclient.IsStatus(err, http.StatusUnauthorized, http.StatusGone) {
			return false, ErrSubmissionExpired
		}
		return false, mapWriteError(err)
	}
	m.transitioned(ActionConfirm, to)
	return strings.EqualFold(msg, "Already confirmed"), nil
}

// Edit replaces the content of a submission. Editing a published event sends
// it back to moderation.
func (m *Manager) Edit(ctx context.Context, token Token, d Draft) error {
	if err := CheckCredentials(ActionEdit, Visitor, Credentials{SubmissionToken: token}); err != nil {
		return err
	}
	sub, err := m.Load(ctx, token)
	if err != nil {
		return err
	}
	to, err := Next(sub.State, ActionEdit, Visitor)
	if err != nil {
		return err
	}
	if strings.TrimSpace(d.Email) == "" {
		d.Email = sub.Email
	}
	if err := m.validator.Validate(d, AudiencePublic); err != nil {
		return err
	}
	if !strings.EqualFold(strings.TrimSpace(d.Email), sub.Email) {
		return &ValidationError{Code: i18n.KeyEmailMismatch, Field: "email"}
	}

	entry := Normalize(d.Entry)
	entry.ID = sub.ID
	entry.Status = agenda.StatusPending
	rec := apiclient.SubmissionRecord{
		ID:       sub.ID,
		Token:    token.Value(),
		Email:    sub.Email,
		FormData: entry,
		Status:   to.Wire(),
	}
	if err := m.send(ctx, rec); err != nil {
		return err
	}
	m.transitioned(ActionEdit, to)
	return nil
}

// Publish turns a pending submission into an active agenda entry. It needs an
// admin session and the submission's edit token.
func (m *Manager) Publish(ctx context.Context, token Token, entry agenda.Entry) error {
	if !m.session.IsAdmin() {
		return ErrForbidden
	}
	creds := Credentials{SessionToken: m.session.Token(), SubmissionToken: token}
	if err := CheckCredentials(ActionPublish, Admin, creds); err != nil {
		return err
	}
	sub, err := m.Load(ctx, token)
	if err != nil {
		return err
	}
	to, err := Next(sub.State, ActionPublish, Admin)
	if err != nil {
		return err
	}
	if err := m.validator.Validate(Draft{Entry: entry}, AudienceAdmin); err != nil {
		return err
	}

	entry = Normalize(entry)
	entry.ID = sub.ID
	entry.Status = agenda.StatusActive
	if err := m.api.PublishSubmission(ctx, token.Value(), entry); err != nil {
		return mapWriteError(err)
	}
	m.transitioned(ActionPublish, to)
	return nil
}

// Cancel deletes a submission on behalf of its owner.
func (m *Manager) Cancel(ctx context.Context, token Token) error {
	if err := CheckCredentials(ActionCancel, Visitor, Credentials{SubmissionToken: token}); err != nil {
		return err
	}
	sub, err := m.Load(ctx, token)
	if err != nil {
		return err
	}
	to, err := Next(sub.State, ActionCancel, Visitor)
	if err != nil {
		return err
	}
	if err := m.api.DeleteSubmission(ctx, token.Value()); err != nil {
		return mapWriteError(err)
	}
	m.transitioned(ActionCancel, to)
	return nil
}

// CancelAsAdmin marks an agenda entry deleted.
func (m *Manager) CancelAsAdmin(ctx context.Context, entryID string) error {
	return m.ChangeStatus(ctx, entryID, agenda.StatusDeleted)
}

// Archive takes a published entry out of the public agenda.
func (m *Manager) Archive(ctx context.Context, entryID string) error {
	return m.ChangeStatus(ctx, entryID, agenda.StatusArchived)
}

// Remove withdraws an entry through moderation.
func (m *Manager) Remove(ctx context.Context, entryID string) error {
	return m.ChangeStatus(ctx, entryID, agenda.StatusRemoved)
}

// ChangeStatus sets the status of an agenda entry from the admin list. The
// entry is loaded first: only published entries can be shown, hidden or sent
// back to moderation, and deleted, archived or removed entries stay so.
func (m *Manager) ChangeStatus(ctx context.Context, entryID string, status agenda.Status) error {
	if err := m.requireAdmin(); err != nil {
		return err
	}
	if _, err := StatusAction(status); err != nil {
		return err
	}
	if strings.TrimSpace(entryID) == "" {
		return fmt.Errorf("%w: entry id", ErrMissingCredential)
	}
	entry, err := m.api.GetAgendaEntry(ctx, entryID)
	if err != nil {
		if apiclient.IsStatus(err, http.StatusNotFound) {
			return ErrSubmissionNotFound
		}
		return mapWriteError(err)
	}
	action, to, err := NextStatus(entry.Status, status)
	if err != nil {
		return err
	}
	if err := m.api.UpdateAgendaStatus(ctx, entryID, status); err != nil {
		if apiclient.IsStatus(err, http.StatusConflict) {
			return fmt.Errorf("%w: %s", ErrInvalidTransition, err)
		}
		return mapWriteError(err)
	}
	m.transitioned(action, to)
	return nil
}

// ListSubmissions returns submissions awaiting moderation.
func (m *Manager) ListSubmissions(ctx context.Context) ([]agenda.Entry, error) {
	if err := m.requireAdmin(); err != nil {
		return nil, err
	}
	return m.api.ListSubmissions(ctx)
}

// Diff compares a submission with the entry it was published as.
func (m *Manager) Diff(ctx context.Context, id string) (map[string]apiclient.FieldChange, error) {
	if err := m.requireAdmin(); err != nil {
		return nil, err
	}
	return m.api.SubmissionDiff(ctx, id)
}

func (m *Manager) requireAdmin() error {
	if !m.session.IsAdmin() {
		return ErrForbidden
	}
	return CheckCredentials(ActionSetStatus, Admin, Credentials{SessionToken: m.session.Token()})
}

func (m *Manager) send(ctx context.Context, rec apiclient.SubmissionRecord) error {
	csrf, err := m.api.CSRFToken(ctx)
	if err != nil {
		return mapWriteError(err)
	}
	if err := m.api.SaveSubmission(ctx, rec, csrf); err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (m *Manager) transitioned(action Action, to State) {
	metrics.ObserveClientTransition(string(action), to.String())
	m.logger.Info("submission transition", "action", action, "to", to)
}

func mapLookupError(err error) error {
	switch {
	case apiclient.IsStatus(err, http.StatusNotFound, http.StatusUnprocessableEntity):
		return ErrSubmissionNotFound
	case apiclient.IsStatus(err, http.StatusGone):
		return ErrSubmissionExpired
	default:
		return mapWriteError(err)
	}
}

func mapWriteError(err error) error {
	var se *apiclient.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(se.Message), "email") {
		return &ValidationError{Code: i18n.KeyEmailMismatch, Field: "email"}
	}
	return fmt.Errorf("%w: %w", ErrSubmitFailed, err)
}
