package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/afromemo/afromemo/internal/agenda"
	httperrors "github.com/afromemo/afromemo/internal/http/errors"
	"github.com/afromemo/afromemo/internal/metrics"
	"github.com/afromemo/afromemo/internal/store"
	"github.com/afromemo/afromemo/internal/submission"
)

// Fields that never show up in a submission diff.
var diffIgnored = map[string]bool{
	"id": true, "status": true, "email": true, "token": true, "userSubmission": true,
}

type fieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// GetSubmission loads a submission by any of its tokens.
func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sub, ok := h.submissionByToken(w, r, token)
	if !ok {
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, recordOf(sub, token))
}

// SaveSubmission creates a submission, or edits the one whose edit token is
// sent.
func (h *Handler) SaveSubmission(w http.ResponseWriter, r *http.Request) {
	var req submissionRecord
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		h.createSubmission(w, r, req)
		return
	}
	h.editSubmission(w, r, req)
}

func (h *Handler) createSubmission(w http.ResponseWriter, r *http.Request, req submissionRecord) {
	email := strings.TrimSpace(req.Email)
	v := submission.Validator{Now: h.now}
	if err := v.Validate(submission.Draft{Entry: req.FormData, Email: email, Consent: true}, submission.AudiencePublic); err != nil {
		h.validationError(w, err)
		return
	}

	sub := store.Submission{Email: email, Status: store.SubmissionUnconfirmed}
	for _, dst := range []*string{&sub.EditToken, &sub.CancelToken, &sub.ConfirmationToken} {
		token, err := submission.NewToken()
		if err != nil {
			httperrors.InternalError(w, r, err, "generate submission token")
			return
		}
		*dst = token.Value()
	}
	entry := submission.Normalize(req.FormData)
	entry.ID = ""
	entry.Status = agenda.StatusPending
	sub.FormData = entry

	created, err := h.store.Submissions.Create(r.Context(), sub)
	if err != nil {
		httperrors.InternalError(w, r, err, "create submission")
		return
	}
	h.notify.SubmissionCreated(created)
	h.transitioned(r, submission.ActionCreate, submission.StateUnconfirmed, created.ID)
	httperrors.OK(w, http.StatusCreated, "Submission created", map[string]string{"id": created.ID})
}

func (h *Handler) editSubmission(w http.ResponseWriter, r *http.Request, req submissionRecord) {
	sub, ok := h.submissionByToken(w, r, req.Token)
	if !ok {
		return
	}
	if kind, _ := sub.Matches(req.Token); kind != store.TokenEdit {
		httperrors.Write(w, http.StatusForbidden, "Invalid token")
		return
	}
	if !strings.EqualFold(strings.TrimSpace(req.Email), strings.TrimSpace(sub.Email)) {
		httperrors.Write(w, http.StatusUnprocessableEntity, "Email missmatched")
		return
	}
	from, to, ok := h.next(w, sub, submission.ActionEdit, submission.Visitor)
	if !ok {
		return
	}
	v := submission.Validator{Now: h.now}
	if err := v.Validate(submission.Draft{Entry: req.FormData, Email: sub.Email, Consent: true}, submission.AudiencePublic); err != nil {
		h.validationError(w, err)
		return
	}

	entry := submission.Normalize(req.FormData)
	entry.ID = ""
	entry.Status = agenda.StatusPending
	sub.FormData = entry
	sub.Status = to.Wire()
	if err := h.store.Submissions.Update(r.Context(), *sub); err != nil {
		httperrors.InternalError(w, r, err, "update submission")
		return
	}
	if from == submission.StatePublished {
		// The published version goes offline until it is moderated again.
		if err := h.store.Entries.SetStatus(r.Context(), sub.ID, agenda.StatusRemoved); err != nil && !errors.Is(err, store.ErrNotFound) {
			httperrors.LogError(r, "unpublish edited entry", err)
		}
	}
	h.transitioned(r, submission.ActionEdit, to, sub.ID)
	httperrors.OK(w, http.StatusAccepted, "Submission updated", nil)
}

// ConfirmSubmission validates the submitter's email.
func (h *Handler) ConfirmSubmission(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sub, ok := h.submissionByToken(w, r, req.Token)
	if !ok {
		return
	}
	if kind, _ := sub.Matches(req.Token); kind != store.TokenConfirmation {
		httperrors.Write(w, http.StatusForbidden, "Invalid token")
		return
	}
	from, to, ok := h.next(w, sub, submission.ActionConfirm, submission.Visitor)
	if !ok {
		return
	}
	if from != submission.StateUnconfirmed {
		httperrors.OK(w, http.StatusOK, "Already confirmed", nil)
		return
	}
	now := h.now()
	if now.After(sub.CreatedAt.Add(h.cfg.ConfirmationTTL)) {
		httperrors.Write(w, http.StatusUnauthorized, "Validation Token expired")
		return
	}
	sub.Status = to.Wire()
	sub.ConfirmedAt = &now
	if err := h.store.Submissions.Update(r.Context(), *sub); err != nil {
		httperrors.InternalError(w, r, err, "confirm submission")
		return
	}
	h.notify.SubmissionConfirmed(sub)
	h.transitioned(r, submission.ActionConfirm, to, sub.ID)
	httperrors.OK(w, http.StatusOK, "Ok", nil)
}

// DeleteSubmission cancels a submission with its cancel or edit token.
func (h *Handler) DeleteSubmission(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sub, ok := h.submissionByToken(w, r, req.Token)
	if !ok {
		return
	}
	if kind, _ := sub.Matches(req.Token); kind != store.TokenCancel && kind != store.TokenEdit {
		httperrors.Write(w, http.StatusForbidden, "Invalid token")
		return
	}
	_, to, ok := h.next(w, sub, submission.ActionCancel, submission.Visitor)
	if !ok {
		return
	}
	if err := h.store.Submissions.SetStatus(r.Context(), sub.ID, to.Wire()); err != nil {
		httperrors.InternalError(w, r, err, "delete submission")
		return
	}
	if err := h.store.Entries.SetStatus(r.Context(), sub.ID, agenda.StatusDeleted); err != nil && !errors.Is(err, store.ErrNotFound) {
		httperrors.LogError(r, "delete published entry", err)
	}
	h.transitioned(r, submission.ActionCancel, to, sub.ID)
	httperrors.OK(w, http.StatusAccepted, "Submission deleted", nil)
}

// PublishSubmission turns a submission into an active agenda entry. It needs
// both the admin session and the submission token.
func (h *Handler) PublishSubmission(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Action != string(submission.ActionPublish) {
		httperrors.Write(w, http.StatusBadRequest, "Unknown action")
		return
	}
	sub, ok := h.submissionByToken(w, r, req.Token)
	if !ok {
		return
	}
	_, to, ok := h.next(w, sub, submission.ActionPublish, submission.Admin)
	if !ok {
		return
	}
	v := submission.Validator{}
	if err := v.Validate(submission.Draft{Entry: req.FormData}, submission.AudienceAdmin); err != nil {
		h.validationError(w, err)
		return
	}

	entry := submission.Normalize(req.FormData)
	entry.ID = sub.ID
	entry.Status = agenda.StatusActive
	if _, err := h.store.Entries.Upsert(r.Context(), entry); err != nil {
		httperrors.InternalError(w, r, err, "publish entry")
		return
	}
	sub.FormData = entry
	sub.Status = to.Wire()
	if err := h.store.Submissions.Update(r.Context(), *sub); err != nil {
		httperrors.InternalError(w, r, err, "mark submission published")
		return
	}
	h.notify.SubmissionPublished(sub)
	h.transitioned(r, submission.ActionPublish, to, sub.ID)
	httperrors.OK(w, http.StatusAccepted, "Event published", nil)
}

// ListSubmissions returns every submission with its edit token, for moderation.
func (h *Handler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.Submissions.List(r.Context())
	if err != nil {
		httperrors.InternalError(w, r, err, "list submissions")
		return
	}
	out := make([]submissionRecord, 0, len(subs))
	for i := range subs {
		out = append(out, recordOf(&subs[i], subs[i].EditToken))
	}
	httperrors.WriteJSON(w, http.StatusOK, out)
}

// SubmissionDiff compares a submission with its published entry.
func (h *Handler) SubmissionDiff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	published, err := h.store.Entries.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httperrors.OK(w, http.StatusAccepted, "", map[string]fieldChange{})
		return
	}
	if err != nil {
		httperrors.InternalError(w, r, err, "diff: load entry")
		return
	}
	sub, err := h.store.Submissions.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httperrors.Write(w, http.StatusNotFound, "Submission not found")
			return
		}
		httperrors.InternalError(w, r, err, "diff: load submission")
		return
	}
	diff, err := diffEntries(*published, sub.FormData)
	if err != nil {
		httperrors.InternalError(w, r, err, "diff entries")
		return
	}
	httperrors.OK(w, http.StatusAccepted, "", diff)
}

func (h *Handler) submissionByToken(w http.ResponseWriter, r *http.Request, token string) (*store.Submission, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		httperrors.Write(w, http.StatusBadRequest, "token is missing")
		return nil, false
	}
	sub, err := h.store.Submissions.GetByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httperrors.Write(w, http.StatusNotFound, "Submission not found")
			return nil, false
		}
		httperrors.InternalError(w, r, err, "load submission")
		return nil, false
	}
	return sub, true
}

// next applies the lifecycle rules, answering 409 when action does not apply.
func (h *Handler) next(w http.ResponseWriter, sub *store.Submission, action submission.Action, actor submission.Actor) (from, to submission.State, ok bool) {
	from, err := submission.ParseState(sub.Status)
	if err != nil {
		httperrors.Write(w, http.StatusConflict, "Unknown submission status")
		return from, from, false
	}
	to, err = submission.Next(from, action, actor)
	if err != nil {
		httperrors.Write(w, http.StatusConflict, "Action not allowed in the current state")
		return from, from, false
	}
	return from, to, true
}

func (h *Handler) validationError(w http.ResponseWriter, err error) {
	var verr *submission.ValidationError
	if errors.As(err, &verr) {
		httperrors.Write(w, http.StatusBadRequest, verr.Message("fr"))
		return
	}
	httperrors.Write(w, http.StatusBadRequest, "Invalid submission")
}

func (h *Handler) transitioned(r *http.Request, action submission.Action, to submission.State, id string) {
	metrics.ObserveSubmissionTransition(string(action), to.String())
	httperrors.LogInfo(r, "submission transition", "id", id, "action", string(action), "to", to.String())
}

// diffEntries lists the fields whose submitted value differs from the
// published one, keyed by their JSON name.
func diffEntries(published, submitted agenda.Entry) (map[string]fieldChange, error) {
	oldFields, err := fieldsOf(published)
	if err != nil {
		return nil, err
	}
	newFields, err := fieldsOf(submitted)
	if err != nil {
		return nil, err
	}
	diff := map[string]fieldChange{}
	for name, oldValue := range oldFields {
		if diffIgnored[name] {
			continue
		}
		if newValue := newFields[name]; !reflect.DeepEqual(oldValue, newValue) {
			diff[name] = fieldChange{Old: oldValue, New: newValue}
		}
	}
	for name, newValue := range newFields {
		if _, seen := oldFields[name]; !seen && !diffIgnored[name] {
			diff[name] = fieldChange{New: newValue}
		}
	}
	return diff, nil
}

func fieldsOf(e agenda.Entry) (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
