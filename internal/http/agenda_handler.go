package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/afromemo/afromemo/internal/agenda"
	"github.com/afromemo/afromemo/internal/auth"
	httperrors "github.com/afromemo/afromemo/internal/http/errors"
	"github.com/afromemo/afromemo/internal/store"
	"github.com/afromemo/afromemo/internal/submission"
)

// ListAgenda returns the published entries.
func (h *Handler) ListAgenda(w http.ResponseWriter, r *http.Request) {
	h.listEntries(w, r, agenda.StatusActive)
}

// ListAllAgenda returns every entry, for administrators.
func (h *Handler) ListAllAgenda(w http.ResponseWriter, r *http.Request) {
	h.listEntries(w, r)
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request, statuses ...agenda.Status) {
	entries, err := h.store.Entries.List(r.Context(), statuses...)
	if err != nil {
		httperrors.InternalError(w, r, err, "list agenda")
		return
	}
	if entries == nil {
		entries = []agenda.Entry{}
	}
	httperrors.WriteJSON(w, http.StatusOK, entries)
}

// GetAgendaEntry returns one entry. Entries that are neither listed nor
// archived are only visible to administrators.
func (h *Handler) GetAgendaEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.Entries.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.entryError(w, r, err, "get agenda entry")
		return
	}
	user, _ := auth.UserFromContext(r.Context())
	if !entry.Status.Listed() && entry.Status != agenda.StatusArchived && !auth.IsAdmin(user) {
		httperrors.Write(w, http.StatusNotFound, "Event not found")
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, entry)
}

// CreateAgendaEntry stores an entry written by an administrator.
func (h *Handler) CreateAgendaEntry(w http.ResponseWriter, r *http.Request) {
	var entry agenda.Entry
	if !decodeJSON(w, r, &entry) {
		return
	}
	if !h.validEntry(w, entry) {
		return
	}
	entry.ID = ""
	saved, err := h.store.Entries.Upsert(r.Context(), submission.Normalize(entry))
	if err != nil {
		httperrors.InternalError(w, r, err, "create agenda entry")
		return
	}
	httperrors.LogInfo(r, "agenda entry created", "id", saved.ID)
	httperrors.WriteJSON(w, http.StatusCreated, saved)
}

// UpdateAgendaEntry replaces an existing entry.
func (h *Handler) UpdateAgendaEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var entry agenda.Entry
	if !decodeJSON(w, r, &entry) {
		return
	}
	if !h.validEntry(w, entry) {
		return
	}
	current, err := h.store.Entries.Get(r.Context(), id)
	if err != nil {
		h.entryError(w, r, err, "update agenda entry")
		return
	}
	if entry.Status != current.Status {
		if _, _, err := submission.NextStatus(current.Status, entry.Status); err != nil {
			httperrors.Write(w, http.StatusConflict, "Status change not allowed in the current state")
			return
		}
	}
	entry.ID = id
	if _, err := h.store.Entries.Upsert(r.Context(), submission.Normalize(entry)); err != nil {
		httperrors.InternalError(w, r, err, "update agenda entry")
		return
	}
	httperrors.OK(w, http.StatusAccepted, "Event updated", nil)
}

// UpdateAgendaStatus changes the status of an entry and of its submission.
func (h *Handler) UpdateAgendaStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req statusUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID != "" && req.ID != id {
		httperrors.Write(w, http.StatusBadRequest, "Event id mismatch")
		return
	}
	if !req.Status.Valid() {
		httperrors.Write(w, http.StatusBadRequest, "Unknown status")
		return
	}
	entry, err := h.store.Entries.Get(r.Context(), id)
	if err != nil {
		h.entryError(w, r, err, "update agenda status")
		return
	}
	action, to, err := submission.NextStatus(entry.Status, req.Status)
	if err != nil {
		httperrors.Write(w, http.StatusConflict, "Status change not allowed in the current state")
		return
	}
	if err := h.store.Entries.SetStatus(r.Context(), id, req.Status); err != nil {
		h.entryError(w, r, err, "update agenda status")
		return
	}
	if subStatus, ok := submissionStatusFor(req.Status); ok {
		err := h.store.Submissions.SetStatus(r.Context(), id, subStatus)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			httperrors.LogError(r, "update submission status", err)
		}
	}
	h.transitioned(r, action, to, id)
	httperrors.OK(w, http.StatusAccepted, "Status updated", nil)
}

func (h *Handler) validEntry(w http.ResponseWriter, entry agenda.Entry) bool {
	v := submission.Validator{}
	if err := v.Validate(submission.Draft{Entry: entry}, submission.AudienceAdmin); err != nil {
		var verr *submission.ValidationError
		if errors.As(err, &verr) {
			httperrors.Write(w, http.StatusBadRequest, verr.Message("fr"))
			return false
		}
		httperrors.Write(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) entryError(w http.ResponseWriter, r *http.Request, err error, op string) {
	if errors.Is(err, store.ErrNotFound) {
		httperrors.Write(w, http.StatusNotFound, "Event not found")
		return
	}
	httperrors.InternalError(w, r, err, op)
}
