package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/afromemo/afromemo/internal/agenda"
	"github.com/afromemo/afromemo/internal/apiclient"
	"github.com/afromemo/afromemo/internal/auth"
	"github.com/afromemo/afromemo/internal/config"
	"github.com/afromemo/afromemo/internal/http/csrf"
	"github.com/afromemo/afromemo/internal/localstore"
	"github.com/afromemo/afromemo/internal/notify"
	"github.com/afromemo/afromemo/internal/session"
	"github.com/afromemo/afromemo/internal/store"
	"github.com/afromemo/afromemo/internal/submission"
)

const (
	adminUser     = "admin"
	adminPassword = "admin-password"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		FrontURL:        "http://front.test",
		ConfirmationTTL: 24 * time.Hour,
		UploadDir:       t.TempDir(),
	}
	cfg.JWT.Secret = "access-secret-0123456789abcdef0123"
	cfg.JWT.RefreshSecret = "refresh-secret-0123456789abcdef012"
	cfg.JWT.AccessTokenTTL = 15 * time.Minute
	cfg.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *store.Store) {
	t.Helper()
	st := store.NewMemory()
	authService := auth.NewService(cfg, st, nil)
	if _, err := authService.SeedAdmin(context.Background(), adminUser, adminPassword); err != nil {
		t.Fatalf("SeedAdmin: %v", err)
	}
	notifier := notify.New(notify.LogSender{}, cfg.FrontURL, nil)
	t.Cleanup(notifier.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(NewRouter(ctx, Deps{
		Config:   cfg,
		Store:    st,
		Auth:     authService,
		Notifier: notifier,
		CSRF:     csrf.NewStore(time.Hour),
	}))
	t.Cleanup(srv.Close)
	return srv, st
}

func newClient(t *testing.T, srv *httptest.Server) *apiclient.Client {
	t.Helper()
	c, err := apiclient.New(apiclient.Options{
		BaseURL: srv.URL,
		Session: session.NewStore(localstore.NewMemory(), nil),
	})
	if err != nil {
		t.Fatalf("apiclient.New: %v", err)
	}
	return c
}

func newAdminClient(t *testing.T, srv *httptest.Server) *apiclient.Client {
	t.Helper()
	c := newClient(t, srv)
	if _, err := c.SignIn(context.Background(), apiclient.Credentials{Username: adminUser, Password: adminPassword}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	return c
}

func futureDraft() submission.Draft {
	day := time.Now().AddDate(0, 0, 7).Format(agenda.DateLayout)
	return submission.Draft{
		Email:   "ama@example.org",
		Consent: true,
		Entry: agenda.Entry{
			Title:     "Concert",
			VenueName: "Salle du Faubourg",
			Address:   "Rue des Terreaux-du-Temple 8",
			Place:     "Genève",
			StartDate: day,
			StartTime: "20:00",
			EndTime:   "23:00",
			Price:     "20 CHF",
			Category:  "musique",
			Poster:    "/uploads/poster.jpg",
		},
	}
}

func TestSubmissionLifecycle(t *testing.T) {
	ctx := context.Background()
	srv, st := newTestServer(t, testConfig(t))
	visitor := newClient(t, srv)
	vm := submission.NewManager(visitor, visitor.Session(), time.Now, nil)

	draft := futureDraft()
	if err := vm.Create(ctx, draft); err != nil {
		t.Fatalf("Create: %v", err)
	}
	subs, err := st.Submissions.List(ctx)
	if err != nil || len(subs) != 1 {
		t.Fatalf("stored submissions = %d, %v", len(subs), err)
	}
	sub := subs[0]
	if sub.Status != store.SubmissionUnconfirmed {
		t.Fatalf("status after create = %q", sub.Status)
	}

	already, err := vm.Confirm(ctx, submission.Token(sub.ConfirmationToken))
	if err != nil || already {
		t.Fatalf("Confirm = %v, %v", already, err)
	}
	already, err = vm.Confirm(ctx, submission.Token(sub.ConfirmationToken))
	if err != nil || !already {
		t.Fatalf("second Confirm = %v, %v", already, err)
	}

	admin := newAdminClient(t, srv)
	am := submission.NewManager(admin, admin.Session(), time.Now, nil)
	listed, err := am.ListSubmissions(ctx)
	if err != nil || len(listed) != 1 {
		t.Fatalf("ListSubmissions = %d, %v", len(listed), err)
	}
	if listed[0].Token != sub.EditToken {
		t.Fatal("moderation list does not carry the edit token")
	}
	if err := am.Publish(ctx, submission.Token(listed[0].Token), listed[0]); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	public, err := visitor.ListAgenda(ctx, false)
	if err != nil {
		t.Fatalf("ListAgenda: %v", err)
	}
	if len(public) != 1 || public[0].ID != sub.ID || public[0].Status != agenda.StatusActive {
		t.Fatalf("public agenda after publish = %+v", public)
	}

	edited := draft
	edited.Entry.Title = "Concert (nouvelle date)"
	if err := vm.Edit(ctx, submission.Token(sub.EditToken), edited); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if public, _ = visitor.ListAgenda(ctx, false); len(public) != 0 {
		t.Errorf("edited event still listed: %+v", public)
	}
	entry, _ := st.Entries.Get(ctx, sub.ID)
	if entry.Status != agenda.StatusRemoved {
		t.Errorf("published entry status after edit = %v, want removed", entry.Status)
	}

	diff, err := am.Diff(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if change, ok := diff["title"]; !ok || change.New != "Concert (nouvelle date)" || change.Old != "Concert" {
		t.Errorf("diff = %+v", diff)
	}
	if len(diff) != 1 {
		t.Errorf("diff has %d fields, want only the title", len(diff))
	}

	if err := vm.Cancel(ctx, submission.Token(sub.CancelToken)); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	stored, _ := st.Submissions.GetByID(ctx, sub.ID)
	if stored.Status != store.SubmissionDeleted {
		t.Errorf("status after cancel = %q", stored.Status)
	}
	entry, _ = st.Entries.Get(ctx, sub.ID)
	if entry.Status != agenda.StatusDeleted {
		t.Errorf("entry status after cancel = %v", entry.Status)
	}

	if err := vm.Edit(ctx, submission.Token(sub.EditToken), edited); !errors.Is(err, submission.ErrInvalidTransition) {
		t.Errorf("Edit after cancel = %v, want invalid transition", err)
	}
}

func TestExpiredAccessTokenIsRefreshed(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, testConfig(t))
	admin := newAdminClient(t, srv)

	if err := admin.Session().SetToken(ctx, "stale-token"); err != nil {
		t.Fatal(err)
	}
	if _, err := admin.ListAgenda(ctx, true); err != nil {
		t.Fatalf("ListAgenda after refresh: %v", err)
	}
	if tok := admin.Session().Token(); tok == "stale-token" || tok == "" {
		t.Errorf("token not replaced: %q", tok)
	}

	if err := admin.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := admin.Session().SetToken(ctx, "stale-token"); err != nil {
		t.Fatal(err)
	}
	if _, err := admin.ListAgenda(ctx, true); !errors.Is(err, apiclient.ErrSessionExpired) {
		t.Errorf("after logout: got %v, want session expired", err)
	}
}

func TestAdminStatusChange(t *testing.T) {
	ctx := context.Background()
	srv, st := newTestServer(t, testConfig(t))
	admin := newAdminClient(t, srv)

	entry := futureDraft().Entry
	entry.Status = agenda.StatusActive
	created, err := admin.CreateAgendaEntry(ctx, entry)
	if err != nil {
		t.Fatalf("CreateAgendaEntry: %v", err)
	}
	am := submission.NewManager(admin, admin.Session(), time.Now, nil)
	visitor := newClient(t, srv)

	if err := am.ChangeStatus(ctx, created.ID, agenda.StatusInactive); err != nil {
		t.Fatalf("ChangeStatus(inactive): %v", err)
	}
	if _, err := visitor.GetAgendaEntry(ctx, created.ID); !apiclient.IsStatus(err, http.StatusNotFound) {
		t.Errorf("inactive entry visible to visitors: %v", err)
	}
	if err := am.ChangeStatus(ctx, created.ID, agenda.StatusActive); err != nil {
		t.Fatalf("ChangeStatus(active): %v", err)
	}

	if err := am.Archive(ctx, created.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	stored, _ := st.Entries.Get(ctx, created.ID)
	if stored.Status != agenda.StatusArchived {
		t.Errorf("status = %v, want archived", stored.Status)
	}
	got, err := visitor.GetAgendaEntry(ctx, created.ID)
	if err != nil || got.Title != entry.Title {
		t.Errorf("archived entry not readable: %+v, %v", got, err)
	}

	if err := am.ChangeStatus(ctx, created.ID, agenda.StatusActive); !errors.Is(err, submission.ErrInvalidTransition) {
		t.Errorf("reactivating an archived entry = %v, want invalid transition", err)
	}
	if err := admin.UpdateAgendaStatus(ctx, created.ID, agenda.StatusActive); !apiclient.IsStatus(err, http.StatusConflict) {
		t.Errorf("PATCH on an archived entry = %v, want 409", err)
	}
	stored.Status = agenda.StatusActive
	if err := admin.UpdateAgendaEntry(ctx, *stored); !apiclient.IsStatus(err, http.StatusConflict) {
		t.Errorf("PUT reactivating an archived entry = %v, want 409", err)
	}
	if stored, _ = st.Entries.Get(ctx, created.ID); stored.Status != agenda.StatusArchived {
		t.Errorf("status = %v, want archived", stored.Status)
	}
}

func TestCancelledSubmissionStaysDeleted(t *testing.T) {
	ctx := context.Background()
	srv, st := newTestServer(t, testConfig(t))
	visitor := newClient(t, srv)
	vm := submission.NewManager(visitor, visitor.Session(), time.Now, nil)

	if err := vm.Create(ctx, futureDraft()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	subs, _ := st.Submissions.List(ctx)
	if len(subs) != 1 {
		t.Fatalf("stored submissions = %d", len(subs))
	}
	sub := subs[0]
	if _, err := vm.Confirm(ctx, submission.Token(sub.ConfirmationToken)); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	admin := newAdminClient(t, srv)
	am := submission.NewManager(admin, admin.Session(), time.Now, nil)
	listed, err := am.ListSubmissions(ctx)
	if err != nil || len(listed) != 1 {
		t.Fatalf("ListSubmissions = %d, %v", len(listed), err)
	}
	if err := am.Publish(ctx, submission.Token(listed[0].Token), listed[0]); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := vm.Cancel(ctx, submission.Token(sub.CancelToken)); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	for _, status := range []agenda.Status{agenda.StatusActive, agenda.StatusInactive, agenda.StatusArchived} {
		if err := am.ChangeStatus(ctx, sub.ID, status); !errors.Is(err, submission.ErrInvalidTransition) {
			t.Errorf("ChangeStatus(%s) on a cancelled entry = %v, want invalid transition", status, err)
		}
	}
	if public, _ := visitor.ListAgenda(ctx, false); len(public) != 0 {
		t.Errorf("cancelled entry listed: %+v", public)
	}
	entry, _ := st.Entries.Get(ctx, sub.ID)
	stored, _ := st.Submissions.GetByID(ctx, sub.ID)
	if entry.Status != agenda.StatusDeleted || stored.Status != store.SubmissionDeleted {
		t.Errorf("after admin attempts: entry %v, submission %q; want deleted", entry.Status, stored.Status)
	}
}

func TestPublicErrors(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"submission without csrf", http.MethodPost, "/api/submissions", `{"email":"a@b.ch"}`, http.StatusForbidden},
		{"bad credentials", http.MethodPost, "/api/login", `{"username":"admin","password":"nope"}`, http.StatusUnauthorized},
		{"malformed login", http.MethodPost, "/api/login", `{`, http.StatusBadRequest},
		{"refresh without cookie", http.MethodPost, "/api/refreshToken", "", http.StatusBadRequest},
		{"admin list without token", http.MethodGet, "/api/protected/agenda", "", http.StatusUnauthorized},
		{"status change without token", http.MethodPatch, "/api/agenda/x", `{"status":5}`, http.StatusUnauthorized},
		{"unknown submission", http.MethodGet, "/api/submissions/unknown", "", http.StatusNotFound},
		{"confirm unknown", http.MethodPost, "/api/submissions/confirm", `{"token":"unknown"}`, http.StatusNotFound},
		{"delete without token", http.MethodDelete, "/api/submissions/delete", `{"token":""}`, http.StatusBadRequest},
		{"preflight", http.MethodOptions, "/api/submissions", "", http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(tc.method, srv.URL+tc.path, strings.NewReader(tc.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
			if resp.StatusCode >= 400 {
				var body struct {
					Message string `json:"message"`
					Error   bool   `json:"error"`
				}
				if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || !body.Error || body.Message == "" {
					t.Errorf("error envelope = %+v, %v", body, err)
				}
			}
		})
	}
}

func TestConfirmationExpires(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.ConfirmationTTL = time.Nanosecond
	srv, st := newTestServer(t, cfg)

	sub, err := st.Submissions.Create(ctx, store.Submission{
		Email:             "ama@example.org",
		Status:            store.SubmissionUnconfirmed,
		EditToken:         "edit",
		CancelToken:       "cancel",
		ConfirmationToken: "confirm",
	})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)

	visitor := newClient(t, srv)
	vm := submission.NewManager(visitor, visitor.Session(), time.Now, nil)
	if _, err := vm.Confirm(ctx, submission.Token("confirm")); !errors.Is(err, submission.ErrSubmissionExpired) {
		t.Errorf("Confirm = %v, want expired", err)
	}
	stored, _ := st.Submissions.GetByID(ctx, sub.ID)
	if stored.Status != store.SubmissionUnconfirmed {
		t.Errorf("status = %q, want unconfirmed", stored.Status)
	}
}

func TestEditWithOtherEmailIsRejected(t *testing.T) {
	ctx := context.Background()
	srv, st := newTestServer(t, testConfig(t))
	draft := futureDraft()
	if _, err := st.Submissions.Create(ctx, store.Submission{
		Email:             draft.Email,
		FormData:          draft.Entry,
		Status:            store.SubmissionPending,
		EditToken:         "edit",
		CancelToken:       "cancel",
		ConfirmationToken: "confirm",
	}); err != nil {
		t.Fatal(err)
	}

	visitor := newClient(t, srv)
	token, err := visitor.CSRFToken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	err = visitor.SaveSubmission(ctx, apiclient.SubmissionRecord{
		Token:    "edit",
		Email:    "someone@else.org",
		FormData: draft.Entry,
	}, token)
	if !apiclient.IsStatus(err, http.StatusUnprocessableEntity) {
		t.Errorf("SaveSubmission = %v, want 422", err)
	}

	// The confirmation token does not allow edits.
	token, _ = visitor.CSRFToken(ctx)
	err = visitor.SaveSubmission(ctx, apiclient.SubmissionRecord{
		Token:    "confirm",
		Email:    draft.Email,
		FormData: draft.Entry,
	}, token)
	if !apiclient.IsStatus(err, http.StatusForbidden) {
		t.Errorf("SaveSubmission with confirmation token = %v, want 403", err)
	}
}

func TestUpload(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, testConfig(t))
	visitor := newClient(t, srv)

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	up, err := visitor.UploadPoster(ctx, "poster.png", bytes.NewReader(png))
	if err != nil {
		t.Fatalf("UploadPoster: %v", err)
	}
	if !strings.HasPrefix(up.Filename, "/uploads/") || !strings.HasSuffix(up.Filename, ".png") {
		t.Errorf("filename = %q", up.Filename)
	}
	resp, err := http.Get(srv.URL + up.Filename)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET uploaded poster: %d", resp.StatusCode)
	}

	_, err = visitor.UploadPoster(ctx, "notes.txt", strings.NewReader("plain text, not an image"))
	if !apiclient.IsStatus(err, http.StatusUnsupportedMediaType) {
		t.Errorf("text upload = %v, want 415", err)
	}
}

func TestDiffEntries(t *testing.T) {
	published := agenda.Entry{ID: "1", Title: "A", Price: "10", Tags: []string{"x"}, Status: agenda.StatusActive}
	submitted := agenda.Entry{Title: "B", Price: "10", Tags: []string{"x", "y"}, Status: agenda.StatusPending, Email: "a@b.ch"}
	diff, err := diffEntries(published, submitted)
	if err != nil {
		t.Fatal(err)
	}
	if len(diff) != 2 {
		t.Fatalf("diff = %+v, want title and tags", diff)
	}
	if diff["title"].Old != "A" || diff["title"].New != "B" {
		t.Errorf("title change = %+v", diff["title"])
	}
	if _, ok := diff["tags"]; !ok {
		t.Error("tags change missing")
	}
}
