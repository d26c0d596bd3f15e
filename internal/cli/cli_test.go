package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/afromemo/afromemo/internal/agenda"
	"github.com/afromemo/afromemo/internal/auth"
	"github.com/afromemo/afromemo/internal/config"
	httpserver "github.com/afromemo/afromemo/internal/http"
	"github.com/afromemo/afromemo/internal/http/csrf"
	"github.com/afromemo/afromemo/internal/i18n"
	"github.com/afromemo/afromemo/internal/notify"
	"github.com/afromemo/afromemo/internal/store"
)

// startTestServer starts an API server on an in-memory store with one administrator.
func startTestServer(t *testing.T) (string, *store.Store) {
	t.Helper()
	cfg := &config.Config{
		FrontURL:        "http://front.test",
		ConfirmationTTL: 24 * time.Hour,
		UploadDir:       t.TempDir(),
	}
	cfg.JWT.Secret = "access-secret-0123456789abcdef0123"
	cfg.JWT.RefreshSecret = "refresh-secret-0123456789abcdef012"
	cfg.JWT.AccessTokenTTL = 15 * time.Minute
	cfg.JWT.RefreshTokenTTL = time.Hour

	st := store.NewMemory()
	authService := auth.NewService(cfg, st, nil)
	if _, err := authService.SeedAdmin(context.Background(), "admin", "admin-password"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	notifier := notify.New(notify.LogSender{}, cfg.FrontURL, nil)
	t.Cleanup(notifier.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ts := httptest.NewServer(httpserver.NewRouter(ctx, httpserver.Deps{
		Config:   cfg,
		Store:    st,
		Auth:     authService,
		Notifier: notifier,
		CSRF:     csrf.NewStore(time.Hour),
	}))
	t.Cleanup(ts.Close)
	return ts.URL, st
}

// cliRunner runs commands against one server, sharing a state directory the
// way consecutive invocations share ~/.afromemo.
type cliRunner struct {
	t        *testing.T
	server   string
	stateDir string
}

func newRunner(t *testing.T, server string) *cliRunner {
	t.Setenv("AFROMEMO_TIMEZONE", "Europe/Zurich")
	return &cliRunner{t: t, server: server, stateDir: t.TempDir()}
}

func (r *cliRunner) run(args ...string) (string, error) {
	r.t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(append([]string{"--server", r.server, "--state-dir", r.stateDir, "--lang", "en"}, args...))
	err := root.Execute()
	return out.String(), err
}

func (r *cliRunner) mustRun(args ...string) string {
	r.t.Helper()
	out, err := r.run(args...)
	if err != nil {
		r.t.Fatalf("%v: %v (%s)", args, err, errorMessage(err, "en"))
	}
	return out
}

func writeEvent(t *testing.T, title string) string {
	t.Helper()
	day := time.Now().AddDate(0, 0, 10).Format(agenda.DateLayout)
	doc := "title: " + title + `
venuename: Salle du Faubourg
address: Rue des Terreaux-du-Temple 8
place: Genève
startdate: "` + day + `"
starttime: "20:00"
endtime: "23:30"
price: 20 CHF
category: musique
tags: [afro, live]
poster: /uploads/poster.jpg
`
	path := filepath.Join(t.TempDir(), "event.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSubmissionWorkflow(t *testing.T) {
	server, st := startTestServer(t)
	visitor := newRunner(t, server)
	admin := newRunner(t, server)
	event := writeEvent(t, "Concert Afrobeat")

	out := visitor.mustRun("submission", "create", "--file", event, "--email", "ama@example.org", "--accept-terms")
	if !strings.Contains(out, i18n.Text("en", i18n.KeySubmissionCreated)) {
		t.Errorf("create output = %q", out)
	}
	subs, _ := st.Submissions.List(context.Background())
	if len(subs) != 1 {
		t.Fatalf("stored submissions = %d", len(subs))
	}
	sub := subs[0]

	link := "http://front.test/submissions/" + sub.ConfirmationToken + "/confirmation"
	out = visitor.mustRun("submission", "confirm", link)
	if !strings.Contains(out, i18n.Text("en", i18n.KeySubmissionConfirmed)) {
		t.Errorf("confirm output = %q", out)
	}
	if out = visitor.mustRun("submission", "confirm", sub.ConfirmationToken); !strings.Contains(out, "Already confirmed") {
		t.Errorf("second confirm output = %q", out)
	}

	out = admin.mustRun("login", "-u", "admin", "-p", "admin-password")
	if !strings.Contains(out, "Logged in as admin (administrator)") {
		t.Errorf("login output = %q", out)
	}

	out = admin.mustRun("submission", "list", "-o", "json")
	var pending []agenda.Entry
	if err := json.Unmarshal([]byte(out), &pending); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(pending) != 1 || pending[0].Title != "Concert Afrobeat" {
		t.Fatalf("pending submissions = %+v", pending)
	}

	admin.mustRun("submission", "publish", pending[0].Token)
	out = visitor.mustRun("agenda", "list", "-o", "yaml")
	if !strings.Contains(out, "title: Concert Afrobeat") {
		t.Errorf("agenda after publish = %q", out)
	}

	out = visitor.mustRun("submission", "show", sub.EditToken)
	if !strings.Contains(out, "published") {
		t.Errorf("show output = %q", out)
	}

	out = admin.mustRun("agenda", "status", sub.ID, "archived")
	if !strings.Contains(out, "archived") {
		t.Errorf("status output = %q", out)
	}
	stored, _ := st.Entries.Get(context.Background(), sub.ID)
	if stored.Status != agenda.StatusArchived {
		t.Errorf("entry status = %v, want archived", stored.Status)
	}
}

func TestSubmissionErrorsAreLocalized(t *testing.T) {
	server, _ := startTestServer(t)
	r := newRunner(t, server)
	event := writeEvent(t, "Sans consentement")

	_, err := r.run("submission", "create", "--file", event, "--email", "ama@example.org")
	if err == nil {
		t.Fatal("expected an error without --accept-terms")
	}
	if got, want := errorMessage(err, "en"), i18n.Text("en", i18n.KeyConsentRequired); got != want {
		t.Errorf("message = %q, want %q", got, want)
	}

	_, err = r.run("submission", "confirm", "unknown-token")
	if got, want := errorMessage(err, "en"), i18n.Text("en", i18n.KeySubmissionNotFound); got != want {
		t.Errorf("message = %q, want %q", got, want)
	}

	_, err = r.run("submission", "list")
	if got, want := errorMessage(err, "en"), i18n.Text("en", i18n.KeyForbidden); got != want {
		t.Errorf("list without login: %q, want %q", got, want)
	}
}

func TestSessionCommands(t *testing.T) {
	server, _ := startTestServer(t)
	r := newRunner(t, server)

	if out := r.mustRun("whoami"); !strings.Contains(out, "Not logged in") {
		t.Errorf("whoami before login = %q", out)
	}
	if _, err := r.run("login", "-u", "admin", "-p", "wrong"); err == nil {
		t.Error("login with a wrong password succeeded")
	}

	r.mustRun("login", "-u", "admin", "-p", "admin-password")
	out := r.mustRun("whoami", "-o", "json")
	var info struct {
		Admin   bool       `json:"admin"`
		Expires *time.Time `json:"expires"`
	}
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode whoami: %v\n%s", err, out)
	}
	if !info.Admin || info.Expires == nil || !info.Expires.After(time.Now()) {
		t.Errorf("whoami = %+v", info)
	}

	if out := r.mustRun("logout"); !strings.Contains(out, "Logged out") {
		t.Errorf("logout output = %q", out)
	}
	if out := r.mustRun("whoami"); !strings.Contains(out, "Not logged in") {
		t.Errorf("whoami after logout = %q", out)
	}
}

func TestAgendaExport(t *testing.T) {
	server, _ := startTestServer(t)
	admin := newRunner(t, server)
	admin.mustRun("login", "-u", "admin", "-p", "admin-password")

	out := admin.mustRun("agenda", "create", "--file", writeEvent(t, "Bal Kizomba"), "-o", "json")
	var created agenda.Entry
	if err := json.Unmarshal([]byte(out), &created); err != nil || created.ID == "" {
		t.Fatalf("create output = %q (%v)", out, err)
	}

	dir := t.TempDir()
	admin.mustRun("agenda", "export", created.ID, "--out", dir)
	data, err := os.ReadFile(filepath.Join(dir, "Bal-Kizomba.ics"))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	ics := string(data)
	for _, want := range []string{"BEGIN:VCALENDAR", "SUMMARY:Bal Kizomba", "END:VEVENT"} {
		if !strings.Contains(ics, want) {
			t.Errorf("export misses %q:\n%s", want, ics)
		}
	}
}

func TestUploadCommand(t *testing.T) {
	server, _ := startTestServer(t)
	r := newRunner(t, server)

	poster := filepath.Join(t.TempDir(), "poster.png")
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	if err := os.WriteFile(poster, png, 0o600); err != nil {
		t.Fatal(err)
	}
	out := r.mustRun("upload", poster)
	if !strings.HasPrefix(out, "/uploads/") {
		t.Errorf("upload output = %q", out)
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	server, _ := startTestServer(t)
	r := newRunner(t, server)
	if _, err := r.run("whoami", "-o", "xml"); err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Errorf("err = %v", err)
	}
}

func TestClientMetricsArePushed(t *testing.T) {
	server, _ := startTestServer(t)
	pushed := make(chan string, 1)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case pushed <- r.Method + " " + r.URL.Path:
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	r := newRunner(t, server)
	r.mustRun("--pushgateway", gw.URL, "agenda", "list")
	select {
	case got := <-pushed:
		if got != "PUT /metrics/job/afromemo_cli" {
			t.Errorf("push = %q", got)
		}
	default:
		t.Fatal("no metrics pushed")
	}
}
