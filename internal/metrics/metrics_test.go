package metrics

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/api/agenda/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/agenda/{id}"))
	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agenda/"+id, nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/agenda/{id}"))
	if after-before != 2 {
		t.Errorf("expected 2 requests recorded under the route pattern, got %v", after-before)
	}

	errBefore := testutil.ToFloat64(httpErrorsTotal.WithLabelValues(http.MethodGet, "/boom", "500"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	if got := testutil.ToFloat64(httpErrorsTotal.WithLabelValues(http.MethodGet, "/boom", "500")) - errBefore; got != 1 {
		t.Errorf("expected 1 server error recorded, got %v", got)
	}

	missBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/no/such/page", nil))
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute)) - missBefore; got != 1 {
		t.Errorf("expected unknown paths under %q, got delta %v", unmatchedRoute, got)
	}
}

func TestClientCounters(t *testing.T) {
	before := testutil.ToFloat64(clientRequestsTotal.WithLabelValues(http.MethodGet, "4xx"))
	ObserveClientRequest(http.MethodGet, "4xx", 10*time.Millisecond)
	if got := testutil.ToFloat64(clientRequestsTotal.WithLabelValues(http.MethodGet, "4xx")) - before; got != 1 {
		t.Errorf("client requests delta = %v, want 1", got)
	}

	refreshBefore := testutil.ToFloat64(tokenRefreshesTotal.WithLabelValues("failure"))
	ObserveTokenRefresh("failure")
	if got := testutil.ToFloat64(tokenRefreshesTotal.WithLabelValues("failure")) - refreshBefore; got != 1 {
		t.Errorf("refresh failures delta = %v, want 1", got)
	}

	archivedBefore := testutil.ToFloat64(archivedEntriesTotal)
	AddArchivedEntries(0)
	AddArchivedEntries(3)
	if got := testutil.ToFloat64(archivedEntriesTotal) - archivedBefore; got != 3 {
		t.Errorf("archived delta = %v, want 3", got)
	}
}

func TestClientMetricsStayOutOfServerRegistry(t *testing.T) {
	ObserveClientRequest(http.MethodPost, "2xx", time.Millisecond)
	ObserveClientTransition("publish", "published")
	ObserveSubmissionTransition("publish", "published")

	families, err := ClientRegistry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"afromemo_client_requests_total", "afromemo_client_submission_transitions_total"} {
		if !names[want] {
			t.Errorf("client registry misses %s", want)
		}
	}
	if names["afromemo_submission_transitions_total"] || names["afromemo_http_requests_total"] {
		t.Errorf("server metrics in the client registry: %v", names)
	}
}

func TestPushClientMetrics(t *testing.T) {
	var method, path string
	var body []byte
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	ObserveTokenRefresh("success")
	if err := PushClientMetrics(context.Background(), gw.URL, "afromemo_cli"); err != nil {
		t.Fatalf("PushClientMetrics: %v", err)
	}
	if method != http.MethodPut || path != "/metrics/job/afromemo_cli" {
		t.Errorf("push = %s %s", method, path)
	}
	if !bytes.Contains(body, []byte("afromemo_client_token_refreshes_total")) {
		t.Error("pushed body misses the refresh counter")
	}
	if bytes.Contains(body, []byte("afromemo_http_requests_total")) {
		t.Error("server metrics were pushed")
	}
}
