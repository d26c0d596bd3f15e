package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// ClientRegistry holds the metrics of the command line client. It is kept apart
// from the server registry and pushed to a Pushgateway at the end of a run.
var ClientRegistry = prometheus.NewRegistry()

var clientFactory = promauto.With(ClientRegistry)

type ctxKey struct{}

// unmatchedRoute labels requests no route handled, keeping label cardinality bounded.
const unmatchedRoute = "unmatched"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afromemo_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afromemo_http_errors_total",
		Help: "Total number of HTTP requests resulting in server errors.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "afromemo_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	dbLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "afromemo_db_latency_seconds",
		Help:    "Histogram of database operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route"})

	clientRequestsTotal = clientFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "afromemo_client_requests_total",
		Help: "Total number of API requests issued by the client, by status class.",
	}, []string{"method", "status_class"})

	clientRequestDuration = clientFactory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "afromemo_client_request_duration_seconds",
		Help:    "Histogram of latencies for API requests issued by the client.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	tokenRefreshesTotal = clientFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "afromemo_client_token_refreshes_total",
		Help: "Total number of access token refreshes attempted by the client.",
	}, []string{"result"})

	submissionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afromemo_submission_transitions_total",
		Help: "Total number of submission lifecycle transitions applied by the server.",
	}, []string{"action", "to"})

	clientTransitionsTotal = clientFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "afromemo_client_submission_transitions_total",
		Help: "Total number of submission lifecycle transitions requested by the client.",
	}, []string{"action", "to"})

	archivedEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "afromemo_archived_entries_total",
		Help: "Total number of agenda entries archived after their end date.",
	})
)

// Middleware counts requests per chi route pattern. Repositories called while
// the request is served label their latency with the same route.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, r))

			next.ServeHTTP(ww, r)

			route := routePattern(r)
			status := strconv.Itoa(ww.Status())
			httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
			if ww.Status() >= http.StatusInternalServerError {
				httpErrorsTotal.WithLabelValues(r.Method, route, status).Inc()
			}
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDBLatency records the latency of a database operation started at start.
func ObserveDBLatency(ctx context.Context, operation string, start time.Time) {
	route := "background"
	if r, ok := ctx.Value(ctxKey{}).(*http.Request); ok {
		route = routePattern(r)
	}
	dbLatency.WithLabelValues(operation, route).Observe(time.Since(start).Seconds())
}

// ObserveClientRequest records one API request issued by the client.
func ObserveClientRequest(method, statusClass string, d time.Duration) {
	clientRequestsTotal.WithLabelValues(method, statusClass).Inc()
	clientRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveTokenRefresh counts a token refresh by result ("success" or "failure").
func ObserveTokenRefresh(result string) {
	tokenRefreshesTotal.WithLabelValues(result).Inc()
}

// ObserveSubmissionTransition counts a submission the server moved to state to through action.
func ObserveSubmissionTransition(action, to string) {
	submissionTransitionsTotal.WithLabelValues(action, to).Inc()
}

// ObserveClientTransition counts a transition the client had the server apply.
func ObserveClientTransition(action, to string) {
	clientTransitionsTotal.WithLabelValues(action, to).Inc()
}

// PushClientMetrics replaces the metrics of job on the Pushgateway at url with
// the client registry.
func PushClientMetrics(ctx context.Context, url, job string) error {
	return push.New(url, job).Gatherer(ClientRegistry).PushContext(ctx)
}

// AddArchivedEntries counts entries archived by one archiver run.
func AddArchivedEntries(n int) {
	if n > 0 {
		archivedEntriesTotal.Add(float64(n))
	}
}

// routePattern is only complete once chi has routed r.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}
