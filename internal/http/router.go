package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/afromemo/afromemo/internal/auth"
	"github.com/afromemo/afromemo/internal/config"
	"github.com/afromemo/afromemo/internal/http/csrf"
	"github.com/afromemo/afromemo/internal/http/ratelimit"
	"github.com/afromemo/afromemo/internal/logging"
	"github.com/afromemo/afromemo/internal/metrics"
	"github.com/afromemo/afromemo/internal/notify"
	"github.com/afromemo/afromemo/internal/store"
)

// Deps are the services the router wires into handlers.
type Deps struct {
	Config   *config.Config
	Store    *store.Store
	Auth     *auth.Service
	Notifier *notify.Notifier
	CSRF     *csrf.Store
	Logger   *slog.Logger
}

// NewRouter wires all API routes. Background cleanups stop with ctx.
func NewRouter(ctx context.Context, deps Deps) http.Handler {
	cfg := deps.Config
	logger := logging.OrDiscard(deps.Logger)
	r := chi.NewRouter()

	// Login: 5 requests per second, burst of 10
	authRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(5), 10, 5*time.Minute, cfg.TrustedProxies)
	// Public submission routes: one request every 2 seconds, burst of 20
	publicRateLimiter := ratelimit.NewIPRateLimiter(rate.Every(2*time.Second), 20, 5*time.Minute, cfg.TrustedProxies)
	go authRateLimiter.Cleanup(ctx)
	go publicRateLimiter.Cleanup(ctx)
	go deps.CSRF.Cleanup(ctx, 10*time.Minute)

	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors(cfg.FrontURL))
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := deps.Store.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	h := NewHandler(cfg, deps.Store, deps.Auth, deps.Notifier, logger)
	authService := deps.Auth

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authRateLimiter.Middleware())
			r.Post("/login", h.Login)
			r.Post("/refreshToken", h.RefreshToken)
			r.Post("/logout", h.Logout)
		})

		r.Get("/agenda", h.ListAgenda)
		r.With(authService.OptionalBearer).Get("/agenda/{id}", h.GetAgendaEntry)

		r.Group(func(r chi.Router) {
			r.Use(publicRateLimiter.Middleware())
			r.Get("/csrfToken", deps.CSRF.Handler)
			r.Get("/submissions/{token}", h.GetSubmission)
			r.With(deps.CSRF.Middleware).Post("/submissions", h.SaveSubmission)
			r.Post("/submissions/confirm", h.ConfirmSubmission)
			r.Delete("/submissions/delete", h.DeleteSubmission)
		})

		// Admin routes outside /protected
		r.Group(func(r chi.Router) {
			r.Use(authService.RequireBearer)
			r.Use(auth.RequireAdmin)
			r.Post("/agenda", h.CreateAgendaEntry)
			r.Put("/agenda/{id}", h.UpdateAgendaEntry)
			r.Patch("/agenda/{id}", h.UpdateAgendaStatus)
			r.Get("/submissions/diff/{id}", h.SubmissionDiff)
		})

		r.Route("/protected", func(r chi.Router) {
			r.Use(authService.RequireBearer)
			r.Get("/user", h.GetUser)
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)
				r.Get("/agenda", h.ListAllAgenda)
				r.Get("/submissions", h.ListSubmissions)
				r.Post("/agenda/admin", h.PublishSubmission)
			})
		})
	})

	r.With(publicRateLimiter.Middleware()).Post("/upload", h.Upload)
	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))))

	return r
}

// cors lets the front end at origin call the API with credentials.
func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
