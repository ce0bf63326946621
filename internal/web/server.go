// Package web provides the HTTP API for previewing, confirming and
// correcting registry imports.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/simsync/internal/config"
	"github.com/JonMunkholm/simsync/internal/core"
	mw "github.com/JonMunkholm/simsync/internal/web/middleware"
)

// Server is the HTTP server for the registry API.
type Server struct {
	service  *core.Service
	metrics  *core.Metrics
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
	validate *validator.Validate

	limiters []*rateLimiter
}

// NewServer creates a new Server instance. metrics may be nil, in which
// case /metrics is not served.
func NewServer(service *core.Service, metrics *core.Metrics, cfg *config.Config) (*Server, error) {
	keys, err := cfg.Security.Keys()
	if err != nil {
		return nil, err
	}

	s := &Server{
		service:  service,
		metrics:  metrics,
		cfg:      cfg,
		router:   chi.NewRouter(),
		validate: validator.New(),
	}
	s.setupMiddleware()
	s.setupRoutes(keys)
	return s, nil
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.limiters = append(s.limiters, limiter)
		s.router.Use(limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(keys map[string]string) {
	s.router.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.cfg.Security.RequireAPIKey, keys))
		r.Use(requestMetadata)

		// Uploads carry their own size limits.
		r.With(s.uploadLimit()).Post("/ingest", s.handleIngest)
		r.With(s.uploadLimit()).Post("/snapshot", s.handleImportSnapshot)

		r.Group(func(r chi.Router) {
			r.Use(limitBody(maxJSONBody))

			// Import lifecycle
			r.Get("/plans", s.handleListPlans)
			r.Get("/plans/{planID}", s.handleGetPlan)
			r.Post("/plans/{planID}/confirm", s.handleConfirmPlan)
			r.Post("/plans/{planID}/cancel", s.handleCancelPlan)

			// Registry
			r.Get("/entities", s.handleListEntities)
			r.Post("/entities/{uid}/activate", s.handleActivate)
			r.Post("/entities/{uid}/deactivate", s.handleDeactivate)
			r.Post("/entities/{uid}/labels", s.handleOverrideLabel)

			r.Get("/aliases", s.handleListAliases)
			r.Post("/aliases", s.handleAddAlias)

			r.Get("/overrides", s.handleListOverrides)
			r.Put("/overrides", s.handleSetOverride)
			r.Delete("/overrides", s.handleRemoveOverride)

			// History
			r.Get("/audit-log", s.handleAuditLog)
			r.Get("/imports", s.handleListImports)
			r.Get("/fields", s.handleListFields)

			// Snapshot operations
			r.Get("/snapshot", s.handleExportSnapshot)
			r.Post("/wipe", s.handleWipe)
		})
	})
}

// uploadLimit applies the stricter per-IP limit to upload endpoints.
func (s *Server) uploadLimit() func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := newRateLimiter(s.cfg.Rate.UploadLimit, time.Minute)
	s.limiters = append(s.limiters, limiter)
	return limiter.middleware
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and its background cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, l := range s.limiters {
		l.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reg := s.service.Registry()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"registryVersion": reg.Version(),
		"entities":        reg.Len(),
		"pendingPlans":    len(s.service.PendingPlans()),
	})
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
