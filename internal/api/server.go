// Package api exposes the monitoring engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// ServerOptions collects optional server dependencies.
type ServerOptions struct {
	// Cache backs the ingest rate limiter; nil disables limiting.
	Cache domain.Cache

	RateLimit domain.RateLimitConfig

	// AlertStream serves GET /ws/alerts when set.
	AlertStream http.Handler

	Version string
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, monitor *engine.Monitor, admin domain.AdminConfig, opts ServerOptions) *Server {
	handler := NewHandler(monitor, opts.Cache, opts.Version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and observability endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Ingest (rate limited when a cache is configured)
	router.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(opts.Cache, opts.RateLimit))

		r.Post("/transactions", handler.SubmitTransaction)
		r.Post("/transactions/batch", handler.AnalyzeBatch)
		r.Post("/addresses/{address}/failures", handler.RecordFailure)
	})

	// Queries
	router.Get("/transactions/{id}", handler.GetTransaction)
	router.Get("/addresses/{address}", handler.GetAddress)
	router.Get("/addresses/{address}/risk", handler.GetAddressRisk)
	router.Get("/addresses/{address}/findings", handler.GetAddressFindings)
	router.Get("/alerts", handler.ListAlerts)

	if opts.AlertStream != nil {
		router.Method(http.MethodGet, "/ws/alerts", opts.AlertStream)
	}

	// Admin surface, token gated
	router.Route("/admin", func(r chi.Router) {
		r.Use(AdminMiddleware(admin))

		r.Post("/monitoring", handler.SetMonitoring)
		r.Get("/monitoring", handler.GetMonitoring)

		r.Get("/thresholds", handler.GetThresholds)
		r.Put("/thresholds", handler.UpdateThresholds)

		r.Get("/ai-blend", handler.GetAIBlend)
		r.Put("/ai-blend", handler.UpdateAIBlend)

		r.Get("/registry/{list}", handler.GetRegistry)
		r.Post("/registry/{list}", handler.UpdateRegistry)

		r.Get("/rules", handler.ListRules)
		r.Post("/rules", handler.SaveRule)
		r.Delete("/rules/{id}", handler.DeleteRule)
		r.Post("/heuristics/reload", handler.ReloadRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
