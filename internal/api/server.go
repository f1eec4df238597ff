// Package api serves Kestrel's health, metrics and company-scoped JSON endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. metrics may be nil.
func NewServer(cfg domain.ServerConfig, svc Service, checks map[string]Pinger, metrics http.Handler, version string) *Server {
	handler := NewHandler(svc, checks, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Operational endpoints (no company required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if metrics != nil {
		router.Method(http.MethodGet, "/metrics", metrics)
	}

	router.Group(func(r chi.Router) {
		r.Use(CompanyMiddleware)

		// Reporting
		r.Get("/dashboard", handler.Dashboard)
		r.Get("/trends", handler.Trends)

		// Benford analysis
		r.Get("/benford/trends", handler.BenfordTrends)
		r.Get("/benford/analyses/{id}", handler.BenfordReport)
		r.Post("/benford/{dataType}", handler.AnalyzeBenford)

		// Detection runs
		r.Post("/detect/{fraudType}", handler.Detect)
		r.Post("/scan", handler.Scan)

		// Lifecycle
		r.Post("/detections/{id}/resolve", handler.ResolveDetection)
		r.Get("/ghost-reports", handler.GhostReports)
		r.Post("/ghost-reports/{id}/resolve", handler.ResolveGhostReport)
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
