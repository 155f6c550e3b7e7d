// Package httpapi serves the health, readiness and metrics endpoints together
// with an on-demand conversion API for single NOAA templates.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/paleo-data-etl/internal/pipeline"
)

// DefaultMaxBodyBytes caps uploaded templates and record sets.
const DefaultMaxBodyBytes int64 = 32 << 20

// Server exposes health, readiness and metrics routes and the /v1 API.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	converter  *pipeline.Converter
	ready      sharedobs.ReadinessChecker
	logger     *slog.Logger
	maxBody    int64
}

// Option configures a Server.
type Option func(*Server)

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// NewServer creates an HTTP server bound to addr.
func NewServer(addr string, conv *pipeline.Converter, ready sharedobs.ReadinessChecker, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		converter: conv,
		ready:     ready,
		logger:    logger,
		maxBody:   DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.logger))

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(s.ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/noaa", s.handleConvert)
		r.Post("/timeseries", s.handleTimeseries)
		r.Post("/collapse", s.handleCollapse)
	})

	s.router = r
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the router, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
