// Package server provides the operational HTTP listener: liveness and
// readiness probes, Prometheus metrics and the monitor status endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/HerbHall/netpulse/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessChecker verifies that the monitor is ready to serve traffic.
// Returns nil if ready, an error describing why not otherwise.
type ReadinessChecker func(ctx context.Context) error

// Route is an extra endpoint mounted on the listener.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Server is the operational HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
	ready      ReadinessChecker
}

// New creates a Server with middleware and routes. reg receives the HTTP
// request metrics and backs /metrics; nil selects the Prometheus default
// registry.
func New(addr string, logger *zap.Logger, reg *prometheus.Registry, ready ReadinessChecker, routes ...Route) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		logger: logger,
		mux:    mux,
		ready:  ready,
	}

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}

	s.registerRoutes(gatherer)
	for _, r := range routes {
		pattern := fmt.Sprintf("%s %s", r.Method, r.Path)
		mux.HandleFunc(pattern, r.Handler)
		logger.Debug("mounted route", zap.String("pattern", pattern))
	}

	skip := []string{"/healthz", "/readyz", "/metrics"}

	// Middleware chain: outermost listed first.
	handler := Chain(mux,
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger, newHTTPMetrics(registerer), skip),
		SecurityHeadersMiddleware,
		VersionHeaderMiddleware,
		RateLimitMiddleware(20, 40, skip),
	)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	// Unversioned operational endpoints.
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving HTTP requests. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealthz is a liveness probe -- returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// handleReadyz returns 200 once the scheduler is running.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			WriteProblem(w, Problem{
				Type:     ProblemTypeUnavailable,
				Title:    "Service Unavailable",
				Status:   http.StatusServiceUnavailable,
				Detail:   err.Error(),
				Instance: r.URL.Path,
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Version map[string]string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:  "ok",
		Service: "netpulse",
		Version: version.Map(),
	})
}
