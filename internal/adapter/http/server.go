// Package http exposes the service's operational endpoints: health,
// readiness, metrics and the latest run summary.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/flood-metrics-service/internal/pipeline"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// SummaryProvider returns the most recent run summary, or nil before any
// run has completed.
type SummaryProvider interface {
	LastSummary() *pipeline.Summary
}

// Server exposes health, readiness, metrics and summary HTTP endpoints.
type Server struct {
	httpServer *http.Server
	summaries  SummaryProvider
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and
// /summary routes.
func NewServer(addr string, ready ReadinessChecker, summaries SummaryProvider, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		summaries: summaries,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.HandleFunc("GET /summary", s.handleSummary)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
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

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// summaryResponse is the wire shape of /summary.
type summaryResponse struct {
	Buildings int      `json:"buildings"`
	Points    int      `json:"points"`
	Profiles  int      `json:"profiles"`
	Partial   bool     `json:"partial"`
	Warnings  []string `json:"warnings,omitempty"`
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	summary := s.summaries.LastSummary()
	if summary == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no analysis run has completed yet",
		})
		return
	}

	resp := summaryResponse{
		Profiles: len(summary.Profiles),
		Partial:  summary.Partial,
		Warnings: summary.Warnings,
	}
	if summary.Buildings != nil {
		resp.Buildings = len(summary.Buildings.Order)
	}
	if summary.Points != nil {
		resp.Points = len(summary.Points.Order)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort health response
}
