// Package http serves the operational endpoints of a long-running ETL
// process: liveness, readiness, today's execution log and Prometheus metrics.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// ExecutionLister returns the execution records written today.
type ExecutionLister interface {
	Today(ctx context.Context) ([]domain.ExecutionRecord, error)
}

// Server exposes /healthz, /readyz, /executions and /metrics.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates the server. executions may be nil, in which case
// /executions is not routed. A nil gatherer serves the default registry.
func NewServer(addr string, ready ReadinessChecker, executions ExecutionLister, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	if executions != nil {
		mux.HandleFunc("GET /executions", s.handleExecutions(executions))
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

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

type executionView struct {
	ExecutionID     string     `json:"execution_id"`
	Process         string     `json:"process"`
	Status          string     `json:"status"`
	Attempt         int        `json:"attempt"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	RecordsInserted int64      `json:"records_inserted"`
	RecordsFailed   int64      `json:"records_failed"`
	Error           string     `json:"error,omitempty"`
}

func (s *Server) handleExecutions(lister ExecutionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		recs, err := lister.Today(ctx)
		if err != nil {
			s.logger.Error("list executions", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "execution log unavailable"})
			return
		}

		out := make([]executionView, 0, len(recs))
		for _, rec := range recs {
			out = append(out, executionView{
				ExecutionID:     rec.ExecutionID,
				Process:         rec.ProcessName,
				Status:          string(rec.Status),
				Attempt:         rec.Attempt,
				StartTime:       rec.StartTime,
				EndTime:         rec.EndTime,
				RecordsInserted: rec.RecordsInserted,
				RecordsFailed:   rec.RecordsFailed,
				Error:           rec.ErrorMessage,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
