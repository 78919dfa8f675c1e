// Package server exposes the formatting pipeline over HTTP for automated
// threat-intel pipelines. One endpoint does the work; health, stats, and
// Prometheus metrics ride alongside.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/luckyPipewrench/refang/internal/diag"
	"github.com/luckyPipewrench/refang/internal/metrics"
	"github.com/luckyPipewrench/refang/internal/pipeline"
)

const maxRequestBytes = 64 << 10

// Server serves the refang HTTP API. The formatter is swappable at runtime
// so config reloads take effect without dropping in-flight requests.
type Server struct {
	listen    string
	log       *diag.Logger
	metrics   *metrics.Metrics
	formatter atomic.Pointer[pipeline.Formatter]
}

// New creates a Server around the given formatter.
func New(listen string, f *pipeline.Formatter, log *diag.Logger, m *metrics.Metrics) *Server {
	if log == nil {
		log = diag.NewNop()
	}
	s := &Server{
		listen:  listen,
		log:     log,
		metrics: m,
	}
	s.formatter.Store(f)
	return s
}

// SetFormatter swaps the active formatter. Safe to call while serving.
func (s *Server) SetFormatter(f *pipeline.Formatter) {
	s.formatter.Store(f)
}

// Handler returns the API routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/format", s.handleFormat)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.PrometheusHandler())
		mux.Handle("/stats", s.metrics.StatsHandler())
	}
	return mux
}

// ListenAndServe runs the API server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Startup(s.listen)

	select {
	case <-ctx.Done():
		s.log.Shutdown("signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	}
}

type formatRequest struct {
	URL     string `json:"url"`
	Resolve bool   `json:"resolve"`
}

type formatResponse struct {
	Input string   `json:"input"`
	URLs  []string `json:"urls"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleFormat handles POST /v1/format.
// Request body: {"url": "hxxp://evil[.]com", "resolve": true}
// Response body: {"input": "...", "urls": ["http://evil.com"]}
func (s *Server) handleFormat(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	start := time.Now()
	status := http.StatusOK
	defer func() {
		s.log.Request(r.Method, r.URL.Path, requestID, status, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		status = http.StatusMethodNotAllowed
		writeError(w, status, "method not allowed")
		return
	}

	// Strict decode: reject unknown fields so pipeline misconfigurations
	// fail loudly instead of silently not resolving.
	var req formatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		status = http.StatusBadRequest
		writeError(w, status, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if dec.More() {
		status = http.StatusBadRequest
		writeError(w, status, "request body must contain exactly one JSON object")
		return
	}

	f := s.formatter.Load()
	urls, err := f.Run(r.Context(), req.URL, req.Resolve)
	if err != nil {
		// The pipeline's only caller-visible failure: empty input.
		status = http.StatusBadRequest
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(formatResponse{Input: req.URL, URLs: urls})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
