// Package httpserver exposes the serving core's three RPC operations over
// HTTP/JSON: POST /v1/inference/run, GET /v1/inference/{uuid}/status, and
// GET /v1/inference/{uuid}/result, plus GET /health for readiness checks.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cylonrun/cylon/internal/config"
	"github.com/cylonrun/cylon/internal/rpc"
	"github.com/cylonrun/cylon/internal/servingerrors"
)

// Core is the subset of the serving core the HTTP surface drives.
type Core interface {
	Run(ctx context.Context, request rpc.InferenceRunRequest) (rpc.InferenceRunReply, error)
	Status(jobID string) (rpc.Status, error)
	Result(jobID string) (*rpc.Message, error)
}

// Server wraps an *http.Server and holds references to the dependencies
// needed by the request handlers.
type Server struct {
	httpSrv *http.Server
	core    Core
	cfg     *config.Config
	logger  *slog.Logger
}

// New constructs a Server configured from cfg, wired to core. The underlying
// http.Server is created but not started; call ListenAndServe to begin
// accepting connections.
func New(cfg *config.Config, core Core, logger *slog.Logger) *Server {
	s := &Server{
		core:   core,
		cfg:    cfg,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/inference/run", s.handleInferenceRun)
	mux.HandleFunc("GET /v1/inference/{uuid}/status", s.handleInferenceStatus)
	mux.HandleFunc("GET /v1/inference/{uuid}/result", s.handleInferenceResult)
	mux.HandleFunc("GET /health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddress, cfg.Server.ListenPort)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      loggingMiddleware(logger, mux),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	return s
}

// ListenAndServe starts the HTTP server. It blocks until the server is shut
// down. The caller should call Shutdown in a separate goroutine (e.g. on
// signal receipt) to unblock this method.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server starting", slog.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpserver: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting up to the configured
// shutdown timeout for in-flight requests to complete.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := time.Duration(s.cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("HTTP server shutting down")
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpserver: shutdown: %w", err)
	}
	return nil
}

// Addr returns the address the server is configured to listen on.
func (s *Server) Addr() string {
	return s.httpSrv.Addr
}

// ---------------------------------------------------------------------------
// Request / response types
// ---------------------------------------------------------------------------

// inferenceRunRequestBody is the JSON body accepted by POST /v1/inference/run.
type inferenceRunRequestBody struct {
	Messages []rpc.Message `json:"messages"`
}

// inferenceStatusResponse is the JSON body returned by the status endpoint.
type inferenceStatusResponse struct {
	Status rpc.Status `json:"status"`
}

// inferenceResultResponse is the JSON body returned by the result endpoint.
type inferenceResultResponse struct {
	Response *rpc.Message `json:"response,omitempty"`
}

// errorResponse is the JSON error body returned on any handler failure.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// handleInferenceRun implements POST /v1/inference/run.
func (s *Server) handleInferenceRun(w http.ResponseWriter, r *http.Request) {
	var body inferenceRunRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %s", err.Error()), "")
		return
	}
	if len(body.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages array must not be empty", "")
		return
	}

	reply, err := s.core.Run(r.Context(), rpc.InferenceRunRequest{Messages: body.Messages})
	if err != nil {
		s.logger.Error("inference run failed", slog.String("error", err.Error()))
		status, code := classifyError(err)
		writeError(w, status, err.Error(), code)
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

// handleInferenceStatus implements GET /v1/inference/{uuid}/status.
func (s *Server) handleInferenceStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("uuid")
	status, err := s.core.Status(jobID)
	if err != nil {
		statusCode, code := classifyError(err)
		writeError(w, statusCode, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, inferenceStatusResponse{Status: status})
}

// handleInferenceResult implements GET /v1/inference/{uuid}/result.
func (s *Server) handleInferenceResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("uuid")
	response, err := s.core.Result(jobID)
	if err != nil {
		statusCode, code := classifyError(err)
		writeError(w, statusCode, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, inferenceResultResponse{Response: response})
}

// handleHealth implements GET /health with a simple liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "ok",
		"model_family": s.cfg.Model.Family,
	})
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// loggingMiddleware logs each request's method, path, and latency.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", lrw.statusCode),
			slog.String("remote_addr", remoteAddr(r)),
			slog.Duration("latency", time.Since(start)),
		)
	})
}

// loggingResponseWriter captures the status code written by a handler.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// remoteAddr returns the client IP, preferring X-Forwarded-For when behind a
// proxy. Falls back to r.RemoteAddr.
func remoteAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// writeJSON serialises v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{Message: message, Code: code}})
}

// classifyError maps a servingerrors.ServingError code to an HTTP status.
// Unknown errors become HTTP 500.
func classifyError(err error) (statusCode int, code string) {
	c := servingerrors.Code(err)
	switch {
	case errors.Is(err, servingerrors.ErrNotFound):
		return http.StatusNotFound, c
	case errors.Is(err, servingerrors.ErrQueueFull):
		return http.StatusInternalServerError, c
	case errors.Is(err, servingerrors.ErrGenerationFailed):
		return http.StatusInternalServerError, c
	case errors.Is(err, servingerrors.ErrTaskJoin):
		return http.StatusInternalServerError, c
	default:
		return http.StatusInternalServerError, c
	}
}
