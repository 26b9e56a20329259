// Package api exposes the engine over HTTP: audio upload, recording and
// job inspection, chat (plain and websocket streaming), session management,
// health probes, and the Prometheus metrics endpoint.
//
// Handlers translate between the wire and the services; all behaviour lives
// in the service layers. Errors map onto status codes via the shared
// sentinels in [memory]; internal failures never leak details to clients.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mnemovox/mnemovox/internal/chat"
	"github.com/mnemovox/mnemovox/internal/health"
	"github.com/mnemovox/mnemovox/internal/jobs"
	"github.com/mnemovox/mnemovox/internal/observe"
	"github.com/mnemovox/mnemovox/internal/session"
	"github.com/mnemovox/mnemovox/pkg/memory"
)

// defaultMaxUploadBytes bounds one multipart audio upload.
const defaultMaxUploadBytes = 100 << 20

// Server holds the HTTP surface over the engine services.
type Server struct {
	chat     *chat.Service
	jobs     *jobs.Service
	sessions *session.Manager
	health   *health.Handler
	metrics  *observe.Metrics
	promer   http.Handler
	logger   *slog.Logger

	maxUploadBytes int64
}

// Option is a functional option for [NewServer].
type Option func(*Server)

// WithMaxUploadBytes caps the accepted audio upload size.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithObserveMetrics overrides the instrument set, mainly for tests.
func WithObserveMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer wires the HTTP surface. healthHandler may be nil when no
// readiness checks are registered.
func NewServer(
	chatSvc *chat.Service,
	jobsSvc *jobs.Service,
	sessions *session.Manager,
	healthHandler *health.Handler,
	logger *slog.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if healthHandler == nil {
		healthHandler = health.New()
	}
	s := &Server{
		chat:           chatSvc,
		jobs:           jobsSvc,
		sessions:       sessions,
		health:         healthHandler,
		promer:         promhttp.Handler(),
		logger:         logger.With("component", "api"),
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler builds the full route table wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/recordings", s.handleUpload)
	mux.HandleFunc("GET /v1/recordings/{id}", s.handleRecording)
	mux.HandleFunc("DELETE /v1/recordings/{id}", s.handleRecordingDelete)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleJob)

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/chat/stream", s.handleChatStream)

	mux.HandleFunc("GET /v1/sessions/{id}", s.handleSession)
	mux.HandleFunc("POST /v1/sessions/{id}/reset", s.handleSessionReset)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleSessionDelete)

	s.health.Register(mux)
	mux.Handle("GET /metrics", s.promer)

	return observe.Middleware(s.metrics)(mux)
}

// apiError is the JSON error body.
type apiError struct {
	Error string `json:"error"`
}

// writeJSON encodes v with the given status. Falls back to a plain 500 on
// encoding failure.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

// writeError maps err onto a status code and JSON body. Internal failures
// get a generic message; the cause goes to the log, not the wire.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, memory.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, memory.ErrUserMismatch):
		status, msg = http.StatusForbidden, "session belongs to another user"
	case errors.Is(err, memory.ErrInvalidFilter):
		status, msg = http.StatusBadRequest, err.Error()
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, apiError{Error: msg})
}

// badRequest writes a 400 with the given client-facing message.
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, apiError{Error: msg})
}
