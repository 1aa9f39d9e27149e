// Package server exposes the conversational API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/careline-ai/careline/internal/engine"
	"github.com/careline-ai/careline/internal/response"
	"github.com/careline-ai/careline/internal/telemetry"
)

// Generator produces structured responses for user turns.
type Generator interface {
	Generate(ctx context.Context, req engine.Request) response.Structured
	ClearConversation(ctx context.Context, conversationID string) (bool, error)
}

// Server is the HTTP API server.
type Server struct {
	generator Generator
	mux       *http.ServeMux
	server    *http.Server
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	apiKey    string
	startTime time.Time
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithAPIKey sets the API key for authentication. Empty disables auth.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) { s.apiKey = key }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics attaches a metrics collector and enables the /metrics endpoint.
func WithMetrics(m *telemetry.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates the API server.
func NewServer(generator Generator, opts ...ServerOption) *Server {
	s := &Server{
		generator: generator,
		logger:    slog.Default(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", s.instrument("generate", s.handleGenerate))
	mux.HandleFunc("DELETE /api/conversations/{id}", s.instrument("clear_conversation", s.handleClearConversation))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	s.mux = mux
	return s
}

// Handler returns the HTTP handler for use with httptest or custom servers.
func (s *Server) Handler() http.Handler {
	return s.authMiddleware(s.mux)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.authMiddleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("api server starting", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Probes and scrapes don't require auth.
		if r.URL.Path == "/api/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = auth[7:]
			}
		}

		if key == "" {
			writeError(w, http.StatusUnauthorized, "API key is required")
			return
		}
		if key != s.apiKey {
			writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// instrument wraps a handler with correlation ID propagation and request
// metrics.
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := telemetry.WithCorrelationID(r.Context(), r.Header.Get("X-Request-ID"))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r.WithContext(ctx))

		if s.metrics != nil {
			s.metrics.RecordRequest(endpoint, http.StatusText(rec.status), time.Since(start))
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type generateRequest struct {
	UserID             string `json:"user_id"`
	Text               string `json:"text"`
	ConversationID     string `json:"conversation_id,omitempty"`
	PreviousResponseID string `json:"previous_response_id,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	s.logger.Info("generate request", "user_id", req.UserID,
		"conversation_id", req.ConversationID)

	resp := s.generator.Generate(r.Context(), engine.Request{
		Text:               req.Text,
		ConversationID:     req.ConversationID,
		UserID:             req.UserID,
		PreviousResponseID: req.PreviousResponseID,
	})

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	existed, err := s.generator.ClearConversation(r.Context(), conversationID)
	if err != nil {
		s.logger.Error("clear conversation failed", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to clear conversation")
		return
	}

	if existed {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Conversation " + conversationID + " cleared successfully",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": false,
		"message": "Conversation " + conversationID + " not found",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": time.Since(s.startTime).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error":   true,
		"message": message,
	})
}
