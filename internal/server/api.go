package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mailsweep/mailsweep/internal/instrumentation"
	"github.com/mailsweep/mailsweep/internal/logging"
	"github.com/mailsweep/mailsweep/internal/pipeline"
	"github.com/mailsweep/mailsweep/internal/token"
)

// CleanRunner executes one clean run. Satisfied by *pipeline.Runner.
type CleanRunner interface {
	Run(ctx context.Context, userID string, count int) (*pipeline.Result, error)
}

// CleanRequest is the body of POST /api/clean.
type CleanRequest struct {
	Email string `json:"email"`
	Count int    `json:"count"`
}

// APIHandler exposes the clean pipeline over HTTP.
type APIHandler struct {
	runner   CleanRunner
	sessions *SessionManager
	logger   *slog.Logger
}

// NewAPIHandler creates the API handler. sessions may be nil, in which case
// the request body must name the user.
func NewAPIHandler(runner CleanRunner, sessions *SessionManager, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{
		runner:   runner,
		sessions: sessions,
		logger:   logging.WithComponent(logger, "api"),
	}
}

// HandleClean runs the pipeline for the requesting user. The user comes
// from the request body, or from the session cookie when the body omits it.
func (h *APIHandler) HandleClean(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req CleanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	email := req.Email
	if email == "" && h.sessions != nil {
		if cookie, err := r.Cookie(SessionCookieName); err == nil {
			email, _ = h.sessions.Lookup(cookie.Value)
		}
	}
	if email == "" {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	result, err := h.runner.Run(r.Context(), email, req.Count)
	if err != nil {
		h.writeRunError(w, r, req, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeRunError maps pipeline errors to HTTP responses. An empty mailbox is
// a completed run with nothing to do, not a failure.
func (h *APIHandler) writeRunError(w http.ResponseWriter, r *http.Request, req CleanRequest, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidCount):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, pipeline.ErrNoMessages):
		writeJSON(w, http.StatusOK, map[string]any{
			"requested_count": req.Count,
			"actual_count":    0,
			"status":          "no_emails",
			"message":         "No emails found in inbox",
		})

	case errors.Is(err, token.ErrAuthExpired):
		writeError(w, http.StatusUnauthorized, "authorization expired, please re-authenticate")

	case errors.Is(err, token.ErrRefreshUnavailable):
		writeError(w, http.StatusServiceUnavailable, "token refresh temporarily unavailable, try again later")

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away; nothing useful to write.
		h.logger.Warn("clean run canceled", logging.Err(err))

	default:
		h.logger.Error("clean run failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// CORSMiddleware allows the configured frontend origin to call the API with
// credentials. Local Vite development on port 5173 is always allowed.
func CORSMiddleware(frontendURL string, next http.Handler) http.Handler {
	allowed := map[string]bool{
		"http://localhost:5173": true,
	}
	if frontendURL != "" {
		allowed[frontendURL] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// MetricsMiddleware records request count and latency per method and path.
// Paths are taken from the mux pattern space, so cardinality stays bounded.
func MetricsMiddleware(m *instrumentation.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
