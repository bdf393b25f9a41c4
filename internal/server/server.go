package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mailsweep/mailsweep/internal/config"
	"github.com/mailsweep/mailsweep/internal/creds"
	"github.com/mailsweep/mailsweep/internal/instrumentation"
	"github.com/mailsweep/mailsweep/internal/logging"
)

const (
	// DefaultReadHeaderTimeout bounds how long a client may take to send
	// request headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultIdleTimeout is the keep-alive idle timeout for API clients.
	DefaultIdleTimeout = 60 * time.Second
)

// Server is the user-facing API server: auth flow, clean endpoint and
// health probes on one port.
type Server struct {
	cfg           *config.Config
	serverContext *ServerContext
	sessions      *SessionManager
	health        *HealthChecker
	auth          *AuthHandler
	api           *APIHandler
	metrics       *instrumentation.Metrics
	logger        *slog.Logger
	httpServer    *http.Server
}

// New assembles the API server. metrics may be a disabled no-op recorder.
func New(ctx context.Context, cfg *config.Config, runner CleanRunner, store creds.Store, metrics *instrumentation.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "server")

	sc := NewServerContext(ctx)
	sessions := NewSessionManager(logger)

	return &Server{
		cfg:           cfg,
		serverContext: sc,
		sessions:      sessions,
		health:        NewHealthChecker(sc).WithSessions(sessions),
		auth:          NewAuthHandler(cfg, store, sessions, logger).WithMetrics(metrics),
		api:           NewAPIHandler(runner, sessions, logger),
		metrics:       metrics,
		logger:        logger,
	}
}

// Handler builds the routed handler with CORS and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/clean", s.api.HandleClean)
	mux.HandleFunc("GET /auth/google/login", s.auth.HandleLogin)
	mux.HandleFunc("GET /auth/google/callback", s.auth.HandleCallback)
	mux.HandleFunc("GET /auth/me", s.auth.HandleMe)
	mux.HandleFunc("POST /auth/logout", s.auth.HandleLogout)

	s.health.RegisterHealthEndpoints(mux)

	var handler http.Handler = mux
	handler = MetricsMiddleware(s.metrics, handler)
	handler = CORSMiddleware(s.cfg.FrontendURL, handler)
	return handler
}

// Health exposes the health checker, mainly so callers can flip readiness.
func (s *Server) Health() *HealthChecker {
	return s.health
}

// Start serves the API in a blocking manner.
// Call this in a goroutine if you need non-blocking operation.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}

	s.logger.Info("starting api server", slog.String("addr", s.cfg.ListenAddr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops background work.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	s.serverContext.Shutdown()
	s.sessions.Stop()

	if s.httpServer != nil {
		s.logger.Info("shutting down api server")
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
