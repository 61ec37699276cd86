// Package web provides the HTTP surface: the WebSocket conversation endpoint,
// session REST routes, and health probes, behind a small middleware stack.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/tools"
	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/turn"
)

// ServerConfig contains configuration for creating the HTTP server.
type ServerConfig struct {
	Logger       *slog.Logger
	Store        SessionStore     // Required
	Model        turn.ModelClient // Required
	Dispatcher   *tools.Dispatcher
	Registry     *tools.Registry
	Finalizer    Finalizer     // Required: end-of-session summary job
	Pool         *pgxpool.Pool // Optional: nil disables pool stats in /ready
	SystemPrompt string
	HistoryLimit int32
	TrustProxy   bool // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst    int  // Rate limiter burst size per IP (0 = default 60)
}

// Server is the HTTP server. It tracks detached finalization jobs so
// shutdown can wait for in-flight summaries.
type Server struct {
	mux  *http.ServeMux
	jobs sync.WaitGroup
}

// NewServer creates the server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Model == nil {
		return nil, errors.New("model client is required")
	}
	if cfg.Dispatcher == nil || cfg.Registry == nil {
		return nil, errors.New("dispatcher and registry are required")
	}
	if cfg.Finalizer == nil {
		return nil, errors.New("finalizer is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv := &Server{}

	wh := &wsHandler{
		logger:       logger,
		store:        cfg.Store,
		model:        cfg.Model,
		dispatcher:   cfg.Dispatcher,
		registry:     cfg.Registry,
		finalizer:    cfg.Finalizer,
		systemPrompt: cfg.SystemPrompt,
		historyLimit: cfg.HistoryLimit,
		jobs:         &srv.jobs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser and non-browser clients alike connect directly; origin
			// enforcement belongs to the deployment's reverse proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	sh := &sessionHandler{store: cfg.Store, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/session/{id}", wh.serve)
	mux.HandleFunc("POST /api/v1/sessions", sh.createSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sh.getSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/events", sh.getSessionEvents)

	// Per-IP token bucket, 1 token/sec refill. Generous burst by default:
	// a conversation is one long-lived connection, not request churn.
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Tracing -> Recovery -> RequestID -> Logging -> RateLimit -> Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. The trace span wraps everything so middleware work is
	// attributed to the request; spans export through the tracer provider
	// installed at startup, or no-op when tracing is off.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)
	handler = otelhttp.NewHandler(handler, "http.server")

	// Health probes bypass the middleware stack so they stay cheap and
	// unthrottled.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	})
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", handler)

	srv.mux = topMux
	return srv, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Drain waits for detached finalization jobs to finish, or until ctx expires.
func (s *Server) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readiness reports whether the server can do useful work: the database must
// answer a ping within a short deadline.
func readiness(pool *pgxpool.Pool, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pool == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, logger)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			logger.Warn("readiness check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable", logger)
			return
		}

		stat := pool.Stat()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":            "ready",
			"pool_total_conns":  stat.TotalConns(),
			"pool_idle_conns":   stat.IdleConns(),
			"pool_in_use_conns": stat.AcquiredConns(),
		}, logger)
	})
}
