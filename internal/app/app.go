// Package app wires the application together: configuration, database pool,
// model client, tool registry, and the HTTP server, with explicit
// construction order and a single Close for teardown.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vinitsonawane45/tecnvirons-realtime-backend/db"
	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/config"
	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/llm"
	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/log"
	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/session"
	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/summary"
	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/tools"
	"github.com/vinitsonawane45/tecnvirons-realtime-backend/internal/web"
)

// App holds the application's long-lived components.
type App struct {
	Config       *config.Config
	Logger       log.Logger
	Pool         *pgxpool.Pool
	SessionStore *session.Store
	Model        *llm.Client
	Registry     *tools.Registry
	Dispatcher   *tools.Dispatcher
	Summarizer   *summary.Summarizer
	Server       *web.Server

	shutdownTracing func(context.Context) error
}

// Setup constructs the application. Construction order is explicit:
// migrations and pool first, then stores, then the model client, then the
// server on top.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	shutdownTracing := setupTracing(ctx, cfg, logger)

	pool, err := providePool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store := session.New(pool, logger)

	model, err := llm.NewClient(llm.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.ModelName,
		Logger:  logger,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating model client: %w", err)
	}

	registry := tools.NewRegistry()
	tools.RegisterBuiltinTools(registry)
	dispatcher := tools.NewDispatcher(registry, logger)

	summarizer := summary.New(model, store, logger)

	server, err := web.NewServer(web.ServerConfig{
		Logger:       logger,
		Store:        store,
		Model:        model,
		Dispatcher:   dispatcher,
		Registry:     registry,
		Finalizer:    summarizer,
		Pool:         pool,
		SystemPrompt: cfg.SystemPrompt,
		HistoryLimit: cfg.MaxHistoryEvents,
		TrustProxy:   cfg.TrustProxy,
		RateBurst:    cfg.RateBurst,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating server: %w", err)
	}

	logger.Info("application ready",
		"model", cfg.ModelName,
		"tools", registry.Len())

	return &App{
		Config:       cfg,
		Logger:       logger,
		Pool:         pool,
		SessionStore: store,
		Model:        model,
		Registry:     registry,
		Dispatcher:   dispatcher,
		Summarizer:   summarizer,
		Server:       server,

		shutdownTracing: shutdownTracing,
	}, nil
}

// Close releases the application's resources. Waits briefly for detached
// finalization jobs before closing the pool they write through.
func (a *App) Close() error {
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Server.Drain(drainCtx); err != nil {
		a.Logger.Warn("finalization jobs did not drain", "error", err)
	}

	a.Pool.Close()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownTracing(flushCtx); err != nil {
		a.Logger.Warn("trace flush failed", "error", err)
	}
	return nil
}

// providePool runs migrations and creates the PostgreSQL connection pool.
func providePool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Fail fast if the database is unreachable.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
