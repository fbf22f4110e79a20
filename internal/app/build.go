package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/agentgate/internal/agents"
	"github.com/ent0n29/agentgate/internal/brain"
	"github.com/ent0n29/agentgate/internal/config"
	"github.com/ent0n29/agentgate/internal/httpapi"
	"github.com/ent0n29/agentgate/internal/memory"
	"github.com/ent0n29/agentgate/internal/observability"
	"github.com/ent0n29/agentgate/internal/session"
	"github.com/ent0n29/agentgate/internal/sessionstore"
)

// App is a fully wired gateway.
type App struct {
	Config  config.Config
	API     *httpapi.Server
	Agents  *agents.Manager
	Metrics *observability.Metrics
	Logger  *slog.Logger

	store sessionstore.Store
}

// Build constructs every component from cfg. reg receives the Prometheus
// instruments; nil uses the default registry.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace, reg)

	store, err := sessionstore.NewStore(ctx, sessionstore.Config{
		RedisURL:       cfg.RedisURL,
		DatabaseURL:    cfg.DatabaseURL,
		DefaultTTL:     cfg.SessionTTL,
		MaxConnections: cfg.RedisMaxConnections,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}
	logger.Info("session store ready", "backend", store.Backend())

	adapter, err := brain.NewAdapter(brain.Config{
		Mode:             cfg.BrainMode,
		HTTPURL:          cfg.BrainHTTPURL,
		HTTPStreamStrict: cfg.BrainHTTPStreamStrict,
		HTTPMaxRetries:   cfg.BrainHTTPMaxRetries,
		HTTPTimeout:      cfg.BrainHTTPTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("brain adapter init failed: %w", err)
	}

	var mem memory.Service
	if cfg.MemoryEnabled {
		records, err := memory.NewRecordStore(ctx, cfg.MemoryDatabaseURL)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("memory store init failed: %w", err)
		}
		mem = memory.NewBank(records, logger, metrics)
		logger.Info("long-term memory enabled", "backend", records.Backend(), "auto_save", cfg.MemoryAutoSave)
	}

	sessionOpts := []session.Option{session.WithTTL(cfg.SessionTTL)}
	if cfg.SessionKeyedLocking {
		sessionOpts = append(sessionOpts, session.WithKeyedLocking())
	}

	manager := agents.NewManager(agents.Config{
		AgentsDir:                   cfg.AgentsDir,
		DefaultAgent:                cfg.DefaultAgent,
		DefaultTenant:               cfg.DefaultTenant,
		Store:                       sessionstore.WithObserver(store, metrics),
		SessionOptions:              sessionOpts,
		Brain:                       adapter,
		Memory:                      mem,
		MemoryEnabled:               cfg.MemoryEnabled,
		MemoryAutoSave:              cfg.MemoryAutoSave,
		TurnTimeout:                 cfg.AgentTimeout,
		MaxConcurrentTurnsPerTenant: cfg.TenantMaxTurns,
		ScreenMessages:              cfg.ScreenMessages,
		Logger:                      logger,
		Metrics:                     metrics,
	})
	if err := manager.Initialize(ctx); err != nil {
		_ = manager.Shutdown(ctx)
		_ = store.Close()
		return nil, fmt.Errorf("agent manager init failed: %w", err)
	}
	if len(manager.Names()) == 0 {
		logger.Warn("no agents registered", "agents_dir", cfg.AgentsDir)
	}

	return &App{
		Config:  cfg,
		API:     httpapi.New(cfg, manager, metrics, logger),
		Agents:  manager,
		Metrics: metrics,
		Logger:  logger,
		store:   store,
	}, nil
}

// Start launches the background workers: the expired-session janitor for
// backends that need one, and the agents directory watcher when enabled.
// They stop when ctx is done.
func (a *App) Start(ctx context.Context) {
	if j, ok := a.store.(sessionstore.Janitor); ok && a.Config.SessionJanitorInterval > 0 {
		sessionstore.StartJanitor(ctx, j, a.Config.SessionJanitorInterval, a.Logger)
	}
	if a.Config.WatchAgents {
		go func() {
			if err := a.Agents.Watch(ctx); err != nil {
				a.Logger.Error("agents watcher stopped", "error", err)
			}
		}()
	}
}

// Close shuts down every runner, memory, and the session store.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.Agents.Shutdown(ctx), a.store.Close())
}
