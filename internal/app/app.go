// Package app wires configuration into running stores, the memory manager
// and the HTTP handler. Both binaries build on it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/memhub/internal/api"
	"github.com/nidhogg/memhub/internal/command"
	"github.com/nidhogg/memhub/internal/config"
	"github.com/nidhogg/memhub/internal/embedding"
	"github.com/nidhogg/memhub/internal/longterm"
	"github.com/nidhogg/memhub/internal/memory"
	"github.com/nidhogg/memhub/internal/shortterm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// App is a fully wired memhub instance.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Manager  *memory.Manager
	Commands *command.Registry
	Registry *prometheus.Registry

	short    *shortterm.Store
	long     *longterm.Store
	embedder embedding.Provider
}

// NewLogger builds a development logger at the named level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// New connects the stores named by cfg. Redis is always wired: if it is
// down at startup the failure is logged and each call degrades until it
// comes back. A long-term backend that cannot be opened is left out.
// Only configuration errors are returned.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s, err := shortterm.Open(cfg.Redis.URL, cfg.ShortTermOptions(), logger.Named("shortterm"))
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.short = s
	rctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Redis.TimeoutMS)*time.Millisecond)
	if err := s.Ping(rctx); err != nil {
		logger.Warn("Redis unreachable, short-term calls will fail until it returns", zap.Error(err))
	} else {
		logger.Info("short-term tier connected", zap.String("prefix", cfg.Redis.KeyPrefix))
	}
	cancel()

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	a.embedder = embedder

	var long memory.LongTermStore
	backend, err := a.openBackend(ctx)
	if err != nil {
		logger.Warn("long-term backend unavailable, running without long-term memory",
			zap.String("backend", cfg.LongTerm.Backend), zap.Error(err))
	} else {
		a.long = longterm.New(backend, logger.Named("longterm"))
		long = a.long
		logger.Info("long-term tier connected", zap.String("backend", cfg.LongTerm.Backend))
	}

	a.Manager = memory.NewManager(s, long, cfg.MemoryOptions(), memory.NewMetrics(a.Registry), logger.Named("memory"))
	if err := a.Manager.Start(); err != nil {
		a.Close()
		return nil, err
	}

	a.Commands = command.NewRegistry()
	command.RegisterBuiltins(a.Commands)
	command.RegisterMemoryCommands(a.Commands, a.Manager)
	return a, nil
}

func (a *App) openBackend(ctx context.Context) (longterm.Backend, error) {
	switch a.Config.LongTerm.Backend {
	case "qdrant":
		return longterm.NewQdrant(ctx, a.Config.LongTerm.Qdrant, a.embedder)
	default:
		return longterm.NewChromem(a.Config.LongTerm.Chromem, embedding.EmbeddingFunc(a.embedder))
	}
}

// Handler returns the HTTP API over this app.
func (a *App) Handler() *api.Handler {
	budget := memory.DefaultContextBudget()
	budget.MaxTokens = a.Config.Memory.ContextMaxTokens
	return api.NewHandler(a.Manager, a.Commands, a.Registry, budget, a.Logger.Named("api"))
}

// Close stops the manager and releases every store connection.
func (a *App) Close() {
	if a.Manager != nil {
		a.Manager.Stop()
	}
	if a.short != nil {
		if err := a.short.Close(); err != nil {
			a.Logger.Warn("close short-term store", zap.Error(err))
		}
	}
	if a.long != nil {
		if err := a.long.Close(); err != nil {
			a.Logger.Warn("close long-term store", zap.Error(err))
		}
	}
	if c, ok := a.embedder.(interface{ Close() }); ok {
		c.Close()
	}
}
