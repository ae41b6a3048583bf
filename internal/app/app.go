package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/vk/stagegrid/internal/catalog"
	"github.com/vk/stagegrid/internal/concurrency"
	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/metrics"
	"github.com/vk/stagegrid/internal/orchestrator"
	"github.com/vk/stagegrid/internal/registry"
	"github.com/vk/stagegrid/internal/runstore"
	"github.com/vk/stagegrid/internal/runstore/inmemory"
	"github.com/vk/stagegrid/internal/runstore/sqlite"
	"github.com/vk/stagegrid/internal/scheduler"
	"github.com/vk/stagegrid/internal/secret"
	"github.com/vk/stagegrid/internal/tracker"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	ctx    context.Context
	logger *slog.Logger
	config *Config

	registry  *registry.Registry
	catalog   *catalog.Catalog
	store     runstore.Store
	tracker   *tracker.Tracker
	metrics   *metrics.Metrics
	scheduler *scheduler.Scheduler
	orch      *orchestrator.Orchestrator

	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App with its own isolated logger and registry. When no modules
// are given the compiled-in core modules are registered.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	policy, err := scheduler.ParseDispatchPolicy(cfg.DispatchPolicy)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	reg.RegisterModules(modules...)
	logger.Debug("All Go modules registered.", "count", len(modules), "kinds", reg.Kinds())

	cat := catalog.New(loader, cfg.DefinitionsPath)
	if err := cat.Load(ctx); err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	tr := tracker.New(store)
	m := metrics.New()
	sched := scheduler.New(reg, tr, concurrency.New(), m, scheduler.Options{
		MaxInFlight:    cfg.MaxInFlight,
		CancelTimeout:  cfg.CancelTimeout,
		DispatchPolicy: policy,
		Secrets:        secret.NewBag(cfg.Secrets).Merge(secret.FromEnviron(SecretEnvPrefix, os.Environ())),
		Retention:      cfg.Retention,
	})

	return &App{
		outW:      outW,
		ctx:       ctx,
		logger:    logger,
		config:    cfg,
		registry:  reg,
		catalog:   cat,
		store:     store,
		tracker:   tr,
		metrics:   m,
		scheduler: sched,
		orch:      orchestrator.New(cat, sched, tr, store),
	}, nil
}

func openStore(ctx context.Context, dbPath string) (runstore.Store, error) {
	logger := ctxlog.FromContext(ctx)
	if dbPath == "" {
		logger.Debug("Using in-memory run store.")
		return inmemory.New(), nil
	}
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}
	logger.Debug("Using SQLite run store.", "path", dbPath)
	return store, nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Orchestrator returns the application's orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// Catalog returns the loaded definitions.
func (a *App) Catalog() *catalog.Catalog {
	return a.catalog
}

// Close stops every live run and releases the run store.
func (a *App) Close(ctx context.Context) error {
	a.logger.Debug("Closing application...")
	timeout := a.config.CancelTimeout
	if timeout <= 0 {
		timeout = scheduler.DefaultCancelTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	shutdownErr := a.scheduler.Shutdown(ctx)
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("closing run store: %w", err)
	}
	return shutdownErr
}
