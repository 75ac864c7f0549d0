// Package agentrun is the public API for embedding the agent execution
// runtime.
//
// Consumers construct an App and drive it with Run, or hold onto the
// orchestrator for direct enqueueing:
//
//	app, err := agentrun.New(
//	    agentrun.WithVersion(version),
//	    agentrun.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: agentrun (root) imports
// internal/*, but internal/* never imports agentrun (root).
package agentrun

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/techzombie4u/agentrun/internal/config"
	"github.com/techzombie4u/agentrun/internal/flags"
	"github.com/techzombie4u/agentrun/internal/orchestrator"
	"github.com/techzombie4u/agentrun/internal/outputs"
	"github.com/techzombie4u/agentrun/internal/provider"
	"github.com/techzombie4u/agentrun/internal/ratelimit"
	"github.com/techzombie4u/agentrun/internal/registry"
	"github.com/techzombie4u/agentrun/internal/runner"
	"github.com/techzombie4u/agentrun/internal/telemetry"
)

// App is the runtime lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	flags        *flags.Store
	registry     *registry.Registry
	repo         outputs.Repository
	orch         *orchestrator.Orchestrator
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New wires the runtime: feature flags, rate limiter, registry, provider,
// runner, output repository, and orchestrator. It does NOT start any
// goroutines — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.rosterPath != "" {
		cfg.RosterPath = o.rosterPath
	}
	if o.flagsPath != "" {
		cfg.FlagsPath = o.flagsPath
	}
	if o.outputsDB != nil {
		cfg.OutputsDB = *o.outputsDB
	}
	if o.queueCapacity > 0 {
		cfg.QueueCapacity = o.queueCapacity
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("agentrun starting", "version", version, "roster", cfg.RosterPath)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Feature flags, limiter, registry.
	store := flags.Open(cfg.FlagsPath, flags.Defaults(registry.DefaultRoster()), logger)
	limiter := ratelimit.NewWindowLimiter()
	reg := registry.New(cfg.RosterPath, store, limiter, logger)
	reg.Load()

	// Generation provider: explicit option, then env override, then roster.
	prov := o.provider
	if prov == nil {
		pcfg := reg.ProviderConfig()
		if cfg.ProviderName != "" {
			pcfg.Provider = cfg.ProviderName
		}
		if cfg.ProviderModel != "" {
			pcfg.Model = cfg.ProviderModel
		}
		if cfg.ProviderBaseURL != "" {
			pcfg.BaseURL = cfg.ProviderBaseURL
		}
		if cfg.ProviderAPIKey != "" {
			pcfg.APIKey = cfg.ProviderAPIKey
		}
		prov = provider.New(pcfg, logger)
	}

	// Output repository.
	repo := o.repository
	if repo == nil {
		if cfg.OutputsDB != "" {
			sqlRepo, err := outputs.OpenSQLite(context.Background(), cfg.OutputsDB, logger)
			if err != nil {
				_ = otelShutdown(context.Background())
				return nil, fmt.Errorf("outputs: %w", err)
			}
			repo = sqlRepo
		} else {
			repo = outputs.NewMemoryStore(logger)
			logger.Info("outputs: in-memory store (no database path configured)")
		}
	}

	run := runner.New(reg, limiter, prov, logger)
	orch := orchestrator.New(run, reg, repo, store, logger, cfg.QueueCapacity)

	return &App{
		cfg:          cfg,
		flags:        store,
		registry:     reg,
		repo:         repo,
		orch:         orch,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the worker and the periodic scheduler, then blocks until ctx is
// cancelled. On return, Shutdown is called automatically — callers should not
// call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	a.orch.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.EnableScheduler {
		g.Go(func() error {
			a.orch.RunScheduler(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	_ = g.Wait()

	return a.Shutdown(context.Background())
}

// Shutdown performs a two-phase graceful stop: (1) let the in-flight job
// finish within the configured grace period, (2) close the output repository
// and OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("agentrun shutting down")

	stopCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownGrace)
	a.orch.Stop(stopCtx)
	cancel()

	if err := a.repo.Close(); err != nil {
		a.logger.Error("outputs close error", "error", err)
	}
	_ = a.otelShutdown(context.Background())

	a.logger.Info("agentrun stopped")
	return nil
}

// Orchestrator exposes the job queue for manual enqueueing and event triggers.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Registry exposes the loaded agent specifications.
func (a *App) Registry() *registry.Registry { return a.registry }

// Outputs exposes the execution result repository.
func (a *App) Outputs() outputs.Repository { return a.repo }

// Flags exposes the persisted feature flag store.
func (a *App) Flags() *flags.Store { return a.flags }

// Version returns the version string the App was built with.
func (a *App) Version() string { return a.version }
