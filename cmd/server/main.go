package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/ascenddev/coderunner/config"
	"github.com/ascenddev/coderunner/execution"
	"github.com/ascenddev/coderunner/keyword"
	"github.com/ascenddev/coderunner/logger"
	"github.com/ascenddev/coderunner/mcpserver"
	"github.com/ascenddev/coderunner/natsworker"
	"github.com/ascenddev/coderunner/pool"
	"github.com/ascenddev/coderunner/sandbox"
	"github.com/ascenddev/coderunner/sanitize"
	"github.com/ascenddev/coderunner/strategy"
	"github.com/ascenddev/coderunner/template"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Sandbox backend based on config
			sandbox.NewBackend,

			// Language strategies and analyzers
			strategy.NewRegistry,
			keyword.NewService,
			template.NewEngine,
			newChecker,

			// Execution pipeline
			newPool,
			newOrchestrator,
			newGrader,

			// Transports
			newMCPServer,
			newWorker,
		),

		fx.Invoke(
			registerBackend,
			registerPool,
			registerWorker,
			registerTransport,
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

// newChecker returns nil when source screening is disabled
func newChecker(cfg *config.Config) execution.Checker {
	if !cfg.Execution.Sanitize {
		return nil
	}
	return sanitize.New()
}

// newPool returns nil when pooling is disabled
func newPool(cfg *config.Config, backend sandbox.Backend, registry *strategy.Registry, log *zap.Logger) *pool.Manager {
	if !cfg.Pool.Enabled {
		return nil
	}
	return pool.NewManager(backend, registry, cfg.Pool, log)
}

func newOrchestrator(
	cfg *config.Config,
	backend sandbox.Backend,
	registry *strategy.Registry,
	keywords *keyword.Service,
	manager *pool.Manager,
	log *zap.Logger,
) *execution.Orchestrator {
	var opts []execution.Option
	if manager != nil {
		opts = append(opts, execution.WithPool(manager))
	}
	return execution.NewOrchestrator(cfg, backend, registry, keywords, log, opts...)
}

func newGrader(o *execution.Orchestrator, engine *template.Engine, checker execution.Checker, log *zap.Logger) *execution.Grader {
	return execution.NewGrader(o, engine, checker, log)
}

func newMCPServer(
	cfg *config.Config,
	log *zap.Logger,
	grader *execution.Grader,
	keywords *keyword.Service,
	engine *template.Engine,
	manager *pool.Manager,
) (*mcpserver.MCPServer, error) {
	var stats mcpserver.PoolStats
	if manager != nil {
		stats = manager
	}
	return mcpserver.New(cfg, log, grader, keywords, engine, stats)
}

func newWorker(cfg *config.Config, grader *execution.Grader, log *zap.Logger) *natsworker.Worker {
	return natsworker.New(cfg, grader, log)
}

// registerBackend removes sandboxes left behind by a previous process
func registerBackend(lc fx.Lifecycle, backend sandbox.Backend, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			removed, err := backend.Prune(ctx)
			if err != nil {
				log.Warn("failed to prune stale sandboxes", zap.Error(err))
				return nil
			}
			if removed > 0 {
				log.Info("pruned stale sandboxes", zap.Int("removed", removed))
			}
			return nil
		},
	})
}

// registerPool prewarms the configured languages in the background and runs
// pool maintenance until shutdown.
func registerPool(lc fx.Lifecycle, cfg *config.Config, manager *pool.Manager, log *zap.Logger) {
	if manager == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				for _, language := range cfg.Pool.Prewarm {
					if err := manager.Initialize(ctx, language, "", cfg.Pool.InitialSize); err != nil {
						log.Error("failed to prewarm sandbox pool", zap.String("language", language), zap.Error(err))
					}
				}
				manager.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return manager.Close(stopCtx)
		},
	})
}

func registerWorker(lc fx.Lifecycle, cfg *config.Config, worker *natsworker.Worker) {
	if !cfg.NATS.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return worker.Start()
		},
		OnStop: worker.Stop,
	})
}

// registerTransport starts the MCP transport selected by server.transport.
// The application shuts down when the transport exits. With "none" the MCP
// server is not exposed and the process serves NATS only.
func registerTransport(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	server *mcpserver.MCPServer,
	log *zap.Logger,
) error {
	var serve func() error
	switch cfg.Server.Transport {
	case "stdio":
		serve = server.ServeStdio
	case "http":
		serve = server.ServeHTTP
	case "none":
		log.Info("MCP transport disabled")
		return nil
	default:
		return fmt.Errorf("unsupported transport: %s", cfg.Server.Transport)
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("MCP transport stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
					return
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cfg.Server.Transport != "http" {
				return nil
			}
			return server.Shutdown(ctx)
		},
	})
	return nil
}
