package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/txtasks/internal/api"
	"github.com/phrazzld/txtasks/internal/config"
	"github.com/phrazzld/txtasks/internal/deferred"
	"github.com/phrazzld/txtasks/internal/job"
	"github.com/phrazzld/txtasks/internal/platform/postgres"
	"github.com/phrazzld/txtasks/internal/platform/redis"
	"github.com/phrazzld/txtasks/internal/store"
	"github.com/phrazzld/txtasks/internal/task"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	registry *task.Registry
	tx       *store.TxManager
	ledger   *postgres.PostgresRequestStore
	client   *deferred.Client

	// Exactly one backend is set, matching cfg.Broker.Backend.
	local       *task.LocalDispatcher
	redisClient *goredis.Client
	broker      *redis.Broker

	consumers sync.WaitGroup
}

// newApplication creates a new application instance with all dependencies initialized.
// It accepts core dependencies like configuration, logger, and database connection that
// must be established before application initialization.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB, registry *task.Registry) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: registry,
	}

	app.tx = store.NewTxManager(db,
		store.WithResource(cfg.Database.Alias),
		store.WithTxLogger(logger),
		store.WithObserver(deferred.NewObserver(logger)),
	)
	app.ledger = postgres.NewPostgresRequestStore(db)

	dispatcher, err := app.setupBackend()
	if err != nil {
		return nil, err
	}
	app.client = deferred.NewClient(dispatcher, deferred.ResourceID(cfg.Database.Alias))

	logger.Info("Application initialized successfully",
		"backend", cfg.Broker.Backend,
		"jobs", registry.Names())
	return app, nil
}

// setupBackend builds the job backend selected by configuration.
func (app *application) setupBackend() (job.Dispatcher, error) {
	cfg := app.config.Broker
	switch cfg.Backend {
	case "redis":
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		app.redisClient = goredis.NewClient(opts)
		app.broker = redis.NewBroker(app.redisClient,
			redis.WithKeyPrefix(cfg.KeyPrefix),
			redis.WithDefaultQueue(cfg.DefaultQueue),
			redis.WithLogger(app.logger))
		return app.broker, nil

	case "local":
		app.local = task.NewLocalDispatcher(app.registry, task.RunnerConfig{
			WorkerCount: app.config.Worker.Count,
			QueueSize:   app.config.Worker.QueueSize,
		}, app.logger)
		return app.local, nil

	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.Backend)
	}
}

// healthChecks returns the dependency checks served on /health.
func (app *application) healthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"database": app.db.PingContext,
	}
	if app.broker != nil {
		checks["broker"] = app.broker.Ping
	}
	return checks
}

// startWorkers starts job execution for the configured backend. Redis
// consumers run until ctx is cancelled.
func (app *application) startWorkers(ctx context.Context) error {
	if app.local != nil {
		app.local.Start()
		return nil
	}

	if err := app.broker.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	for i := 0; i < app.config.Worker.Count; i++ {
		c := redis.NewConsumer(app.broker, app.registry, app.config.Queues(),
			app.logger.With("consumer_id", i))
		app.consumers.Add(1)
		go func() {
			defer app.consumers.Done()
			if err := c.Run(ctx); err != nil {
				app.logger.Error("consumer stopped with error", "error", err)
			}
		}()
	}
	return nil
}

// Run starts the workers and the HTTP server, blocking until ctx is cancelled.
func (app *application) Run(ctx context.Context) error {
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	if err := app.startWorkers(workerCtx); err != nil {
		app.cleanup(context.Background())
		return err
	}

	serveErr := app.startHTTPServer(ctx, app.setupRouter())

	stopWorkers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	app.cleanup(shutdownCtx)

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup(ctx context.Context) {
	if app.local != nil {
		if err := app.local.Stop(ctx); err != nil {
			app.logger.Error("Error stopping local dispatcher", "error", err)
		}
	}

	app.consumers.Wait()

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			app.logger.Error("Error closing redis client", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
