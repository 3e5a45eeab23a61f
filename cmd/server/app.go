package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/phrazzld/cutout/internal/artifact"
	"github.com/phrazzld/cutout/internal/config"
	"github.com/phrazzld/cutout/internal/events"
	"github.com/phrazzld/cutout/internal/platform/filestore"
	"github.com/phrazzld/cutout/internal/platform/gemini"
	"github.com/phrazzld/cutout/internal/platform/memstore"
	"github.com/phrazzld/cutout/internal/platform/postgres"
	"github.com/phrazzld/cutout/internal/platform/s3store"
	"github.com/phrazzld/cutout/internal/service"
	"github.com/phrazzld/cutout/internal/store"
	"github.com/phrazzld/cutout/internal/sweeper"
	"github.com/phrazzld/cutout/internal/task"
	"github.com/phrazzld/cutout/internal/transform"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sql.DB

	// Stores and queue (using interfaces for proper abstraction)
	taskStore store.TaskStore
	artifacts artifact.Store
	queue     task.Broker

	transformer  transform.Transformer
	eventEmitter events.EventEmitter
	taskService  service.TaskService

	// Background processing; nil when the mode does not run them
	workerPool     *task.WorkerPool
	sweepScheduler *sweeper.Scheduler

	// Deliveries settled as retried or failed since startup
	retriedDeliveries atomic.Int64
	failedDeliveries  atomic.Int64
}

// newApplication creates a new application instance with all dependencies initialized.
// db may be nil when no backend lives in Postgres.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	var err error
	if app.taskStore, err = newTaskStore(cfg, db, logger); err != nil {
		return nil, err
	}
	if app.queue, err = newQueue(cfg, db, logger); err != nil {
		return nil, err
	}
	if app.artifacts, err = newArtifactStore(ctx, cfg); err != nil {
		return nil, err
	}

	app.taskService, err = service.NewTaskService(app.taskStore, app.artifacts, app.queue, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	// Lifecycle events are logged; other observers can register here.
	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(events.NewLogHandler(logger))
	app.eventEmitter = emitter

	if cfg.Server.Mode != "api" {
		if app.transformer, err = newTransformer(ctx, cfg, logger); err != nil {
			return nil, err
		}

		executor := task.NewExecutor(
			app.taskStore,
			app.artifacts,
			app.transformer,
			app.eventEmitter,
			executorConfig(cfg),
			logger,
		)
		app.workerPool = task.NewWorkerPool(app.queue, executor, task.WorkerPoolConfig{
			WorkerCount:     cfg.Worker.Count,
			ErrorBackoff:    task.DefaultWorkerPoolConfig().ErrorBackoff,
			PanicRetryDelay: cfg.Retry.Delay,
			SettleTimeout:   task.DefaultWorkerPoolConfig().SettleTimeout,
		}, logger)
		app.workerPool.SetErrorHandler(app.recordUnsuccessfulDelivery)

		if cfg.Sweeper.Enabled {
			app.sweepScheduler = sweeper.NewScheduler(
				sweeper.New(app.taskStore, app.artifacts, logger),
				cfg.Sweeper.Interval,
				sweeper.Options{MaxAge: cfg.Sweeper.MaxAge},
				logger,
			)
		}
	} else if cfg.Queue.Backend == "memory" {
		logger.Warn("api mode with the memory queue: submitted tasks are never executed")
	}

	logger.Info("Application initialized successfully",
		"mode", cfg.Server.Mode,
		"task_store", cfg.TaskStore.Backend,
		"queue", cfg.Queue.Backend,
		"artifacts", cfg.Artifacts.Backend,
		"transform", cfg.Transform.Backend)
	return app, nil
}

// recordUnsuccessfulDelivery counts deliveries that were retried or failed
// terminally.
func (app *application) recordUnsuccessfulDelivery(d *task.Delivery, res task.Result) {
	switch res.Outcome {
	case task.OutcomeRetry:
		app.retriedDeliveries.Add(1)
	case task.OutcomeFailed:
		app.failedDeliveries.Add(1)
	}
}

// executorConfig maps the worker and retry settings onto the executor.
func executorConfig(cfg *config.Config) task.ExecutorConfig {
	return task.ExecutorConfig{
		HardTimeLimit: cfg.Worker.HardTimeLimit,
		SoftTimeLimit: cfg.Worker.SoftTimeLimit,
		Retry: task.RetryPolicy{
			MaxRetries: cfg.Retry.MaxRetries,
			Delay:      cfg.Retry.Delay,
			Backoff:    cfg.Retry.Backoff,
			MaxDelay:   cfg.Retry.MaxDelay,
		},
	}
}

func newTaskStore(cfg *config.Config, db *sql.DB, logger *slog.Logger) (store.TaskStore, error) {
	switch cfg.TaskStore.Backend {
	case "postgres":
		if db == nil {
			return nil, errors.New("postgres task store requires a database connection")
		}
		return postgres.NewPostgresTaskStore(db, logger), nil
	case "memory":
		return memstore.NewTaskStore(), nil
	default:
		return nil, fmt.Errorf("unknown task store backend %q", cfg.TaskStore.Backend)
	}
}

func newQueue(cfg *config.Config, db *sql.DB, logger *slog.Logger) (task.Broker, error) {
	switch cfg.Queue.Backend {
	case "postgres":
		if db == nil {
			return nil, errors.New("postgres queue requires a database connection")
		}
		return postgres.NewQueue(db, postgres.QueueConfig{
			PollInterval:      cfg.Queue.PollInterval,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		}, logger), nil
	case "memory":
		return task.NewTaskQueue(cfg.Queue.Size, logger), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

func newArtifactStore(ctx context.Context, cfg *config.Config) (artifact.Store, error) {
	switch cfg.Artifacts.Backend {
	case "filesystem":
		s, err := filestore.New(cfg.Artifacts.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem artifact store: %w", err)
		}
		return s, nil
	case "s3":
		s, err := s3store.New(ctx, s3store.Config{
			Bucket:   cfg.Artifacts.S3.Bucket,
			Region:   cfg.Artifacts.S3.Region,
			Endpoint: cfg.Artifacts.S3.Endpoint,
			Prefix:   cfg.Artifacts.S3.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 artifact store: %w", err)
		}
		return s, nil
	case "memory":
		return memstore.NewArtifactStore(), nil
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Artifacts.Backend)
	}
}

func newTransformer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (transform.Transformer, error) {
	switch cfg.Transform.Backend {
	case "local":
		return transform.NewKeyer(cfg.Transform.Tolerance), nil
	case "gemini":
		t, err := gemini.NewTransformer(ctx, logger.With("component", "gemini_transformer"), gemini.Config{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gemini transformer: %w", err)
		}
		logger.Info("Gemini transformer initialized successfully", "model", cfg.Gemini.Model)
		return t, nil
	default:
		return nil, fmt.Errorf("unknown transform backend %q", cfg.Transform.Backend)
	}
}

// Run starts the background workers and the HTTP server and blocks until
// ctx is cancelled, then shuts everything down in order.
func (app *application) Run(ctx context.Context) error {
	app.startBackground()

	router := app.setupRouter()
	if err := app.startHTTPServer(ctx, router); err != nil {
		app.cleanup()
		return fmt.Errorf("server error: %w", err)
	}

	app.cleanup()
	return nil
}

// startBackground starts the worker pool and the sweep scheduler, if any.
func (app *application) startBackground() {
	if app.workerPool != nil {
		app.workerPool.Start()
	}
	if app.sweepScheduler != nil {
		app.sweepScheduler.Start()
	}
}

// cleanup handles graceful shutdown of application resources. In-flight
// tasks get the shutdown timeout to finish; unfinished deliveries are
// redelivered by a durable queue.
func (app *application) cleanup() {
	if app.sweepScheduler != nil {
		app.sweepScheduler.Stop()
	}

	if app.workerPool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		if err := app.workerPool.Stop(ctx); err != nil {
			app.logger.Warn("worker pool did not stop cleanly", "error", err)
		}
		cancel()
		app.logger.Info("worker pool stopped",
			"retried_deliveries", app.retriedDeliveries.Load(),
			"failed_deliveries", app.failedDeliveries.Load())
	}

	if app.queue != nil {
		if err := app.queue.Close(); err != nil {
			app.logger.Error("Error closing task queue", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
