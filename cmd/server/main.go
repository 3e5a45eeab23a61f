// Package main implements the cutout server: the HTTP API for submitting
// and polling image tasks, the worker pool that executes them, and the
// periodic retention sweeper. Which parts run is chosen with -mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/phrazzld/cutout/internal/config"
	"github.com/phrazzld/cutout/internal/platform/logger"
	"github.com/phrazzld/cutout/internal/platform/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default ./config.yaml if present)")
	migrateCmd := flag.String("migrate", "", "run a goose migration command (up, down, status, version, reset) and exit")
	mode := flag.String("mode", "", "override server.mode: all, api or worker")
	flag.Parse()

	if err := run(*configPath, *migrateCmd, *mode, flag.Args()); err != nil {
		log.Fatalf("cutout server: %v", err)
	}
}

// run loads configuration and either runs a migration command or the
// application until SIGINT or SIGTERM.
func run(configPath, migrateCmd, mode string, args []string) error {
	cfg, err := loadAppConfig(configPath, mode)
	if err != nil {
		return err
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if migrateCmd != "" {
		return runMigrations(ctx, cfg, l, migrateCmd, args)
	}

	db, err := setupAppDatabase(ctx, cfg, l)
	if err != nil {
		return err
	}

	app, err := newApplication(ctx, cfg, l, db)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(ctx)
}

// loadAppConfig loads the configuration and applies the -mode override.
func loadAppConfig(path, mode string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if mode != "" {
		cfg.Server.Mode = mode
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// runMigrations applies a goose command against the configured database.
func runMigrations(ctx context.Context, cfg *config.Config, l *slog.Logger, command string, args []string) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required to run migrations")
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	l.Info("running database migrations", "command", command)
	if err := postgres.Migrate(ctx, db, command, l, args...); err != nil {
		return fmt.Errorf("migration %q failed: %w", command, err)
	}
	l.Info("database migrations finished", "command", command)
	return nil
}
