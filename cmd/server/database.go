package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/phrazzld/cutout/internal/config"
)

// usesDatabase reports whether any configured backend lives in Postgres.
func usesDatabase(cfg *config.Config) bool {
	return cfg.TaskStore.Backend == "postgres" || cfg.Queue.Backend == "postgres"
}

// setupAppDatabase connects to Postgres when a backend needs it. It returns
// a nil *sql.DB for all-memory configurations.
func setupAppDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	if !usesDatabase(cfg) {
		logger.Info("no postgres backend configured, skipping database connection")
		return nil, nil
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("Database connection established",
		"max_open_conns", cfg.Database.MaxOpenConns)
	return db, nil
}

// openDatabase opens and pings the configured database.
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
