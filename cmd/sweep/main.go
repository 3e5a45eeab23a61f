// Package main implements the retention sweep command. It deletes tasks
// older than a threshold together with their artifacts, or with -dry-run
// only reports what would be deleted.
//
// Usage:
//
//	sweep [-config path] [-max-age 1h | -hours N] [-dry-run] [-format text|json|yaml]
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"gopkg.in/yaml.v3"

	"github.com/phrazzld/cutout/internal/artifact"
	"github.com/phrazzld/cutout/internal/config"
	"github.com/phrazzld/cutout/internal/platform/filestore"
	"github.com/phrazzld/cutout/internal/platform/logger"
	"github.com/phrazzld/cutout/internal/platform/postgres"
	"github.com/phrazzld/cutout/internal/platform/s3store"
	"github.com/phrazzld/cutout/internal/store"
	"github.com/phrazzld/cutout/internal/sweeper"
)

// sampleIDLength is how much of each sampled task ID the text report shows.
const sampleIDLength = 8

type options struct {
	configPath string
	maxAge     time.Duration
	hours      int
	dryRun     bool
	format     string
	sampleSize int
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	flag.DurationVar(&opts.maxAge, "max-age", 0, "delete tasks older than this (default sweeper.max_age)")
	flag.IntVar(&opts.hours, "hours", 0, "delete tasks older than this many hours; overrides -max-age")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "report what would be deleted without deleting anything")
	flag.StringVar(&opts.format, "format", "text", "report format: text, json or yaml")
	flag.IntVar(&opts.sampleSize, "sample", sweeper.DefaultSampleSize, "number of task IDs listed in a dry run")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		log.Fatalf("sweep: %v", err)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if err := validateFormat(opts.format); err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Logs go to stderr so the report on stdout stays machine-readable.
	l, err := logger.SetupWithWriter(cfg.Server, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	tasks, db, err := openTaskStore(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	artifacts, err := openArtifactStore(ctx, cfg)
	if err != nil {
		return err
	}

	report, err := sweeper.New(tasks, artifacts, l).Sweep(ctx, sweeper.Options{
		MaxAge:     resolveMaxAge(opts, cfg.Sweeper.MaxAge),
		DryRun:     opts.dryRun,
		SampleSize: opts.sampleSize,
	})
	if err != nil {
		return err
	}

	return writeReport(out, report, opts.format)
}

// resolveMaxAge applies -hours over -max-age over the configured default.
func resolveMaxAge(opts options, configured time.Duration) time.Duration {
	switch {
	case opts.hours > 0:
		return time.Duration(opts.hours) * time.Hour
	case opts.maxAge > 0:
		return opts.maxAge
	default:
		return configured
	}
}

func validateFormat(format string) error {
	switch format {
	case "text", "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unknown format %q: want text, json or yaml", format)
	}
}

// openTaskStore connects to the durable task store. An in-memory store has
// nothing to sweep from a separate process, so it is rejected.
func openTaskStore(ctx context.Context, cfg *config.Config, l *slog.Logger) (store.TaskStore, *sql.DB, error) {
	if cfg.TaskStore.Backend != "postgres" {
		return nil, nil, errors.New("sweep needs the postgres task store; the memory store is swept inside the server")
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return postgres.NewPostgresTaskStore(db, l), db, nil
}

func openArtifactStore(ctx context.Context, cfg *config.Config) (artifact.Store, error) {
	switch cfg.Artifacts.Backend {
	case "filesystem":
		return filestore.New(cfg.Artifacts.Dir)
	case "s3":
		return s3store.New(ctx, s3store.Config{
			Bucket:   cfg.Artifacts.S3.Bucket,
			Region:   cfg.Artifacts.S3.Region,
			Endpoint: cfg.Artifacts.S3.Endpoint,
			Prefix:   cfg.Artifacts.S3.Prefix,
		})
	default:
		return nil, fmt.Errorf("sweep cannot reach the %s artifact backend from a separate process", cfg.Artifacts.Backend)
	}
}

// writeReport renders report in the requested format.
func writeReport(w io.Writer, report *sweeper.Report, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err := io.WriteString(w, formatText(report))
		return err
	}
}

func formatText(report *sweeper.Report) string {
	var b strings.Builder
	cutoff := report.Cutoff.Format(time.RFC3339)

	if report.DryRun {
		fmt.Fprintf(&b, "DRY RUN: would delete %d tasks created before %s\n", report.Matched, cutoff)
		for _, entry := range report.Sample {
			fmt.Fprintf(&b, "  - %s... (%s)\n", shortID(entry.ID), entry.Status)
		}
		if more := report.Matched - len(report.Sample); more > 0 {
			fmt.Fprintf(&b, "  ... and %d more\n", more)
		}
		return b.String()
	}

	if report.Matched == 0 {
		fmt.Fprintf(&b, "No tasks created before %s\n", cutoff)
		return b.String()
	}

	fmt.Fprintf(&b, "Deleted %d of %d tasks created before %s\n", report.TasksDeleted, report.Matched, cutoff)
	fmt.Fprintf(&b, "Artifacts deleted: %d\n", report.ArtifactsDeleted)
	fmt.Fprintf(&b, "Artifacts already missing: %d\n", report.ArtifactsMissing)
	if report.ArtifactErrors > 0 || report.TaskErrors > 0 {
		fmt.Fprintf(&b, "Errors: %d artifact, %d task (see log)\n", report.ArtifactErrors, report.TaskErrors)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) <= sampleIDLength {
		return id
	}
	return id[:sampleIDLength]
}
