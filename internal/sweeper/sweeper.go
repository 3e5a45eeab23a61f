// Package sweeper purges tasks older than a retention threshold together
// with their artifacts.
//
// Tasks are selected by age alone, so a task stuck in pending or processing
// is purged once it passes the threshold like any other. Failures on a single
// task or artifact are counted in the Report and never abort the sweep.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/cutout/internal/artifact"
	"github.com/phrazzld/cutout/internal/domain"
	"github.com/phrazzld/cutout/internal/redact"
	"github.com/phrazzld/cutout/internal/store"
)

// Defaults for Options.
const (
	DefaultMaxAge     = time.Hour
	DefaultSampleSize = 10
)

// Options controls one sweep.
type Options struct {
	// MaxAge is the retention threshold; tasks created earlier than
	// now-MaxAge are purged. Zero means DefaultMaxAge.
	MaxAge time.Duration
	// DryRun reports what would be deleted without touching either store.
	DryRun bool
	// SampleSize bounds Report.Sample. Zero means DefaultSampleSize.
	SampleSize int
}

// SampleEntry identifies one matched task in a report.
type SampleEntry struct {
	ID     string            `json:"id" yaml:"id"`
	Status domain.TaskStatus `json:"status" yaml:"status"`
}

// Report summarizes a sweep.
type Report struct {
	Cutoff  time.Time     `json:"cutoff" yaml:"cutoff"`
	DryRun  bool          `json:"dry_run" yaml:"dry_run"`
	Matched int           `json:"matched" yaml:"matched"`
	Sample  []SampleEntry `json:"sample,omitempty" yaml:"sample,omitempty"`

	TasksDeleted     int `json:"tasks_deleted" yaml:"tasks_deleted"`
	ArtifactsDeleted int `json:"artifacts_deleted" yaml:"artifacts_deleted"`
	ArtifactsMissing int `json:"artifacts_missing" yaml:"artifacts_missing"`
	ArtifactErrors   int `json:"artifact_errors" yaml:"artifact_errors"`
	TaskErrors       int `json:"task_errors" yaml:"task_errors"`
}

// Sweeper deletes expired tasks and their artifacts.
type Sweeper struct {
	tasks     store.TaskStore
	artifacts artifact.Store
	logger    *slog.Logger

	// Now returns the current time for Report.Cutoff. The store applies its
	// own clock when selecting tasks.
	Now func() time.Time
}

// New creates a Sweeper.
func New(tasks store.TaskStore, artifacts artifact.Store, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		tasks:     tasks,
		artifacts: artifacts,
		logger:    logger.With("component", "sweeper"),
		Now:       time.Now,
	}
}

// Sweep runs one retention pass. Only a failure to list the expired tasks
// is returned as an error.
func (s *Sweeper) Sweep(ctx context.Context, opts Options) (*Report, error) {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}

	expired, err := s.tasks.ListOlderThan(ctx, opts.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired tasks: %w", err)
	}

	report := &Report{
		Cutoff:  s.Now().UTC().Add(-opts.MaxAge),
		DryRun:  opts.DryRun,
		Matched: len(expired),
	}
	for i, t := range expired {
		if i == opts.SampleSize {
			break
		}
		report.Sample = append(report.Sample, SampleEntry{ID: t.ID, Status: t.Status})
	}

	if opts.DryRun {
		s.logger.Info("dry run: tasks eligible for deletion",
			"max_age", opts.MaxAge.String(),
			"matched", report.Matched)
		return report, nil
	}

	for _, t := range expired {
		if ctx.Err() != nil {
			// Whatever was not reached is picked up by the next sweep.
			break
		}
		s.purge(ctx, t, report)
	}

	s.logger.Info("sweep finished",
		"max_age", opts.MaxAge.String(),
		"matched", report.Matched,
		"tasks_deleted", report.TasksDeleted,
		"artifacts_deleted", report.ArtifactsDeleted,
		"artifacts_missing", report.ArtifactsMissing,
		"artifact_errors", report.ArtifactErrors,
		"task_errors", report.TaskErrors)
	return report, nil
}

// purge deletes one task's artifact and then its row. The row is kept when
// the artifact could not be deleted so the next sweep can try again. The
// row returned by the delete is checked once more: a task listed while
// processing may have completed since, leaving a newer artifact behind.
func (s *Sweeper) purge(ctx context.Context, t *domain.Task, report *Report) {
	log := s.logger.With("task_id", t.ID, "status", string(t.Status))

	if t.ResultLocator != "" && !s.deleteArtifact(ctx, log, t.ResultLocator, report) {
		return
	}

	removed, err := s.tasks.Delete(ctx, t.ID)
	if err != nil {
		report.TaskErrors++
		log.Error("failed to delete task",
			"error_kind", "storage",
			"error", redact.Error(err))
		return
	}
	report.TasksDeleted++

	if removed != nil && removed.ResultLocator != "" && removed.ResultLocator != t.ResultLocator {
		log.Debug("task completed after it was listed", "result_locator", removed.ResultLocator)
		s.deleteArtifact(ctx, log, removed.ResultLocator, report)
	}
}

// deleteArtifact deletes one artifact and records the outcome. It reports
// whether the artifact is gone.
func (s *Sweeper) deleteArtifact(ctx context.Context, log *slog.Logger, locator string, report *Report) bool {
	err := s.artifacts.Delete(ctx, locator)
	switch {
	case err == nil:
		report.ArtifactsDeleted++
		return true
	case errors.Is(err, artifact.ErrNotFound):
		report.ArtifactsMissing++
		log.Debug("artifact already missing", "result_locator", locator)
		return true
	default:
		report.ArtifactErrors++
		log.Error("failed to delete artifact",
			"result_locator", locator,
			"error_kind", "storage",
			"error", redact.Error(err))
		return false
	}
}
