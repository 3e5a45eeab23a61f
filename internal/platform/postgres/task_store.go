package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/cutout/internal/domain"
	"github.com/phrazzld/cutout/internal/platform/logger"
	"github.com/phrazzld/cutout/internal/store"
)

// taskColumns is the column list every task query returns, in scan order.
const taskColumns = `id, status, result_locator, error_detail, created_at, completed_at, updated_at`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
// Every method is a single statement, so concurrent callers never observe a
// partially written task.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger

	// now returns the current time; tests replace it.
	now func() time.Time
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t           domain.Task
		status      string
		locator     sql.NullString
		detail      sql.NullString
		completedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &status, &locator, &detail, &t.CreatedAt, &completedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}

	t.Status = domain.TaskStatus(status)
	t.ResultLocator = locator.String
	t.ErrorDetail = detail.String
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if completedAt.Valid {
		c := completedAt.Time.UTC()
		t.CompletedAt = &c
	}
	return &t, nil
}

// fail logs a database error and maps it to a store error.
func (s *PostgresTaskStore) fail(log *slog.Logger, op, id string, err error) error {
	mapped := MapError(err)
	switch {
	case IsCheckConstraintViolation(err):
		// The row would break a lifecycle invariant.
		log.Error("task row rejected by lifecycle constraint",
			slog.String("operation", op),
			slog.String("task_id", id),
			slog.String("error", err.Error()))
		return mapped
	case store.IsNotFoundError(mapped), store.IsDuplicateError(mapped),
		errors.Is(mapped, store.ErrInvalidTransition):
		log.Debug("task operation rejected",
			slog.String("operation", op),
			slog.String("task_id", id),
			slog.String("error", err.Error()))
		return mapped
	case isContextError(err):
		log.Warn("task operation cancelled",
			slog.String("operation", op),
			slog.String("task_id", id))
	default:
		log.Error("task operation failed",
			slog.String("operation", op),
			slog.String("task_id", id),
			slog.String("error_kind", "storage"),
			slog.String("error", err.Error()))
	}
	return store.NewStoreError("task", op, "database error", mapped)
}

// Create implements store.TaskStore.Create
// It inserts a pending task with the caller-supplied ID.
// Returns store.ErrTaskExists if the ID is already taken.
func (s *PostgresTaskStore) Create(ctx context.Context, id string) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	task, err := domain.NewTask(id, s.now())
	if err != nil {
		log.Warn("task validation failed during create",
			slog.String("task_id", id),
			slog.String("error", err.Error()))
		return nil, err
	}

	query := `
		INSERT INTO tasks (id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING ` + taskColumns

	created, err := scanTask(s.db.QueryRowContext(ctx, query, task.ID, string(task.Status), task.CreatedAt))
	if err != nil {
		if IsUniqueViolation(err) {
			log.Debug("task already exists", slog.String("task_id", id))
			return nil, fmt.Errorf("%w: %s", store.ErrTaskExists, id)
		}
		return nil, s.fail(log, "create", id, err)
	}

	log.Debug("task created", slog.String("task_id", id))
	return created, nil
}

// Get implements store.TaskStore.Get
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, s.fail(log, "get", id, err)
	}
	return task, nil
}

// MarkProcessing implements store.TaskStore.MarkProcessing
// Only pending and failed tasks change; for any other status the current
// task is returned as it is.
func (s *PostgresTaskStore) MarkProcessing(ctx context.Context, id string) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET status = 'processing', error_detail = NULL, completed_at = NULL, updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'failed')
		RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id, s.now()))
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, s.fail(log, "mark_processing", id, err)
	}

	// Either the task is gone or it is already processing or completed.
	return s.Get(ctx, id)
}

// MarkCompleted implements store.TaskStore.MarkCompleted
// Completing a completed task with the same locator leaves the row alone;
// with another locator only the locator changes.
func (s *PostgresTaskStore) MarkCompleted(ctx context.Context, id string, locator string) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if locator == "" {
		return nil, domain.ErrEmptyLocator
	}

	query := `
		UPDATE tasks
		SET status = 'completed',
			result_locator = $2,
			error_detail = NULL,
			completed_at = CASE
				WHEN status = 'completed' AND completed_at IS NOT NULL THEN completed_at
				ELSE $3
			END,
			updated_at = $3
		WHERE id = $1
			AND (status <> 'completed' OR result_locator IS DISTINCT FROM $2)
		RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id, locator, s.now()))
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, s.fail(log, "mark_completed", id, err)
	}

	// Either the task is gone or it already completed with this locator.
	return s.Get(ctx, id)
}

// MarkFailed implements store.TaskStore.MarkFailed
// Returns store.ErrInvalidTransition if the task is already completed.
func (s *PostgresTaskStore) MarkFailed(ctx context.Context, id string, detail string) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET status = 'failed',
			error_detail = $2,
			result_locator = NULL,
			completed_at = CASE
				WHEN status = 'failed' AND completed_at IS NOT NULL THEN completed_at
				ELSE $3
			END,
			updated_at = $3
		WHERE id = $1 AND status <> 'completed'
		RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id, detail, s.now()))
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, s.fail(log, "mark_failed", id, err)
	}

	// No row matched: the task is missing or completed.
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: cannot fail completed task %s", store.ErrInvalidTransition, id)
}

// ListOlderThan implements store.TaskStore.ListOlderThan
func (s *PostgresTaskStore) ListOlderThan(ctx context.Context, age time.Duration) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	cutoff := s.now().Add(-age)
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE created_at < $1 ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, s.fail(log, "list_older_than", "", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, s.fail(log, "list_older_than", "", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(log, "list_older_than", "", err)
	}

	log.Debug("listed expired tasks",
		slog.Time("cutoff", cutoff),
		slog.Int("count", len(tasks)))
	return tasks, nil
}

// Delete implements store.TaskStore.Delete
// It returns the row as it was at deletion time, or nil when the task did
// not exist. Deleting a task that does not exist is not an error.
func (s *PostgresTaskStore) Delete(ctx context.Context, id string) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `DELETE FROM tasks WHERE id = $1
		RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, s.fail(log, "delete", id, err)
	}
	return task, nil
}
