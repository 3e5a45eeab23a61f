package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cutout/internal/platform/logger"
	"github.com/phrazzld/cutout/internal/store"
	"github.com/phrazzld/cutout/internal/task"
)

// QueueConfig controls polling and leasing of the Postgres work queue.
type QueueConfig struct {
	// PollInterval is how long Dequeue waits between empty polls.
	PollInterval time.Duration

	// VisibilityTimeout is how long a leased delivery stays hidden. A
	// delivery that is neither acknowledged nor retried within it is
	// delivered again with the next attempt number. It must be longer than
	// the executor's hard time limit.
	VisibilityTimeout time.Duration
}

// DefaultQueueConfig returns a 500ms poll interval and a 6 minute
// visibility timeout.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		PollInterval:      500 * time.Millisecond,
		VisibilityTimeout: 6 * time.Minute,
	}
}

// Queue is a task.Broker backed by the task_deliveries table. Deliveries are
// leased with SELECT ... FOR UPDATE SKIP LOCKED, so any number of worker
// processes can share one queue.
type Queue struct {
	db     *sql.DB
	config QueueConfig
	logger *slog.Logger

	// now returns the current time; tests replace it.
	now func() time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// Ensure Queue implements task.Broker interface
var _ task.Broker = (*Queue)(nil)

// NewQueue creates a Postgres-backed broker.
func NewQueue(db *sql.DB, config QueueConfig, logger *slog.Logger) *Queue {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultQueueConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = defaults.VisibilityTimeout
	}

	return &Queue{
		db:     db,
		config: config,
		logger: logger.With(slog.String("component", "postgres_queue")),
		now:    func() time.Time { return time.Now().UTC() },
		done:   make(chan struct{}),
	}
}

func (q *Queue) closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Enqueue implements task.Broker.Enqueue
func (q *Queue) Enqueue(ctx context.Context, p task.Payload) error {
	if q.closed() {
		return task.ErrQueueClosed
	}
	log := logger.FromContextOrDefault(ctx, q.logger)

	now := q.now()
	query := `
		INSERT INTO task_deliveries (id, task_id, input, attempt, available_at, created_at)
		VALUES ($1, $2, $3, 0, $4, $4)
	`
	if _, err := q.db.ExecContext(ctx, query, uuid.New(), p.TaskID, p.Input, now); err != nil {
		log.Error("failed to enqueue task",
			slog.String("task_id", p.TaskID),
			slog.String("error_kind", "storage"),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	log.Debug("task enqueued", slog.String("task_id", p.TaskID))
	return nil
}

// Dequeue implements task.Broker.Dequeue
// It polls until a delivery is available, ctx is done, or the queue is closed.
func (q *Queue) Dequeue(ctx context.Context) (*task.Delivery, error) {
	for {
		if q.closed() {
			return nil, task.ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		d, err := q.lease(ctx)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}

		timer := time.NewTimer(q.config.PollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.done:
			timer.Stop()
			return nil, task.ErrQueueClosed
		}
	}
}

// lease claims the oldest available delivery, or returns nil when there is
// none. Claiming bumps the attempt number and hides the delivery for the
// visibility timeout.
func (q *Queue) lease(ctx context.Context) (*task.Delivery, error) {
	var d *task.Delivery

	err := store.RunInTransaction(ctx, q.db, func(ctx context.Context, tx *sql.Tx) error {
		now := q.now()

		var (
			id      uuid.UUID
			payload task.Payload
			attempt int
		)
		selectQuery := `
			SELECT id, task_id, input, attempt
			FROM task_deliveries
			WHERE available_at <= $1
			ORDER BY available_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`
		err := tx.QueryRowContext(ctx, selectQuery, now).Scan(&id, &payload.TaskID, &payload.Input, &attempt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return MapError(err)
		}

		updateQuery := `
			UPDATE task_deliveries
			SET attempt = attempt + 1, available_at = $2
			WHERE id = $1
		`
		if _, err := tx.ExecContext(ctx, updateQuery, id, now.Add(q.config.VisibilityTimeout)); err != nil {
			return MapError(err)
		}

		d = &task.Delivery{ID: id.String(), Payload: payload, Attempt: attempt + 1}
		return nil
	})
	if err != nil {
		if !isContextError(err) {
			q.logger.Error("failed to lease delivery",
				slog.String("error_kind", "storage"),
				slog.String("error", err.Error()))
		}
		return nil, err
	}

	if d != nil && d.Attempt > 1 {
		q.logger.Debug("redelivering task",
			slog.String("task_id", d.Payload.TaskID),
			slog.Int("attempt", d.Attempt))
	}
	return d, nil
}

// Ack implements task.Broker.Ack
// Only the current lease can be acknowledged: once a delivery has been
// leased again after its visibility timeout, the stale holder gets
// task.ErrUnknownDelivery.
func (q *Queue) Ack(ctx context.Context, d *task.Delivery) error {
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM task_deliveries WHERE id = $1 AND attempt = $2`,
		d.ID, d.Attempt)
	return q.settled(ctx, "ack", d, result, err)
}

// Retry implements task.Broker.Retry
// The attempt number grows when the delivery is next leased.
func (q *Queue) Retry(ctx context.Context, d *task.Delivery, delay time.Duration) error {
	result, err := q.db.ExecContext(ctx,
		`UPDATE task_deliveries SET available_at = $3 WHERE id = $1 AND attempt = $2`,
		d.ID, d.Attempt, q.now().Add(delay))
	return q.settled(ctx, "retry", d, result, err)
}

// Release implements task.Broker.Release
// The attempt counter steps back so the next lease repeats this attempt.
func (q *Queue) Release(ctx context.Context, d *task.Delivery) error {
	result, err := q.db.ExecContext(ctx,
		`UPDATE task_deliveries SET attempt = attempt - 1, available_at = $3 WHERE id = $1 AND attempt = $2`,
		d.ID, d.Attempt, q.now())
	return q.settled(ctx, "release", d, result, err)
}

func (q *Queue) settled(ctx context.Context, op string, d *task.Delivery, result sql.Result, err error) error {
	log := logger.FromContextOrDefault(ctx, q.logger)
	if err != nil {
		log.Error("failed to settle delivery",
			slog.String("operation", op),
			slog.String("task_id", d.Payload.TaskID),
			slog.String("error_kind", "storage"),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	if err := CheckRowsAffected(result, "delivery"); err != nil {
		if store.IsNotFoundError(err) {
			return fmt.Errorf("%w: %s (attempt %d)", task.ErrUnknownDelivery, d.ID, d.Attempt)
		}
		return err
	}
	return nil
}

// Pending returns the number of deliveries in the table, leased or not.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT count(*) FROM task_deliveries`).Scan(&n); err != nil {
		return 0, MapError(err)
	}
	return n, nil
}

// Close implements task.Broker.Close
// It wakes blocked Dequeue calls. Stored deliveries are kept for the next
// process.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
		q.logger.Info("task queue closed")
	})
	return nil
}
