package store

import (
	"context"
	"time"

	"github.com/phrazzld/cutout/internal/domain"
)

// TaskStore defines the interface for task record persistence.
// Every mutating call is atomic with respect to concurrent calls on the
// same ID; implementations never expose a partially written task.
// Version: 1.0
type TaskStore interface {
	// Create inserts a pending task with the caller-supplied ID.
	// Returns ErrTaskExists if the ID is taken.
	Create(ctx context.Context, id string) (*domain.Task, error)

	// Get retrieves a task by ID.
	// Returns ErrTaskNotFound if the task does not exist.
	Get(ctx context.Context, id string) (*domain.Task, error)

	// MarkProcessing moves a pending or failed task to processing and
	// returns the resulting task. A task that is already processing or
	// completed is returned unchanged.
	// Returns ErrTaskNotFound if the task does not exist.
	MarkProcessing(ctx context.Context, id string) (*domain.Task, error)

	// MarkCompleted records the result locator and completion time.
	// Completing a completed task again only replaces the locator.
	// Returns ErrTaskNotFound if the task does not exist.
	MarkCompleted(ctx context.Context, id string, locator string) (*domain.Task, error)

	// MarkFailed records the error detail and completion time.
	// Returns ErrInvalidTransition if the task is already completed and
	// ErrTaskNotFound if it does not exist.
	MarkFailed(ctx context.Context, id string, detail string) (*domain.Task, error)

	// ListOlderThan returns every task created more than age ago,
	// regardless of status, in no particular order.
	ListOlderThan(ctx context.Context, age time.Duration) ([]*domain.Task, error)

	// Delete removes a task and returns it as it was at removal, so the
	// caller sees a result locator recorded after any earlier read.
	// Deleting a missing task returns nil and no error.
	Delete(ctx context.Context, id string) (*domain.Task, error)
}
