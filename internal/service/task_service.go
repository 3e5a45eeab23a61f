package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cutout/internal/artifact"
	"github.com/phrazzld/cutout/internal/domain"
	"github.com/phrazzld/cutout/internal/platform/logger"
	"github.com/phrazzld/cutout/internal/redact"
	"github.com/phrazzld/cutout/internal/store"
	"github.com/phrazzld/cutout/internal/task"
)

// Enqueuer hands a payload to the work queue. task.Broker implementations
// satisfy it.
type Enqueuer interface {
	Enqueue(ctx context.Context, p task.Payload) error
}

// StatusView is the submitter-facing projection of a task. Only the field
// that belongs to the current status is set; the others are omitted.
type StatusView struct {
	TaskID        string            `json:"task_id"`
	Status        domain.TaskStatus `json:"status"`
	ResultLocator *string           `json:"result_locator,omitempty"`
	ErrorDetail   *string           `json:"error_detail,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// NewStatusView projects t onto the polling contract.
func NewStatusView(t *domain.Task) *StatusView {
	v := &StatusView{
		TaskID:      t.ID,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
	switch t.Status {
	case domain.TaskStatusCompleted:
		locator := t.ResultLocator
		v.ResultLocator = &locator
	case domain.TaskStatusFailed:
		detail := t.ErrorDetail
		v.ErrorDetail = &detail
	}
	return v
}

// TaskService provides task submission and polling operations
type TaskService interface {
	// Submit creates a pending task and enqueues its input. An empty id is
	// replaced by a generated UUID.
	// Returns ErrTaskExists if the id was already submitted.
	Submit(ctx context.Context, id string, input []byte) (*domain.Task, error)

	// GetStatus returns the current state of a task. It has no side effects.
	// Returns ErrTaskNotFound if the id is unknown.
	GetStatus(ctx context.Context, id string) (*StatusView, error)

	// GetResult returns the artifact of a completed task.
	// Returns ErrTaskNotFound, ErrTaskNotCompleted or ErrResultMissing.
	GetResult(ctx context.Context, id string) ([]byte, error)
}

// taskServiceImpl implements the TaskService interface
type taskServiceImpl struct {
	tasks     store.TaskStore
	artifacts artifact.Store
	queue     Enqueuer
	logger    *slog.Logger
}

// NewTaskService creates a new TaskService
// It returns an error if any of the required dependencies are nil.
func NewTaskService(
	tasks store.TaskStore,
	artifacts artifact.Store,
	queue Enqueuer,
	logger *slog.Logger,
) (TaskService, error) {
	if tasks == nil {
		return nil, &TaskServiceError{Operation: "create_service", Message: "task store cannot be nil"}
	}
	if artifacts == nil {
		return nil, &TaskServiceError{Operation: "create_service", Message: "artifact store cannot be nil"}
	}
	if queue == nil {
		return nil, &TaskServiceError{Operation: "create_service", Message: "queue cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &taskServiceImpl{
		tasks:     tasks,
		artifacts: artifacts,
		queue:     queue,
		logger:    logger.With("component", "task_service"),
	}, nil
}

// Submit creates the task record first and enqueues second, so a worker
// never sees a payload without a record. If the enqueue fails the record is
// marked failed so pollers do not wait on a task nobody will run.
func (s *taskServiceImpl) Submit(ctx context.Context, id string, input []byte) (*domain.Task, error) {
	if id == "" {
		id = uuid.NewString()
	}
	log := logger.FromContextOrDefault(ctx, s.logger).With("task_id", id)

	if len(input) == 0 {
		return nil, ErrEmptyInput
	}
	if err := domain.ValidateTaskID(id); err != nil {
		return nil, err
	}

	t, err := s.tasks.Create(ctx, id)
	if err != nil {
		if store.IsDuplicateError(err) {
			log.Info("rejected duplicate task submission")
		} else {
			log.Error("failed to create task", "error", redact.Error(err))
		}
		return nil, NewTaskServiceError("submit", "failed to create task", err)
	}

	if err := s.queue.Enqueue(ctx, task.Payload{TaskID: id, Input: input}); err != nil {
		log.Error("failed to enqueue task", "error", redact.Error(err))
		detail := redact.Detail(fmt.Sprintf("EnqueueFailed: %v", err))
		if _, markErr := s.tasks.MarkFailed(ctx, id, detail); markErr != nil {
			log.Error("failed to mark unqueued task as failed",
				"error_kind", "storage",
				"error", redact.Error(markErr))
		}
		return nil, NewTaskServiceError("submit", "failed to enqueue task", err)
	}

	log.Info("task submitted", "input_bytes", len(input))
	return t, nil
}

// GetStatus implements TaskService.GetStatus
func (s *taskServiceImpl) GetStatus(ctx context.Context, id string) (*StatusView, error) {
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		if !store.IsNotFoundError(err) {
			logger.FromContextOrDefault(ctx, s.logger).Error("failed to retrieve task",
				"task_id", id,
				"error", redact.Error(err))
		}
		return nil, NewTaskServiceError("get_status", "failed to retrieve task", err)
	}
	return NewStatusView(t), nil
}

// GetResult implements TaskService.GetResult
func (s *taskServiceImpl) GetResult(ctx context.Context, id string) ([]byte, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With("task_id", id)

	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		if !store.IsNotFoundError(err) {
			log.Error("failed to retrieve task", "error", redact.Error(err))
		}
		return nil, NewTaskServiceError("get_result", "failed to retrieve task", err)
	}
	if t.Status != domain.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrTaskNotCompleted, t.Status)
	}

	data, err := s.artifacts.Get(ctx, t.ResultLocator)
	if err != nil {
		log.Warn("failed to read task result",
			"result_locator", t.ResultLocator,
			"error", redact.Error(err))
		return nil, NewTaskServiceError("get_result", "failed to read artifact", err)
	}
	return data, nil
}
