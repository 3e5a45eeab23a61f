package domain

import (
	"fmt"
	"regexp"
	"time"
)

// TaskStatus represents the current state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// MaxTaskIDLength is the longest task ID accepted by the stores.
const MaxTaskIDLength = 255

// Task IDs double as artifact keys, so they are restricted to characters that
// are safe in object keys and file names.
var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is completed or failed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task is one submitted unit of image processing work and its tracked
// lifecycle state. ResultLocator and ErrorDetail are empty when unset.
type Task struct {
	ID            string     `json:"id"`
	Status        TaskStatus `json:"status"`
	ResultLocator string     `json:"result_locator,omitempty"`
	ErrorDetail   string     `json:"error_detail,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewTask creates a pending task with the given caller-supplied ID.
// Returns an error if the ID is not acceptable.
func NewTask(id string, now time.Time) (*Task, error) {
	if err := ValidateTaskID(id); err != nil {
		return nil, err
	}

	now = now.UTC()
	return &Task{
		ID:        id,
		Status:    TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ValidateTaskID checks that id is non-empty, bounded, and safe to use as
// part of an artifact key.
func ValidateTaskID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: task ID cannot be empty", ErrInvalidID)
	}
	if len(id) > MaxTaskIDLength {
		return fmt.Errorf("%w: task ID exceeds %d characters", ErrInvalidID, MaxTaskIDLength)
	}
	if !taskIDPattern.MatchString(id) {
		return fmt.Errorf("%w: task ID contains unsupported characters", ErrInvalidID)
	}
	return nil
}

// Validate checks the task against the lifecycle invariants:
// result locator only when completed, error detail only when failed,
// and completed_at set if and only if the status is terminal.
func (t *Task) Validate() error {
	if err := ValidateTaskID(t.ID); err != nil {
		return err
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, t.Status)
	}
	if t.ResultLocator != "" && t.Status != TaskStatusCompleted {
		return fmt.Errorf("%w: result locator set while %s", ErrValidation, t.Status)
	}
	if t.ErrorDetail != "" && t.Status != TaskStatusFailed {
		return fmt.Errorf("%w: error detail set while %s", ErrValidation, t.Status)
	}
	if t.Status == TaskStatusCompleted && t.ResultLocator == "" {
		return fmt.Errorf("%w: completed task has no result locator", ErrValidation)
	}
	if t.Status.IsTerminal() != (t.CompletedAt != nil) {
		return fmt.Errorf("%w: completed_at inconsistent with status %s", ErrValidation, t.Status)
	}
	return nil
}

// MarkProcessing moves a pending task, or a failed task being retried, into
// processing. It reports whether the task changed; a task that is already
// processing or completed is left untouched.
func (t *Task) MarkProcessing(now time.Time) bool {
	switch t.Status {
	case TaskStatusPending, TaskStatusFailed:
		t.Status = TaskStatusProcessing
		t.ErrorDetail = ""
		t.CompletedAt = nil
		t.UpdatedAt = now.UTC()
		return true
	default:
		return false
	}
}

// MarkCompleted records a successful attempt. The last attempt is
// authoritative, so a failed task may still complete. Completing an already
// completed task with the same locator changes nothing; a different locator
// replaces the old one and keeps the original completion time.
func (t *Task) MarkCompleted(locator string, now time.Time) error {
	if locator == "" {
		return ErrEmptyLocator
	}
	if t.Status == TaskStatusCompleted && t.ResultLocator == locator && t.CompletedAt != nil {
		return nil
	}

	now = now.UTC()
	if t.Status != TaskStatusCompleted || t.CompletedAt == nil {
		t.CompletedAt = &now
	}
	t.Status = TaskStatusCompleted
	t.ResultLocator = locator
	t.ErrorDetail = ""
	t.UpdatedAt = now
	return nil
}

// MarkFailed records a failed attempt. A completed task never moves back
// to failed.
func (t *Task) MarkFailed(detail string, now time.Time) error {
	if t.Status == TaskStatusCompleted {
		return fmt.Errorf("%w: cannot fail completed task %s", ErrTerminalState, t.ID)
	}

	now = now.UTC()
	if t.Status != TaskStatusFailed || t.CompletedAt == nil {
		t.CompletedAt = &now
	}
	t.Status = TaskStatusFailed
	t.ErrorDetail = detail
	t.ResultLocator = ""
	t.UpdatedAt = now
	return nil
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.CompletedAt != nil {
		completedAt := *t.CompletedAt
		c.CompletedAt = &completedAt
	}
	return &c
}
