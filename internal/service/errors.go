package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/cutout/internal/artifact"
	"github.com/phrazzld/cutout/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// Callers check for them with errors.Is; the API layer maps them to HTTP
// status codes.
var (
	// ErrTaskNotFound indicates that no task with the given ID exists.
	// API layer should map this to HTTP 404 Not Found.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskExists indicates that a task with the given ID was already
	// submitted. API layer should map this to HTTP 409 Conflict.
	ErrTaskExists = errors.New("task already exists")

	// ErrTaskNotCompleted indicates that a result was requested for a task
	// that has not completed. API layer should map this to HTTP 409 Conflict.
	ErrTaskNotCompleted = errors.New("task has not completed")

	// ErrResultMissing indicates that a completed task's artifact is gone.
	// API layer should map this to HTTP 404 Not Found.
	ErrResultMissing = errors.New("task result is no longer available")

	// ErrEmptyInput indicates a submission without image data.
	ErrEmptyInput = errors.New("input cannot be empty")
)

// TaskServiceError wraps errors from the task service with context.
type TaskServiceError struct {
	// Operation is the operation that failed (e.g., "submit", "get_status")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for TaskServiceError.
func (e *TaskServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *TaskServiceError) Unwrap() error {
	return e.Err
}

// NewTaskServiceError creates a new TaskServiceError.
// Store errors with a service-level meaning are returned as the matching
// sentinel instead of being wrapped.
func NewTaskServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, store.ErrNotFound):
		return ErrTaskNotFound
	case errors.Is(err, ErrTaskExists), errors.Is(err, store.ErrDuplicate):
		return ErrTaskExists
	case errors.Is(err, artifact.ErrNotFound):
		return ErrResultMissing
	}

	return &TaskServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
