package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a lifecycle observation point.
type EventType string

// Lifecycle event types emitted by the executor.
const (
	// TaskSucceeded is emitted after an attempt stored its artifact and
	// marked the task completed.
	TaskSucceeded EventType = "task.succeeded"

	// TaskRetryScheduled is emitted after a failed attempt when the retry
	// policy still allows redelivery.
	TaskRetryScheduled EventType = "task.retry_scheduled"

	// TaskFailed is emitted when a task reaches a terminal failure, either
	// because retries are exhausted or because the failure is not retryable.
	TaskFailed EventType = "task.failed"
)

// LifecycleEvent describes one state transition of a task as observed by
// the executor.
type LifecycleEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	Type    EventType `json:"type"`
	TaskID  string    `json:"task_id"`
	Attempt int       `json:"attempt"`

	// ResultLocator is set for TaskSucceeded.
	ResultLocator string `json:"result_locator,omitempty"`

	// ErrorDetail is set for TaskRetryScheduled and TaskFailed.
	ErrorDetail string `json:"error_detail,omitempty"`

	// RetryAfter is the redelivery delay for TaskRetryScheduled.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// StorageFailure marks failures caused by the task or artifact store
	// rather than by the input.
	StorageFailure bool `json:"storage_failure,omitempty"`

	Duration   time.Duration `json:"duration"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// NewLifecycleEvent creates an event of the given type for one attempt.
func NewLifecycleEvent(eventType EventType, taskID string, attempt int) *LifecycleEvent {
	return &LifecycleEvent{
		ID:         uuid.New(),
		Type:       eventType,
		TaskID:     taskID,
		Attempt:    attempt,
		OccurredAt: time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *LifecycleEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the executor to publish transitions without knowledge of
// the subscribers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *LifecycleEvent) error
}

// HandlerFunc adapts a plain function to the EventHandler interface.
type HandlerFunc func(ctx context.Context, event *LifecycleEvent) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *LifecycleEvent) error {
	return f(ctx, event)
}
