package task

import (
	"context"
	"time"
)

// Payload is the unit of work carried by the queue.
type Payload struct {
	TaskID string `json:"task_id"`
	Input  []byte `json:"input"`
}

// Delivery is one delivery of a payload to a worker.
type Delivery struct {
	// ID identifies this queue entry; it is stable across redeliveries.
	ID      string
	Payload Payload
	// Attempt is 1 for the first delivery and grows by one on each
	// redelivery, including redelivery after a lost lease.
	Attempt int
}

// Broker carries payloads to workers with at-least-once semantics.
// Version: 1.0
type Broker interface {
	// Enqueue adds a payload for delivery.
	// Returns ErrQueueClosed or ErrQueueFull when it cannot be accepted.
	Enqueue(ctx context.Context, p Payload) error

	// Dequeue blocks until a delivery is available, ctx is done, or the
	// broker is closed (ErrQueueClosed).
	Dequeue(ctx context.Context) (*Delivery, error)

	// Ack removes a delivery; it will not be delivered again.
	Ack(ctx context.Context, d *Delivery) error

	// Retry schedules redelivery of d after delay with Attempt+1.
	Retry(ctx context.Context, d *Delivery, delay time.Duration) error

	// Release returns d for immediate redelivery with the same Attempt.
	// It is used when the attempt never ran to a result.
	Release(ctx context.Context, d *Delivery) error

	// Close stops the broker and wakes blocked Dequeue calls.
	Close() error
}

// Outcome tells the queue what to do with a delivery.
type Outcome int

// Possible execution outcomes
const (
	// OutcomeSucceeded means the task completed; the delivery is acknowledged.
	OutcomeSucceeded Outcome = iota
	// OutcomeRetry means the attempt failed and should be redelivered.
	OutcomeRetry
	// OutcomeFailed means the task failed terminally; the delivery is
	// acknowledged and never redelivered.
	OutcomeFailed
	// OutcomeReleased means the attempt was cut short before it produced
	// a result; the delivery is released without using up an attempt.
	OutcomeReleased
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailed:
		return "failed"
	case OutcomeReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Result is the Executor's report for one delivery.
type Result struct {
	Outcome    Outcome
	RetryAfter time.Duration
	// Err is the failure behind OutcomeRetry, OutcomeFailed or
	// OutcomeReleased.
	Err error
}
