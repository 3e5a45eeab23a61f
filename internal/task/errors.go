package task

import "errors"

// Errors reported by the executor and the brokers.
var (
	// ErrQueueClosed is returned by a broker after Close.
	ErrQueueClosed = errors.New("task queue is closed")

	// ErrQueueFull is returned when a bounded broker cannot accept more work.
	ErrQueueFull = errors.New("task queue is full")

	// ErrUnknownDelivery is returned when acknowledging a delivery the
	// broker is not tracking.
	ErrUnknownDelivery = errors.New("unknown delivery")

	// ErrTransientProcessing wraps a failed attempt that may be retried.
	ErrTransientProcessing = errors.New("transient processing failure")

	// ErrRetriesExhausted wraps the last failure once no retries remain.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrTimeLimitExceeded is the failure of an attempt that ran past the
	// hard time limit.
	ErrTimeLimitExceeded = errors.New("time limit exceeded")

	// ErrTaskMissing is returned when a delivery refers to a task the store
	// does not have, e.g. because the sweeper removed it.
	ErrTaskMissing = errors.New("task missing from store")
)
