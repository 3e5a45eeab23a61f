// Package task drives submitted tasks from the work queue to a terminal
// state.
//
// A Broker carries Payloads from the submission path to workers with
// at-least-once delivery. The WorkerPool pulls Deliveries, hands each to the
// Executor, and acknowledges or redelivers it according to the Result. The
// Executor owns the task state machine: it marks the task processing, runs
// the transformation under hard and soft time limits, stores the artifact,
// and consults the RetryPolicy when an attempt fails.
package task
