package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/cutout/internal/artifact"
	"github.com/phrazzld/cutout/internal/domain"
	"github.com/phrazzld/cutout/internal/events"
	"github.com/phrazzld/cutout/internal/platform/logger"
	"github.com/phrazzld/cutout/internal/redact"
	"github.com/phrazzld/cutout/internal/store"
	"github.com/phrazzld/cutout/internal/transform"
)

// errPanic marks a transformer that panicked.
var errPanic = errors.New("transformer panicked")

// ExecutorConfig holds per-attempt limits and the retry policy.
type ExecutorConfig struct {
	// HardTimeLimit aborts an attempt; the attempt then counts as failed.
	HardTimeLimit time.Duration
	// SoftTimeLimit only logs a warning. Zero disables it.
	SoftTimeLimit time.Duration
	Retry         RetryPolicy
}

// DefaultExecutorConfig returns 300s/240s time limits and the default
// retry policy.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		HardTimeLimit: 300 * time.Second,
		SoftTimeLimit: 240 * time.Second,
		Retry:         DefaultRetryPolicy(),
	}
}

// Executor drives one delivery through the task state machine.
type Executor struct {
	store       store.TaskStore
	artifacts   artifact.Store
	transformer transform.Transformer
	events      events.EventEmitter
	config      ExecutorConfig
	logger      *slog.Logger
}

// NewExecutor creates an Executor. The transformer is shared by every
// worker for the life of the process.
func NewExecutor(
	taskStore store.TaskStore,
	artifacts artifact.Store,
	transformer transform.Transformer,
	emitter events.EventEmitter,
	config ExecutorConfig,
	logger *slog.Logger,
) *Executor {
	if config.HardTimeLimit <= 0 {
		config.HardTimeLimit = DefaultExecutorConfig().HardTimeLimit
	}
	return &Executor{
		store:       taskStore,
		artifacts:   artifacts,
		transformer: transformer,
		events:      emitter,
		config:      config,
		logger:      logger.With("component", "executor"),
	}
}

// attempt carries the per-delivery state shared by the helpers below.
type attempt struct {
	delivery *Delivery
	log      *slog.Logger
	start    time.Time
}

func (a *attempt) taskID() string { return a.delivery.Payload.TaskID }

// Execute processes one delivery and reports how the queue should settle it.
// It never panics and never returns a Result that would redeliver a task
// that is missing from the store.
func (e *Executor) Execute(ctx context.Context, d *Delivery) Result {
	a := &attempt{
		delivery: d,
		log: logger.FromContext(ctx).With(
			"task_id", d.Payload.TaskID,
			"attempt", d.Attempt,
			"delivery_id", d.ID,
		),
		start: time.Now(),
	}
	ctx = logger.WithLogger(ctx, a.log)

	t, err := e.store.Get(ctx, a.taskID())
	if err != nil {
		if store.IsNotFoundError(err) {
			return e.missing(ctx, a, "task not found for delivery")
		}
		return e.fail(ctx, a, fmt.Errorf("load task: %w", err), true)
	}

	if t.Status == domain.TaskStatusCompleted {
		a.log.Info("task already completed, acknowledging duplicate delivery")
		return Result{Outcome: OutcomeSucceeded}
	}

	if e.config.Retry.Exhausted(d.Attempt) {
		return e.overBudget(ctx, a, t)
	}

	if _, err := e.store.MarkProcessing(ctx, a.taskID()); err != nil {
		if store.IsNotFoundError(err) {
			return e.missing(ctx, a, "task removed before processing")
		}
		return e.fail(ctx, a, fmt.Errorf("mark processing: %w", err), true)
	}
	a.log.Info("processing task")

	out, err := e.run(ctx, a)
	if err != nil {
		if ctx.Err() != nil {
			return e.interrupted(a, err)
		}
		return e.fail(ctx, a, err, false)
	}

	locator, err := e.artifacts.Put(ctx, a.taskID(), out)
	if err != nil {
		return e.fail(ctx, a, fmt.Errorf("store artifact: %w", err), true)
	}

	if _, err := e.store.MarkCompleted(ctx, a.taskID(), locator); err != nil {
		if store.IsNotFoundError(err) {
			e.discardArtifact(ctx, a, locator)
			return e.missing(ctx, a, "task removed while processing")
		}
		return e.fail(ctx, a, fmt.Errorf("mark completed: %w", err), true)
	}

	ev := e.newEvent(events.TaskSucceeded, a)
	ev.ResultLocator = locator
	e.emit(ctx, a, ev)
	return Result{Outcome: OutcomeSucceeded}
}

// run invokes the transformer under the hard time limit and logs once the
// soft limit has passed.
func (e *Executor) run(ctx context.Context, a *attempt) ([]byte, error) {
	hard := e.config.HardTimeLimit
	runCtx, cancel := context.WithTimeout(ctx, hard)
	defer cancel()

	if soft := e.config.SoftTimeLimit; soft > 0 && soft < hard {
		timer := time.AfterFunc(soft, func() {
			a.log.Warn("task exceeded soft time limit",
				"soft_time_limit", soft.String(),
				"hard_time_limit", hard.String())
		})
		defer timer.Stop()
	}

	type outcome struct {
		out []byte
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", errPanic, p)}
			}
		}()
		out, err := e.transformer.Transform(runCtx, a.delivery.Payload.Input)
		done <- outcome{out: out, err: err}
	}()

	timeLimit := func() error {
		return fmt.Errorf("%w: attempt ran longer than %s", ErrTimeLimitExceeded, hard)
	}

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, timeLimit()
		}
		if r.err == nil && len(r.out) == 0 {
			return nil, transform.Errorf(transform.KindEmptyResult, "transformer returned no data")
		}
		return r.out, r.err
	case <-runCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, timeLimit()
	}
}

// fail records a failed attempt and applies the retry policy.
func (e *Executor) fail(ctx context.Context, a *attempt, cause error, storageFailure bool) Result {
	detail := redact.Detail(errorDetail(cause))
	log := a.log
	if storageFailure {
		log = log.With("error_kind", "storage")
	}
	log.Error("task attempt failed", "error", redact.Error(cause))

	if _, err := e.store.MarkFailed(ctx, a.taskID(), detail); err != nil {
		switch {
		case store.IsNotFoundError(err):
			return e.missing(ctx, a, "task removed before failure could be recorded")
		case errors.Is(err, store.ErrInvalidTransition):
			// Another delivery completed the task; its result stands.
			a.log.Info("task completed by another delivery, dropping failed attempt")
			return Result{Outcome: OutcomeSucceeded}
		default:
			storageFailure = true
			a.log.Error("failed to record task failure",
				"error_kind", "storage",
				"error", redact.Error(err))
		}
	}

	decision := e.config.Retry.Decide(a.delivery.Attempt)
	if decision.Retry {
		ev := e.newEvent(events.TaskRetryScheduled, a)
		ev.ErrorDetail = detail
		ev.RetryAfter = decision.After
		ev.StorageFailure = storageFailure
		e.emit(ctx, a, ev)
		return Result{
			Outcome:    OutcomeRetry,
			RetryAfter: decision.After,
			Err:        fmt.Errorf("%w: %w", ErrTransientProcessing, cause),
		}
	}

	ev := e.newEvent(events.TaskFailed, a)
	ev.ErrorDetail = detail
	ev.StorageFailure = storageFailure
	e.emit(ctx, a, ev)
	return Result{
		Outcome: OutcomeFailed,
		Err:     fmt.Errorf("%w: %w", ErrRetriesExhausted, cause),
	}
}

// overBudget settles a delivery that arrived after the last allowed
// attempt, which happens when a worker is lost mid-attempt.
func (e *Executor) overBudget(ctx context.Context, a *attempt, t *domain.Task) Result {
	detail := t.ErrorDetail
	if t.Status != domain.TaskStatusFailed || detail == "" {
		detail = fmt.Sprintf("RetriesExhausted: attempt %d exceeds the limit of %d retries",
			a.delivery.Attempt, e.config.Retry.MaxRetries)
		if _, err := e.store.MarkFailed(ctx, a.taskID(), detail); err != nil {
			if store.IsNotFoundError(err) {
				return e.missing(ctx, a, "task removed before failure could be recorded")
			}
			if errors.Is(err, store.ErrInvalidTransition) {
				return Result{Outcome: OutcomeSucceeded}
			}
			a.log.Error("failed to record task failure",
				"error_kind", "storage",
				"error", redact.Error(err))
		}
	}

	ev := e.newEvent(events.TaskFailed, a)
	ev.ErrorDetail = detail
	e.emit(ctx, a, ev)
	return Result{Outcome: OutcomeFailed, Err: ErrRetriesExhausted}
}

// missing settles a delivery whose task is not in the store. Redelivery
// cannot help, so the delivery is dropped.
func (e *Executor) missing(ctx context.Context, a *attempt, msg string) Result {
	a.log.Warn(msg)
	ev := e.newEvent(events.TaskFailed, a)
	ev.ErrorDetail = "NotFound: " + msg
	e.emit(ctx, a, ev)
	return Result{
		Outcome: OutcomeFailed,
		Err:     fmt.Errorf("%w: %s", ErrTaskMissing, a.taskID()),
	}
}

// interrupted settles an attempt cut short by worker shutdown. The task is
// left as it is and the delivery is released with its attempt number
// unchanged.
func (e *Executor) interrupted(a *attempt, err error) Result {
	a.log.Warn("task attempt interrupted by shutdown", "error", err)
	return Result{Outcome: OutcomeReleased, Err: err}
}

func (e *Executor) discardArtifact(ctx context.Context, a *attempt, locator string) {
	if err := e.artifacts.Delete(ctx, locator); err != nil && !errors.Is(err, artifact.ErrNotFound) {
		a.log.Error("failed to delete orphaned artifact",
			"result_locator", locator,
			"error", redact.Error(err))
	}
}

func (e *Executor) newEvent(t events.EventType, a *attempt) *events.LifecycleEvent {
	ev := events.NewLifecycleEvent(t, a.taskID(), a.delivery.Attempt)
	ev.Duration = time.Since(a.start)
	return ev
}

func (e *Executor) emit(ctx context.Context, a *attempt, ev *events.LifecycleEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.EmitEvent(ctx, ev); err != nil {
		a.log.Warn("lifecycle event handler failed", "event_type", ev.Type, "error", err)
	}
}

// errorDetail renders cause as "<Kind>: <message>".
func errorDetail(cause error) string {
	var terr *transform.Error
	switch {
	case errors.As(cause, &terr):
		return terr.Error()
	case errors.Is(cause, ErrTimeLimitExceeded):
		return "TimeLimitExceeded: " + cause.Error()
	case errors.Is(cause, errPanic):
		return "Panic: " + cause.Error()
	case errors.Is(cause, store.ErrStorage), errors.Is(cause, artifact.ErrStorage):
		return "StorageFailure: " + cause.Error()
	default:
		return "ProcessingError: " + cause.Error()
	}
}
