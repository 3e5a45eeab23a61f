package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/cutout/internal/artifact"
	"github.com/phrazzld/cutout/internal/domain"
	"github.com/phrazzld/cutout/internal/events"
	"github.com/phrazzld/cutout/internal/platform/memstore"
	"github.com/phrazzld/cutout/internal/task"
	"github.com/phrazzld/cutout/internal/transform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingQueue struct{ err error }

func (q failingQueue) Enqueue(ctx context.Context, p task.Payload) error { return q.err }

func newTestService(t *testing.T, q Enqueuer) (TaskService, *memstore.TaskStore, *memstore.ArtifactStore) {
	t.Helper()
	tasks := memstore.NewTaskStore()
	artifacts := memstore.NewArtifactStore()
	svc, err := NewTaskService(tasks, artifacts, q, testLogger())
	require.NoError(t, err)
	return svc, tasks, artifacts
}

func TestNewTaskService_NilDependencies(t *testing.T) {
	tasks := memstore.NewTaskStore()
	artifacts := memstore.NewArtifactStore()
	q := task.NewTaskQueue(1, testLogger())

	_, err := NewTaskService(nil, artifacts, q, nil)
	assert.Error(t, err)
	_, err = NewTaskService(tasks, nil, q, nil)
	assert.Error(t, err)
	_, err = NewTaskService(tasks, artifacts, nil, nil)
	assert.Error(t, err)

	svc, err := NewTaskService(tasks, artifacts, q, nil)
	assert.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestSubmit(t *testing.T) {
	q := task.NewTaskQueue(4, testLogger())
	svc, _, _ := newTestService(t, q)
	ctx := context.Background()

	created, err := svc.Submit(ctx, "t1", []byte("image"))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, created.Status)
	assert.Equal(t, 1, q.Pending())

	status, err := svc.GetStatus(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, status.Status)
	assert.Nil(t, status.ResultLocator)
	assert.Nil(t, status.ErrorDetail)
}

func TestSubmit_DuplicateID(t *testing.T) {
	q := task.NewTaskQueue(4, testLogger())
	svc, _, _ := newTestService(t, q)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "t1", []byte("image"))
	require.NoError(t, err)

	_, err = svc.Submit(ctx, "t1", []byte("other"))
	assert.ErrorIs(t, err, ErrTaskExists)
	assert.Equal(t, 1, q.Pending(), "a rejected submission is not enqueued")
}

func TestSubmit_GeneratesID(t *testing.T) {
	q := task.NewTaskQueue(4, testLogger())
	svc, _, _ := newTestService(t, q)

	created, err := svc.Submit(context.Background(), "", []byte("image"))
	require.NoError(t, err)
	assert.Len(t, created.ID, 36)
}

func TestSubmit_InvalidInput(t *testing.T) {
	q := task.NewTaskQueue(4, testLogger())
	svc, tasks, _ := newTestService(t, q)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "t1", nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = svc.Submit(ctx, "../t1", []byte("image"))
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	assert.Equal(t, 0, tasks.Len())
	assert.Equal(t, 0, q.Pending())
}

func TestSubmit_EnqueueFailureMarksTaskFailed(t *testing.T) {
	svc, tasks, _ := newTestService(t, failingQueue{err: task.ErrQueueFull})
	ctx := context.Background()

	_, err := svc.Submit(ctx, "t1", []byte("image"))
	require.Error(t, err)
	assert.ErrorIs(t, err, task.ErrQueueFull)

	var svcErr *TaskServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "submit", svcErr.Operation)

	stored, err := tasks.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
	assert.True(t, strings.HasPrefix(stored.ErrorDetail, "EnqueueFailed: "))
}

func TestGetStatus_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t, task.NewTaskQueue(1, testLogger()))

	_, err := svc.GetStatus(context.Background(), "never-submitted")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestNewStatusView(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	pending, _ := domain.NewTask("p", now)
	view := NewStatusView(pending)
	assert.Equal(t, domain.TaskStatusPending, view.Status)
	assert.Nil(t, view.ResultLocator)
	assert.Nil(t, view.ErrorDetail)
	assert.Nil(t, view.CompletedAt)

	completed, _ := domain.NewTask("c", now)
	require.NoError(t, completed.MarkCompleted("processed/c.png", now))
	view = NewStatusView(completed)
	require.NotNil(t, view.ResultLocator)
	assert.Equal(t, "processed/c.png", *view.ResultLocator)
	assert.Nil(t, view.ErrorDetail)

	failed, _ := domain.NewTask("f", now)
	require.NoError(t, failed.MarkFailed("ProcessingError: boom", now))
	view = NewStatusView(failed)
	require.NotNil(t, view.ErrorDetail)
	assert.Equal(t, "ProcessingError: boom", *view.ErrorDetail)
	assert.Nil(t, view.ResultLocator)
}

func TestGetResult(t *testing.T) {
	svc, tasks, artifacts := newTestService(t, task.NewTaskQueue(4, testLogger()))
	ctx := context.Background()

	_, err := svc.Submit(ctx, "t1", []byte("image"))
	require.NoError(t, err)

	_, err = svc.GetResult(ctx, "t1")
	assert.ErrorIs(t, err, ErrTaskNotCompleted)

	locator, err := artifacts.Put(ctx, "t1", []byte("png"))
	require.NoError(t, err)
	_, err = tasks.MarkCompleted(ctx, "t1", locator)
	require.NoError(t, err)

	data, err := svc.GetResult(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	require.NoError(t, artifacts.Delete(ctx, locator))
	_, err = svc.GetResult(ctx, "t1")
	assert.ErrorIs(t, err, ErrResultMissing)

	_, err = svc.GetResult(ctx, "unknown")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestNewTaskServiceError(t *testing.T) {
	assert.NoError(t, NewTaskServiceError("op", "msg", nil))
	assert.Equal(t, ErrResultMissing, NewTaskServiceError("op", "msg", fmt.Errorf("get: %w", artifact.ErrNotFound)))

	wrapped := NewTaskServiceError("get_status", "failed", errors.New("boom"))
	assert.EqualError(t, wrapped, "task service get_status failed: failed: boom")
}

// startWorkers runs the full pipeline: submissions go through the service to
// the in-memory queue and are executed by a worker pool.
func startWorkers(t *testing.T, tr transform.Transformer) (TaskService, *memstore.ArtifactStore) {
	t.Helper()
	log := testLogger()

	tasks := memstore.NewTaskStore()
	artifacts := memstore.NewArtifactStore()
	q := task.NewTaskQueue(16, log)
	emitter := events.NewInMemoryEventEmitter(log)
	emitter.RegisterHandler(events.NewLogHandler(log))

	cfg := task.ExecutorConfig{
		HardTimeLimit: time.Second,
		Retry:         task.RetryPolicy{MaxRetries: 3, Delay: 5 * time.Millisecond, Backoff: task.BackoffFixed},
	}
	executor := task.NewExecutor(tasks, artifacts, tr, emitter, cfg, log)
	pool := task.NewWorkerPool(q, executor, task.WorkerPoolConfig{WorkerCount: 3}, log)
	pool.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
		_ = q.Close()
	})

	svc, err := NewTaskService(tasks, artifacts, q, log)
	require.NoError(t, err)
	return svc, artifacts
}

func waitForTerminal(t *testing.T, svc TaskService, id string) *StatusView {
	t.Helper()
	var view *StatusView
	require.Eventually(t, func() bool {
		v, err := svc.GetStatus(context.Background(), id)
		if err != nil {
			return false
		}
		view = v
		return v.Status.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)
	return view
}

var invert = transform.Func(func(ctx context.Context, input []byte) ([]byte, error) {
	out := make([]byte, len(input))
	for i, b := range input {
		out[i] = ^b
	}
	return out, nil
})

func TestEndToEnd_SubmitAndComplete(t *testing.T) {
	svc, _ := startWorkers(t, invert)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "t1", []byte{0x00, 0x0f})
	require.NoError(t, err)

	view := waitForTerminal(t, svc, "t1")
	assert.Equal(t, domain.TaskStatusCompleted, view.Status)
	require.NotNil(t, view.ResultLocator)

	data, err := svc.GetResult(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xf0}, data)
}

func TestEndToEnd_AlwaysFailing(t *testing.T) {
	var calls atomic.Int32
	broken := transform.Func(func(ctx context.Context, input []byte) ([]byte, error) {
		calls.Add(1)
		return nil, transform.Errorf(transform.KindInvalidImage, "cannot decode image")
	})
	svc, artifacts := startWorkers(t, broken)

	_, err := svc.Submit(context.Background(), "t2", []byte("not an image"))
	require.NoError(t, err)

	// Every attempt marks the task failed; wait for the fourth and last.
	require.Eventually(t, func() bool { return calls.Load() == 4 }, 2*time.Second, 5*time.Millisecond)
	view := waitForTerminal(t, svc, "t2")

	assert.Equal(t, domain.TaskStatusFailed, view.Status)
	require.NotNil(t, view.ErrorDetail)
	assert.Equal(t, "InvalidImage: cannot decode image", *view.ErrorDetail)
	assert.Nil(t, view.ResultLocator)
	assert.Equal(t, 0, artifacts.Len())
}

func TestEndToEnd_UnknownID(t *testing.T) {
	svc, _ := startWorkers(t, invert)

	_, err := svc.GetStatus(context.Background(), "never-submitted")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestEndToEnd_ConcurrentSubmissions(t *testing.T) {
	svc, _ := startWorkers(t, invert)
	ids := []string{"c1", "c2", "c3"}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), id, []byte(id))
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	locators := make(map[string]bool)
	for _, id := range ids {
		view := waitForTerminal(t, svc, id)
		require.Equal(t, domain.TaskStatusCompleted, view.Status, "task %s", id)
		locators[*view.ResultLocator] = true
	}
	assert.Len(t, locators, len(ids), "each task has its own artifact")
}
