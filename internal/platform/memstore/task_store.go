// Package memstore provides an in-memory implementation of store.TaskStore
// for tests and single-process deployments. State lives only as long as the
// process.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/phrazzld/cutout/internal/domain"
	"github.com/phrazzld/cutout/internal/store"
)

// TaskStore holds tasks in a map guarded by a mutex. Every method runs as a
// single critical section and hands out copies, so callers never observe a
// partially updated task.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task

	// Now returns the current time. Tests override it to control ages.
	Now func() time.Time
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates an empty task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]*domain.Task),
		Now:   time.Now,
	}
}

// Create implements store.TaskStore.
func (s *TaskStore) Create(ctx context.Context, id string) (*domain.Task, error) {
	task, err := domain.NewTask(id, s.Now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; ok {
		return nil, fmt.Errorf("%w: %s", store.ErrTaskExists, id)
	}
	s.tasks[id] = task
	return task.Clone(), nil
}

// Get implements store.TaskStore.
func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return task.Clone(), nil
}

// MarkProcessing implements store.TaskStore.
func (s *TaskStore) MarkProcessing(ctx context.Context, id string) (*domain.Task, error) {
	return s.update(id, func(t *domain.Task, now time.Time) error {
		t.MarkProcessing(now)
		return nil
	})
}

// MarkCompleted implements store.TaskStore.
func (s *TaskStore) MarkCompleted(ctx context.Context, id string, locator string) (*domain.Task, error) {
	return s.update(id, func(t *domain.Task, now time.Time) error {
		return t.MarkCompleted(locator, now)
	})
}

// MarkFailed implements store.TaskStore.
func (s *TaskStore) MarkFailed(ctx context.Context, id string, detail string) (*domain.Task, error) {
	return s.update(id, func(t *domain.Task, now time.Time) error {
		if err := t.MarkFailed(detail, now); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidTransition, err)
		}
		return nil
	})
}

// update applies fn to a copy of the task and stores the copy only if fn
// succeeds.
func (s *TaskStore) update(id string, fn func(*domain.Task, time.Time) error) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	next := current.Clone()
	if err := fn(next, s.Now()); err != nil {
		return nil, err
	}
	s.tasks[id] = next
	return next.Clone(), nil
}

// ListOlderThan implements store.TaskStore.
func (s *TaskStore) ListOlderThan(ctx context.Context, age time.Duration) ([]*domain.Task, error) {
	cutoff := s.Now().Add(-age)

	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.Task
	for _, t := range s.tasks {
		if t.CreatedAt.Before(cutoff) {
			result = append(result, t.Clone())
		}
	}
	return result, nil
}

// Delete implements store.TaskStore.
func (s *TaskStore) Delete(ctx context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	delete(s.tasks, id)
	return task, nil
}

// Len returns the number of stored tasks.
func (s *TaskStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
