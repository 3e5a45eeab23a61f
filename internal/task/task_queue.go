package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskQueue is an in-process Broker backed by a buffered channel. Retries
// are scheduled with timers; deliveries are lost when the process exits.
type TaskQueue struct {
	ready  chan *Delivery
	done   chan struct{}
	logger *slog.Logger

	mu        sync.Mutex
	closed    bool
	inflight  map[string]*Delivery
	scheduled map[string]*time.Timer
}

var _ Broker = (*TaskQueue)(nil)

// NewTaskQueue creates a new task queue with the specified buffer size
func NewTaskQueue(size int, logger *slog.Logger) *TaskQueue {
	if size <= 0 {
		size = 1
	}
	return &TaskQueue{
		ready:     make(chan *Delivery, size),
		done:      make(chan struct{}),
		logger:    logger.With("component", "memory_queue"),
		inflight:  make(map[string]*Delivery),
		scheduled: make(map[string]*time.Timer),
	}
}

// Enqueue adds a payload to the queue.
// Returns an error if the queue is full or closed
func (q *TaskQueue) Enqueue(ctx context.Context, p Payload) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	d := &Delivery{ID: uuid.NewString(), Payload: p, Attempt: 1}
	select {
	case q.ready <- d:
		q.logger.Debug("task enqueued",
			"task_id", p.TaskID,
			"queue_len", len(q.ready),
			"queue_cap", cap(q.ready))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.ready))
	}
}

// Dequeue implements Broker.
func (q *TaskQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	select {
	case d := <-q.ready:
		q.mu.Lock()
		q.inflight[d.ID] = d
		q.mu.Unlock()
		out := *d
		return &out, nil
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack implements Broker.
func (q *TaskQueue) Ack(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inflight[d.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDelivery, d.ID)
	}
	delete(q.inflight, d.ID)
	return nil
}

// Retry implements Broker. The redelivery waits for room in the buffer
// rather than being dropped.
func (q *TaskQueue) Retry(ctx context.Context, d *Delivery, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inflight[d.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDelivery, d.ID)
	}
	delete(q.inflight, d.ID)

	if q.closed {
		return ErrQueueClosed
	}

	q.schedule(&Delivery{ID: d.ID, Payload: d.Payload, Attempt: d.Attempt + 1}, delay)
	return nil
}

// Release implements Broker. The delivery is queued again with the same
// attempt number.
func (q *TaskQueue) Release(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inflight[d.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDelivery, d.ID)
	}
	delete(q.inflight, d.ID)

	if q.closed {
		return ErrQueueClosed
	}

	q.schedule(&Delivery{ID: d.ID, Payload: d.Payload, Attempt: d.Attempt}, 0)
	return nil
}

// schedule puts next back on the ready channel after delay. q.mu must be
// held.
func (q *TaskQueue) schedule(next *Delivery, delay time.Duration) {
	q.scheduled[next.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.scheduled, next.ID)
		q.mu.Unlock()

		select {
		case q.ready <- next:
		case <-q.done:
		}
	})

	q.logger.Debug("task redelivery scheduled",
		"task_id", next.Payload.TaskID,
		"attempt", next.Attempt,
		"delay", delay.String())
}

// Close stops the queue. Queued and scheduled deliveries are discarded.
func (q *TaskQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	for id, timer := range q.scheduled {
		timer.Stop()
		delete(q.scheduled, id)
	}
	q.logger.Info("task queue closed")
	return nil
}

// Pending returns the number of deliveries waiting or scheduled for retry.
func (q *TaskQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.scheduled)
}
