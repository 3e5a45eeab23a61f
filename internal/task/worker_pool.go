package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/cutout/internal/platform/logger"
)

// Processor executes a single delivery. *Executor implements it.
type Processor interface {
	Execute(ctx context.Context, d *Delivery) Result
}

// WorkerPool manages a pool of worker goroutines that pull deliveries from
// a broker, execute them, and settle them according to the result. It
// handles graceful shutdown and worker lifecycle.
type WorkerPool struct {
	broker    Broker
	processor Processor
	config    WorkerPoolConfig

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx stops workers from taking new deliveries
	ctx    context.Context
	cancel context.CancelFunc

	// execCtx bounds in-flight executions; it is cancelled only when a
	// graceful stop runs out of time.
	execCtx    context.Context
	execCancel context.CancelFunc

	logger *slog.Logger

	// errorHandler is called for every delivery that was retried or
	// failed. If nil, errors are only logged
	errorHandler func(d *Delivery, res Result)
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int

	// ErrorBackoff is the pause after a failed Dequeue.
	ErrorBackoff time.Duration

	// PanicRetryDelay is the redelivery delay after a processor panic.
	PanicRetryDelay time.Duration

	// SettleTimeout bounds each Ack or Retry call.
	SettleTimeout time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:     2,
		ErrorBackoff:    time.Second,
		PanicRetryDelay: time.Minute,
		SettleTimeout:   10 * time.Second,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(broker Broker, processor Processor, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	defaults := DefaultWorkerPoolConfig()
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = defaults.ErrorBackoff
	}
	if config.PanicRetryDelay <= 0 {
		config.PanicRetryDelay = defaults.PanicRetryDelay
	}
	if config.SettleTimeout <= 0 {
		config.SettleTimeout = defaults.SettleTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	execCtx, execCancel := context.WithCancel(context.Background())

	return &WorkerPool{
		broker:     broker,
		processor:  processor,
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
		execCtx:    execCtx,
		execCancel: execCancel,
		logger:     logger.With("component", "worker_pool"),
	}
}

// SetErrorHandler allows setting a custom error handler for deliveries that
// were retried or failed.
func (p *WorkerPool) SetErrorHandler(handler func(d *Delivery, res Result)) {
	p.errorHandler = handler
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start() {
	p.logger.Info("starting worker pool", "worker_count", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops taking new deliveries and waits for in-flight ones to finish.
// If ctx expires first, in-flight executions are cancelled and Stop waits
// for them to unwind before returning ctx.Err().
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.cancel()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.execCancel()
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool stop timed out, cancelling in-flight tasks")
		p.execCancel()
		<-finished
		return ctx.Err()
	}
}

// worker pulls deliveries until the pool is stopped or the broker closes.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	log := p.logger.With("worker_id", id)
	log.Debug("starting worker")

	for {
		d, err := p.broker.Dequeue(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil {
				log.Debug("stopping worker")
				return
			}
			if errors.Is(err, ErrQueueClosed) {
				log.Debug("task queue closed, stopping worker")
				return
			}
			log.Error("failed to dequeue task", "error", err)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.config.ErrorBackoff):
			}
			continue
		}

		p.process(d, log)
	}
}

// process executes one delivery and settles it with the broker.
func (p *WorkerPool) process(d *Delivery, workerLog *slog.Logger) {
	log := workerLog.With("task_id", d.Payload.TaskID, "attempt", d.Attempt)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing task", "panic", r)
			p.settle(log, d, Result{Outcome: OutcomeRetry, RetryAfter: p.config.PanicRetryDelay})
		}
	}()

	ctx := logger.WithLogger(p.execCtx, log)
	res := p.processor.Execute(ctx, d)
	p.settle(log, d, res)

	if (res.Outcome == OutcomeRetry || res.Outcome == OutcomeFailed) && p.errorHandler != nil {
		p.errorHandler(d, res)
	}
}

func (p *WorkerPool) settle(log *slog.Logger, d *Delivery, res Result) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.SettleTimeout)
	defer cancel()

	var err error
	switch res.Outcome {
	case OutcomeRetry:
		err = p.broker.Retry(ctx, d, res.RetryAfter)
	case OutcomeReleased:
		err = p.broker.Release(ctx, d)
	default:
		err = p.broker.Ack(ctx, d)
	}
	if err != nil {
		log.Error("failed to settle delivery",
			"outcome", res.Outcome.String(),
			"error", err)
	}
}
