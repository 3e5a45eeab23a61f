package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/cutout/internal/redact"
)

// Scheduler runs a Sweeper on a fixed interval until stopped.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	opts     Options
	logger   *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewScheduler creates a Scheduler that sweeps with opts every interval.
// Dry-run is forced off.
func NewScheduler(sweeper *Sweeper, interval time.Duration, opts Options, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	opts.DryRun = false

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sweeper:    sweeper,
		interval:   interval,
		opts:       opts,
		logger:     logger.With("component", "sweep_scheduler"),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start launches the background loop. The first sweep happens one interval
// after Start.
func (s *Scheduler) Start() {
	s.logger.Info("starting periodic sweeper",
		"interval", s.interval.String(),
		"max_age", s.opts.MaxAge.String())

	s.wg.Add(1)
	go s.loop()
}

// Stop cancels a running sweep and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.cancelFunc()
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			if _, err := s.sweeper.Sweep(s.ctx, s.opts); err != nil {
				s.logger.Error("periodic sweep failed", "error", redact.Error(err))
			}
		}
	}
}
