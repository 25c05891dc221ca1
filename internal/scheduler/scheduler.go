// Package scheduler triggers operations cycles on a fixed interval.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"portfolio-ops/internal/observability"
	"portfolio-ops/internal/orchestrator"
)

// Runner is the cycle entry point the scheduler drives.
type Runner interface {
	RunCycle(ctx context.Context) (*orchestrator.CycleResult, error)
}

// Scheduler runs cycles at a fixed cadence with a single-flight guard:
// if a cycle is still running when the next tick arrives, the tick is
// rejected and logged rather than queued.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger

	inFlight atomic.Bool
	wg       sync.WaitGroup
}

// New creates a Scheduler. A nil logger disables logging.
func New(runner Runner, interval time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run executes one cycle immediately, then one per interval, until the
// context is canceled. Cycle errors are logged and the loop continues;
// only context cancellation stops it.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	s.trigger(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait() // let an in-flight cycle finish
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

// trigger starts one cycle unless one is already in flight. Cycles run on
// their own goroutine so a slow cycle delays nothing; the in-flight guard
// makes the overlapping tick a logged no-op instead of a queued run.
func (s *Scheduler) trigger(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("cycle still in flight, skipping trigger")
		if s.metrics != nil {
			s.metrics.CyclesRejected.Inc()
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		if _, err := s.runner.RunCycle(ctx); err != nil {
			s.logger.Error("cycle run failed", zap.Error(err))
		}
	}()
}
