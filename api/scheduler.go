/*
scheduler.go - Automated daily probation-transition scheduler

PURPOSE:
  Periodically wakes up and, once per calendar day, runs the transition
  processor for that day so employments whose probation ends today are
  passed and repriced without an operator.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Remembers the last day it ran; later wake-ups on the same day do nothing
  - A failed run (store error) is retried on the next wake-up
  - Every run is recorded by the processor as a TransitionRun

CONFIGURATION:
  - CheckInterval: How often to wake up (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewTransitionScheduler(processor, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunTransitions endpoint (manual trigger)
  - transition/processor.go: the batch itself
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/transition"
)

// TransitionScheduler triggers the daily probation-completion batch.
type TransitionScheduler struct {
	Processor     *transition.Processor
	CheckInterval time.Duration
	Enabled       bool

	logger *zap.Logger
	today  func() core.Date

	ticker  *time.Ticker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun core.Date
}

// NewTransitionScheduler creates a new scheduler.
func NewTransitionScheduler(p *transition.Processor, logger *zap.Logger) *TransitionScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransitionScheduler{
		Processor:     p,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		logger:        logger.Named("scheduler"),
		today:         core.Today,
	}
}

// Start begins the scheduler.
func (ts *TransitionScheduler) Start() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.Enabled {
		ts.logger.Info("disabled, not starting")
		return
	}
	if ts.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ts.cancel = cancel
	ts.ticker = time.NewTicker(ts.CheckInterval)
	ts.wg.Add(1)

	go ts.run(ctx, ts.ticker)

	ts.logger.Info("started", zap.Duration("check_interval", ts.CheckInterval))
}

// Stop cancels any in-progress batch and waits for the loop to exit.
func (ts *TransitionScheduler) Stop() {
	ts.mu.Lock()
	if ts.ticker == nil {
		ts.mu.Unlock()
		return
	}
	ts.ticker.Stop()
	ts.cancel()
	ts.ticker = nil
	ts.mu.Unlock()

	ts.wg.Wait()
	ts.logger.Info("stopped")
}

func (ts *TransitionScheduler) run(ctx context.Context, ticker *time.Ticker) {
	defer ts.wg.Done()

	// Run immediately on start
	ts.checkAndProcess(ctx)

	for {
		select {
		case <-ticker.C:
			ts.checkAndProcess(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// checkAndProcess runs the batch for today unless it already ran today.
func (ts *TransitionScheduler) checkAndProcess(ctx context.Context) {
	today := ts.today()

	ts.mu.Lock()
	done := !ts.lastRun.IsZero() && ts.lastRun.Equal(today)
	ts.mu.Unlock()
	if done {
		return
	}

	if _, err := ts.RunNow(ctx, today); err != nil {
		return
	}

	ts.mu.Lock()
	ts.lastRun = today
	ts.mu.Unlock()
}

// RunNow runs the batch for asOf immediately (for admin use and tests).
func (ts *TransitionScheduler) RunNow(ctx context.Context, asOf core.Date) (*transition.Report, error) {
	rep, err := ts.Processor.Run(ctx, asOf)
	if err != nil {
		ts.logger.Error("transition run failed", zap.Stringer("as_of", asOf), zap.Error(err))
		return rep, err
	}
	ts.logger.Info("transition run finished",
		zap.Stringer("as_of", asOf),
		zap.String("status", string(rep.Run.Status)),
		zap.Int("candidates", rep.Run.Candidates),
		zap.Int("passed", rep.Run.Passed),
		zap.Int("skipped", rep.Run.Skipped),
		zap.Int("failed", rep.Run.Failed))
	return rep, nil
}

// LastRun returns the last day a batch completed, zero if none.
func (ts *TransitionScheduler) LastRun() core.Date {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastRun
}
