package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSchedulerInterval is the pause between the end of one due-batch and
// the start of the next.
const DefaultSchedulerInterval = 5 * time.Minute

// SchedulerState is either idle (waiting for the timer) or running a batch.
type SchedulerState int32

const (
	StateIdle SchedulerState = iota
	StateRunning
)

func (s SchedulerState) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// BatchRunner processes one due-batch.
type BatchRunner interface {
	PublishDue(ctx context.Context, now time.Time) (BatchReport, error)
}

// Scheduler repeatedly runs due-batches. The next batch is armed only after
// the current one has finished, so batches never overlap and a slow batch
// simply pushes the next one back.
type Scheduler struct {
	runner   BatchRunner
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	state atomic.Int32
	runs  atomic.Int64
}

// NewScheduler creates a Scheduler. A non-positive interval falls back to
// DefaultSchedulerInterval.
func NewScheduler(runner BatchRunner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSchedulerInterval
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// State returns whether a batch is currently in flight.
func (s *Scheduler) State() SchedulerState {
	return SchedulerState(s.state.Load())
}

// Runs returns how many batches have completed, successfully or not.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// Run executes a batch immediately and then once per interval after each
// batch completes. It blocks until ctx is cancelled. Batch errors and panics
// are logged; they never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval)
	for {
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopped")
			return
		}

		s.RunOnce(ctx)

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
		}
	}
}

// RunOnce runs a single batch. Concurrent callers wait for each other.
func (s *Scheduler) RunOnce(ctx context.Context) (report BatchReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Store(int32(StateRunning))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("due-batch panicked: %v", r)
			s.logger.Error("due-batch panicked", "panic", r)
		}
		s.state.Store(int32(StateIdle))
		s.runs.Add(1)
	}()

	report, err = s.runner.PublishDue(ctx, s.now())
	if err != nil {
		s.logger.Error("due-batch failed", "error", err, "attempts", len(report.Attempts))
		return report, err
	}

	if report.Due > 0 {
		s.logger.Info("due-batch complete",
			"due", report.Due,
			"succeeded", report.Count(OutcomeSuccess),
			"failed", report.Count(OutcomeFailed),
			"credentials_invalid", report.Count(OutcomeCredentialsInvalid),
			"skipped", report.Count(OutcomeSkipped),
			"duration", report.Duration,
		)
	}
	return report, nil
}
