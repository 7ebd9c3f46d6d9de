// Package scheduler runs named jobs on a fixed interval until cancelled.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is one unit of periodic work
type Job func(ctx context.Context) error

// Task is a named periodic job
type Task struct {
	Name     string
	Interval time.Duration
	Job      Job
	// RunAtStart runs the job once before the first tick
	RunAtStart bool
	// Timeout bounds a single run; zero means no bound
	Timeout time.Duration

	Log zerolog.Logger
}

// Run blocks until ctx is cancelled. Cancellation is only observed between
// runs: a job already started always runs to completion. Errors are logged
// and the job is simply tried again on the next tick.
func (t *Task) Run(ctx context.Context) {
	if t.Interval <= 0 {
		t.Log.Error().Str("task", t.Name).Dur("interval", t.Interval).Msg("task not started: interval must be positive")
		return
	}

	if t.RunAtStart {
		t.runOnce(ctx)
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Log.Debug().Str("task", t.Name).Msg("task stopped")
			return
		case <-ticker.C:
			t.runOnce(ctx)
		}
	}
}

func (t *Task) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	jobCtx := context.WithoutCancel(ctx)
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, t.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := t.Job(jobCtx); err != nil {
		t.Log.Warn().Err(err).Str("task", t.Name).Dur("took", time.Since(start)).Msg("task run failed")
		return
	}
	t.Log.Debug().Str("task", t.Name).Dur("took", time.Since(start)).Msg("task run done")
}

// Scheduler starts tasks in the background and waits for them on Stop
type Scheduler struct {
	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context
}

// New creates a scheduler whose tasks stop when parent is cancelled or Stop is called
func New(parent context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{ctx: ctx, cancel: cancel}
}

// Start runs t in its own goroutine
func (s *Scheduler) Start(t *Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t.Run(s.ctx)
	}()
}

// Stop cancels every task and waits for in-flight runs to finish
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}
