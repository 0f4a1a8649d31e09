// Package dispatch starts queued jobs outside the request that created them,
// either on local goroutines or through a RabbitMQ queue.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"bookforge/internal/infra"
)

// ErrClosed is returned by Dispatch after shutdown started.
var ErrClosed = errors.New("dispatch: closed")

// Executor runs one job to a terminal state.
type Executor interface {
	Execute(ctx context.Context, jobID string) error
}

// InProcess runs each job on its own goroutine, bounded by a semaphore.
// Jobs are detached from the dispatching context.
type InProcess struct {
	exec   Executor
	sem    *semaphore.Weighted
	logger infra.Logger

	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewInProcess bounds concurrent executions to concurrency (minimum 1).
func NewInProcess(exec Executor, concurrency int, logger infra.Logger) *InProcess {
	if concurrency < 1 {
		concurrency = 1
	}
	return &InProcess{exec: exec, sem: semaphore.NewWeighted(int64(concurrency)), logger: logger}
}

// Dispatch returns as soon as the job is scheduled.
func (d *InProcess) Dispatch(ctx context.Context, jobID string) error {
	if d.closed.Load() {
		return ErrClosed
	}
	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(runCtx, 1); err != nil {
			d.logger.Error().Err(err).Str("job_id", jobID).Msg("dispatch: acquire worker slot")
			return
		}
		defer d.sem.Release(1)
		if err := d.exec.Execute(runCtx, jobID); err != nil {
			d.logger.Warn().Err(err).Str("job_id", jobID).Msg("dispatch: job finished with error")
		}
	}()
	return nil
}

// Shutdown stops accepting jobs and waits for in-flight ones until ctx ends.
func (d *InProcess) Shutdown(ctx context.Context) error {
	d.closed.Store(true)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
