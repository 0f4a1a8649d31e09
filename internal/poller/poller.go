// Package poller waits for an asynchronous job on the client side. It never
// cancels the job: a timeout only stops waiting.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookforge/internal/domain"
)

const (
	DefaultInterval = 3 * time.Second
	DefaultTimeout  = 10 * time.Minute
	// DefaultCeiling keeps displayed progress below 100 until the result is in.
	DefaultCeiling = 95
)

// ErrPollTimeout means no terminal state was observed in time.
var ErrPollTimeout = errors.New("poll timeout: job is still running")

var errEmptyStatus = errors.New("fetcher returned no status")

// JobFailedError reports a job that finished in the failed state.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// TransientFetchError wraps a status fetch that failed for reasons unrelated
// to the job itself.
type TransientFetchError struct {
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch job status: %v", e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// TimeoutError is returned when the deadline passes. It unwraps to
// ErrPollTimeout and, when the last fetch failed, to that failure.
type TimeoutError struct {
	JobID     string
	LastFetch *TransientFetchError
}

func (e *TimeoutError) Error() string {
	if e.LastFetch != nil {
		return fmt.Sprintf("job %s: %v (last fetch: %v)", e.JobID, ErrPollTimeout, e.LastFetch.Err)
	}
	return fmt.Sprintf("job %s: %v", e.JobID, ErrPollTimeout)
}

func (e *TimeoutError) Unwrap() []error {
	if e.LastFetch != nil {
		return []error{ErrPollTimeout, e.LastFetch}
	}
	return []error{ErrPollTimeout}
}

// Status is the client view of a job.
type Status struct {
	Status           domain.JobStatus   `json:"status"`
	Progress         int                `json:"progress"`
	Step             string             `json:"step,omitempty"`
	Result           *domain.BookResult `json:"result,omitempty"`
	Error            string             `json:"error,omitempty"`
	CreditsRemaining *int               `json:"credits_remaining,omitempty"`
}

// Fetcher reads the current job status. Returning domain.ErrNotFound or
// domain.ErrUnauthorized ends polling; any other error is treated as transient.
type Fetcher interface {
	FetchStatus(ctx context.Context, jobID string) (*Status, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, jobID string) (*Status, error)

func (f FetcherFunc) FetchStatus(ctx context.Context, jobID string) (*Status, error) {
	return f(ctx, jobID)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// State is the poller lifecycle.
type State string

const (
	StatePolling   State = "polling"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Update is handed to the progress callback after every successful fetch.
type Update struct {
	Progress int
	Step     string
	Status   domain.JobStatus
}

// Options tune a Poller. Zero values take the defaults.
type Options struct {
	Interval   time.Duration
	Timeout    time.Duration
	Ceiling    int
	Clock      Clock
	OnProgress func(Update)
}

// Poller tracks one job until it reaches a terminal state or times out.
type Poller struct {
	jobID    string
	fetcher  Fetcher
	interval time.Duration
	timeout  time.Duration
	ceiling  int
	clock    Clock
	onUpdate func(Update)

	state     State
	deadline  time.Time
	displayed int
	lastFetch *TransientFetchError
	result    *domain.BookResult
	err       error
}

// New creates a Poller for jobID. The timeout starts counting now.
func New(jobID string, fetcher Fetcher, opts Options) *Poller {
	p := &Poller{
		jobID:    jobID,
		fetcher:  fetcher,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		ceiling:  opts.Ceiling,
		clock:    opts.Clock,
		onUpdate: opts.OnProgress,
		state:    StatePolling,
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.ceiling <= 0 || p.ceiling >= 100 {
		p.ceiling = DefaultCeiling
	}
	if p.clock == nil {
		p.clock = SystemClock
	}
	p.deadline = p.clock.Now().Add(p.timeout)
	return p
}

// State reports the current lifecycle state.
func (p *Poller) State() State { return p.state }

// Progress is the last displayed progress, clamped to the ceiling.
func (p *Poller) Progress() int { return p.displayed }

// Tick performs one fetch and advances the state machine. It returns true
// once the poller reached a terminal state.
func (p *Poller) Tick(ctx context.Context) bool {
	if p.state != StatePolling {
		return true
	}
	if !p.clock.Now().Before(p.deadline) {
		p.finish(StateFailed, nil, &TimeoutError{JobID: p.jobID, LastFetch: p.lastFetch})
		return true
	}

	status, err := p.fetcher.FetchStatus(ctx, p.jobID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		p.finish(StateFailed, nil, fmt.Errorf("job %s: %w", p.jobID, domain.ErrNotFound))
		return true
	case errors.Is(err, domain.ErrUnauthorized):
		p.finish(StateFailed, nil, fmt.Errorf("job %s: %w", p.jobID, domain.ErrUnauthorized))
		return true
	case err != nil:
		p.lastFetch = &TransientFetchError{Err: err}
		return false
	case status == nil:
		p.lastFetch = &TransientFetchError{Err: errEmptyStatus}
		return false
	}
	p.lastFetch = nil

	switch status.Status {
	case domain.JobStatusCompleted:
		if status.Result == nil {
			p.finish(StateFailed, nil, &JobFailedError{JobID: p.jobID, Message: "completed without a result"})
			return true
		}
		p.displayed = 100
		p.notify(Update{Progress: 100, Step: status.Step, Status: status.Status})
		p.finish(StateSucceeded, status.Result, nil)
		return true
	case domain.JobStatusFailed:
		msg := status.Error
		if msg == "" {
			msg = "generation failed"
		}
		p.finish(StateFailed, nil, &JobFailedError{JobID: p.jobID, Message: msg})
		return true
	}

	progress := min(max(status.Progress, p.displayed), p.ceiling)
	p.displayed = progress
	p.notify(Update{Progress: progress, Step: status.Step, Status: status.Status})
	return false
}

// Wait polls every interval until a terminal state, the timeout, or ctx
// cancellation. The first fetch happens one interval after the call.
func (p *Poller) Wait(ctx context.Context) (*domain.BookResult, error) {
	for p.state == StatePolling {
		wait := p.interval
		if remaining := p.deadline.Sub(p.clock.Now()); remaining < wait {
			wait = max(remaining, 0)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.clock.After(wait):
		}
		p.Tick(ctx)
	}
	return p.result, p.err
}

func (p *Poller) finish(state State, result *domain.BookResult, err error) {
	p.state = state
	p.result = result
	p.err = err
}

func (p *Poller) notify(u Update) {
	if p.onUpdate != nil {
		p.onUpdate(u)
	}
}
