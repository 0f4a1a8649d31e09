package poller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bookforge/internal/domain"
)

// fakeClock advances instantly whenever the poller waits.
type fakeClock struct {
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type scripted struct {
	steps []func() (*Status, error)
	calls int
}

func (s *scripted) FetchStatus(context.Context, string) (*Status, error) {
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i]()
}

func running(progress int) func() (*Status, error) {
	return func() (*Status, error) {
		return &Status{Status: domain.JobStatusRunning, Progress: progress, Step: "Writing"}, nil
	}
}

func fetchErr(err error) func() (*Status, error) {
	return func() (*Status, error) { return nil, err }
}

func TestWaitReturnsResultAndClampsProgress(t *testing.T) {
	clock := newFakeClock()
	var seen []int
	f := &scripted{steps: []func() (*Status, error){
		func() (*Status, error) { return &Status{Status: domain.JobStatusQueued}, nil },
		running(40),
		running(99),
		func() (*Status, error) {
			return &Status{Status: domain.JobStatusCompleted, Progress: 100, Result: &domain.BookResult{ModelUsed: "GPT-5"}}, nil
		},
	}}
	p := New("job-1", f, Options{Clock: clock, OnProgress: func(u Update) { seen = append(seen, u.Progress) }})

	res, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.ModelUsed != "GPT-5" || p.State() != StateSucceeded {
		t.Fatalf("result = %+v state = %s", res, p.State())
	}
	want := []int{0, 40, 95, 100}
	if len(seen) != len(want) {
		t.Fatalf("progress updates = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("progress updates = %v, want %v", seen, want)
		}
	}
	if len(clock.waits) != 4 || clock.waits[0] != DefaultInterval {
		t.Fatalf("waits = %v", clock.waits)
	}
}

func TestWaitSurfacesJobFailure(t *testing.T) {
	f := &scripted{steps: []func() (*Status, error){
		running(12),
		func() (*Status, error) {
			return &Status{Status: domain.JobStatusFailed, Error: "Outline generation failed"}, nil
		},
	}}
	p := New("job-2", f, Options{Clock: newFakeClock()})

	_, err := p.Wait(context.Background())
	var failed *JobFailedError
	if !errors.As(err, &failed) || failed.Message != "Outline generation failed" {
		t.Fatalf("Wait error = %v", err)
	}
	if errors.Is(err, ErrPollTimeout) || p.State() != StateFailed {
		t.Fatalf("job failure must not look like a timeout: %v (%s)", err, p.State())
	}
}

func TestWaitTimesOutWithoutCancellingJob(t *testing.T) {
	clock := newFakeClock()
	f := &scripted{steps: []func() (*Status, error){running(50)}}
	p := New("job-3", f, Options{Clock: clock, Interval: time.Second, Timeout: 10 * time.Second})

	_, err := p.Wait(context.Background())
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("Wait error = %v, want ErrPollTimeout", err)
	}
	var transient *TransientFetchError
	if errors.As(err, &transient) {
		t.Fatalf("no fetch failed, got %v", err)
	}
	if f.calls != 9 {
		t.Fatalf("fetches = %d, want 9 before the deadline", f.calls)
	}
}

func TestTransientErrorsAreRetried(t *testing.T) {
	boom := errors.New("connection refused")
	f := &scripted{steps: []func() (*Status, error){
		fetchErr(boom),
		fetchErr(boom),
		func() (*Status, error) {
			return &Status{Status: domain.JobStatusCompleted, Result: &domain.BookResult{}}, nil
		},
	}}
	p := New("job-4", f, Options{Clock: newFakeClock()})
	if _, err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if f.calls != 3 {
		t.Fatalf("fetches = %d", f.calls)
	}
}

func TestTimeoutCarriesLastTransientError(t *testing.T) {
	boom := errors.New("tls handshake timeout")
	f := &scripted{steps: []func() (*Status, error){running(10), fetchErr(boom)}}
	p := New("job-5", f, Options{Clock: newFakeClock(), Interval: time.Second, Timeout: 5 * time.Second})

	_, err := p.Wait(context.Background())
	var transient *TransientFetchError
	if !errors.Is(err, ErrPollTimeout) || !errors.As(err, &transient) || !errors.Is(err, boom) {
		t.Fatalf("Wait error = %v", err)
	}
}

func TestEmptyStatusIsTransient(t *testing.T) {
	f := &scripted{steps: []func() (*Status, error){
		func() (*Status, error) { return nil, nil },
	}}
	p := New("job-7", f, Options{Clock: newFakeClock(), Interval: time.Second, Timeout: 3 * time.Second})

	if p.Tick(context.Background()) {
		t.Fatal("a missing status must not end polling")
	}
	if p.State() != StatePolling {
		t.Fatalf("state = %s, want polling", p.State())
	}

	_, err := p.Wait(context.Background())
	var transient *TransientFetchError
	if !errors.Is(err, ErrPollTimeout) || !errors.As(err, &transient) || !errors.Is(err, errEmptyStatus) {
		t.Fatalf("Wait error = %v", err)
	}
}

func TestTerminalFetchErrors(t *testing.T) {
	for _, want := range []error{domain.ErrNotFound, domain.ErrUnauthorized} {
		f := &scripted{steps: []func() (*Status, error){fetchErr(fmt.Errorf("status 4xx: %w", want))}}
		p := New("job-6", f, Options{Clock: newFakeClock()})
		_, err := p.Wait(context.Background())
		if !errors.Is(err, want) || f.calls != 1 {
			t.Fatalf("Wait error = %v after %d fetches, want %v", err, f.calls, want)
		}
	}
}

func TestDisplayedProgressNeverRegresses(t *testing.T) {
	f := &scripted{steps: []func() (*Status, error){running(50), running(30)}}
	p := New("job-7", f, Options{Clock: newFakeClock()})
	p.Tick(context.Background())
	p.Tick(context.Background())
	if p.Progress() != 50 || p.State() != StatePolling {
		t.Fatalf("progress = %d state = %s", p.Progress(), p.State())
	}
}

func TestWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New("job-8", &scripted{steps: []func() (*Status, error){running(1)}}, Options{Clock: blockedClock{}})
	if _, err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait error = %v", err)
	}
}

type blockedClock struct{}

func (blockedClock) Now() time.Time                       { return time.Unix(0, 0) }
func (blockedClock) After(time.Duration) <-chan time.Time { return nil }
