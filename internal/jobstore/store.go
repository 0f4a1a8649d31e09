// Package jobstore owns the job state machine. Backends only persist records;
// every transition rule lives here.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookforge/internal/domain"
	"bookforge/internal/infra"
)

const (
	stepClaimed   = "Claimed"
	stepCompleted = "Completed"

	defaultFailureMessage = "generation failed"
)

// Store exposes owner scoped reads and serialized job transitions.
type Store struct {
	repo   domain.JobRepository
	logger infra.Logger
	now    func() time.Time
	newID  func() string
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides job identifier allocation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// New builds a Store over repo.
func New(repo domain.JobRepository, logger infra.Logger, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob validates req and stores a new queued job for ownerID.
func (s *Store) CreateJob(ctx context.Context, ownerID string, req domain.GenerationRequest) (*domain.Job, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.ErrUnauthorized
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	job := &domain.Job{
		ID:        s.newID(),
		OwnerID:   ownerID,
		Status:    domain.JobStatusQueued,
		Progress:  0,
		Request:   req.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.logger.Info().Str("job_id", job.ID).Str("owner_id", ownerID).Str("plan", string(req.Plan)).Msg("jobstore: job queued")
	return job.Clone(), nil
}

// GetJob returns the job only when ownerID owns it. Unknown and foreign jobs
// both yield domain.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, ownerID, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if ownerID == "" || job.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// ClaimJob moves a queued job to running. Only one caller can win the claim.
func (s *Store) ClaimJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.mutate(ctx, jobID, func(job *domain.Job) error {
		if job.Status != domain.JobStatusQueued {
			return &domain.InvalidTransitionError{JobID: job.ID, From: job.Status, Reason: "only queued jobs can be claimed"}
		}
		job.Status = domain.JobStatusRunning
		job.Progress = 1
		job.Step = stepClaimed
		return nil
	})
}

// UpdateProgress records progress of a running job. Progress must stay within
// 1..99 and never move backwards.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, status domain.JobStatus, progress int, step string) (*domain.Job, error) {
	return s.mutate(ctx, jobID, func(job *domain.Job) error {
		if job.Status.Terminal() {
			return &domain.InvalidTransitionError{JobID: job.ID, From: job.Status, Reason: "job is terminal"}
		}
		if job.Status != domain.JobStatusRunning || status != domain.JobStatusRunning {
			return &domain.InvalidTransitionError{JobID: job.ID, From: job.Status, Reason: fmt.Sprintf("progress updates require a running job, got target %q", status)}
		}
		if progress < 1 || progress > domain.ProgressCeiling {
			return &domain.InvalidTransitionError{JobID: job.ID, From: job.Status, Reason: fmt.Sprintf("progress %d outside 1..%d", progress, domain.ProgressCeiling)}
		}
		if progress < job.Progress {
			return &domain.InvalidTransitionError{JobID: job.ID, From: job.Status, Reason: fmt.Sprintf("progress regression %d -> %d", job.Progress, progress)}
		}
		job.Progress = progress
		job.Step = strings.TrimSpace(step)
		return nil
	})
}

// CompleteJob stores result and marks the job completed. A second call is
// rejected, so callers may key side effects on a nil error.
func (s *Store) CompleteJob(ctx context.Context, jobID string, result domain.BookResult) (*domain.Job, error) {
	return s.mutate(ctx, jobID, func(job *domain.Job) error {
		if job.Status != domain.JobStatusRunning {
			return &domain.InvalidTransitionError{JobID: job.ID, From: job.Status, Reason: "only running jobs can complete"}
		}
		r := result.Clone()
		job.Status = domain.JobStatusCompleted
		job.Progress = 100
		job.Step = stepCompleted
		job.Result = &r
		job.Error = ""
		return nil
	})
}

// FailJob marks a queued or running job failed with message.
func (s *Store) FailJob(ctx context.Context, jobID string, message string) (*domain.Job, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = defaultFailureMessage
	}
	return s.mutate(ctx, jobID, func(job *domain.Job) error {
		if job.Status.Terminal() {
			return &domain.InvalidTransitionError{JobID: job.ID, From: job.Status, Reason: "job is terminal"}
		}
		job.Status = domain.JobStatusFailed
		job.Result = nil
		job.Error = message
		return nil
	})
}

func (s *Store) mutate(ctx context.Context, jobID string, fn func(*domain.Job) error) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	job, err := s.repo.Mutate(ctx, jobID, func(job *domain.Job) error {
		if err := fn(job); err != nil {
			return err
		}
		job.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		var transition *domain.InvalidTransitionError
		if errors.As(err, &transition) {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("jobstore: rejected transition")
		}
		return nil, err
	}
	return job, nil
}
