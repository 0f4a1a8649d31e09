package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"bookforge/internal/adapter/jobcodec"
	"bookforge/internal/domain"
	"bookforge/internal/infra"
	"bookforge/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. Mutations
// hold a row lock for the duration of the callback.
type JobRepositoryPG struct {
	runner *infra.SQLRunner
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(runner *infra.SQLRunner) *JobRepositoryPG {
	return &JobRepositoryPG{runner: runner}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	request, result, err := jobcodec.Encode(job)
	if err != nil {
		return err
	}
	_, err = r.runner.Exec(ctx, sqlinline.QInsertBookJob,
		job.ID,
		job.OwnerID,
		string(job.Status),
		job.Progress,
		job.Step,
		request,
		result,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return scanJob(r.runner.QueryRow(ctx, sqlinline.QSelectBookJob, jobID))
}

// Mutate locks the row, applies fn and writes the result back in one transaction.
func (r *JobRepositoryPG) Mutate(ctx context.Context, jobID string, fn func(*domain.Job) error) (*domain.Job, error) {
	var updated *domain.Job
	err := r.runner.InTx(ctx, func(tx infra.SQLExecutor) error {
		job, err := scanJob(tx.QueryRow(ctx, sqlinline.QSelectBookJobForUpdate, jobID))
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		_, result, err := jobcodec.Encode(job)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, sqlinline.QUpdateBookJob,
			job.ID,
			string(job.Status),
			job.Progress,
			job.Step,
			result,
			job.Error,
			job.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job       domain.Job
		status    string
		request   []byte
		result    []byte
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&status,
		&job.Progress,
		&job.Step,
		&request,
		&result,
		&job.Error,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.CreatedAt = createdAt.UTC()
	job.UpdatedAt = updatedAt.UTC()
	if err := jobcodec.Decode(&job, request, result); err != nil {
		return nil, err
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
