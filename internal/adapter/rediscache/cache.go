// Package rediscache fronts a job repository with a Redis read cache for
// finished jobs.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"bookforge/internal/domain"
	"bookforge/internal/infra"
)

const (
	keyPrefix  = "book_job:"
	DefaultTTL = time.Hour
)

// JobRepository decorates another domain.JobRepository. Only terminal jobs are
// cached: they never change again, so a cached copy can never be older than
// the row it mirrors.
type JobRepository struct {
	next   domain.JobRepository
	client *redis.Client
	ttl    time.Duration
	logger infra.Logger
}

// NewClient connects to Redis at addr and verifies the connection.
func NewClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// New wraps next. A non-positive ttl selects DefaultTTL.
func New(next domain.JobRepository, client *redis.Client, ttl time.Duration, logger infra.Logger) *JobRepository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &JobRepository{next: next, client: client, ttl: ttl, logger: logger}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	return r.next.Create(ctx, job)
}

// Get serves terminal jobs from Redis and falls through to the wrapped
// repository on a miss or any Redis error.
func (r *JobRepository) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	raw, err := r.client.Get(ctx, keyPrefix+jobID).Bytes()
	switch {
	case err == nil:
		var job domain.Job
		if jerr := json.Unmarshal(raw, &job); jerr == nil {
			return &job, nil
		}
		r.logger.Warn().Str("job_id", jobID).Msg("rediscache: dropping undecodable entry")
		_ = r.client.Del(ctx, keyPrefix+jobID).Err()
	case !errors.Is(err, redis.Nil):
		r.logger.Warn().Err(err).Str("job_id", jobID).Msg("rediscache: get failed")
	}

	job, err := r.next.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	r.store(ctx, job)
	return job, nil
}

func (r *JobRepository) Mutate(ctx context.Context, jobID string, fn func(*domain.Job) error) (*domain.Job, error) {
	job, err := r.next.Mutate(ctx, jobID, fn)
	if err != nil {
		return nil, err
	}
	r.store(ctx, job)
	return job, nil
}

func (r *JobRepository) store(ctx context.Context, job *domain.Job) {
	if !job.Status.Terminal() {
		return
	}
	payload, err := json.Marshal(job)
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("rediscache: encode failed")
		return
	}
	if err := r.client.Set(ctx, keyPrefix+job.ID, payload, r.ttl).Err(); err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("rediscache: set failed")
	}
}

var _ domain.JobRepository = (*JobRepository)(nil)
