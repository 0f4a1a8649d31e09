package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bookforge/internal/adapter/memory"
	"bookforge/internal/domain"
	"bookforge/internal/jobstore"
)

type countingRepo struct {
	domain.JobRepository
	gets int
}

func (c *countingRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	c.gets++
	return c.JobRepository.Get(ctx, id)
}

func setup(t *testing.T) (*miniredis.Miniredis, *countingRepo, *jobstore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &countingRepo{JobRepository: memory.NewJobRepository()}
	store := jobstore.New(New(inner, client, time.Hour, zerolog.Nop()), zerolog.Nop())
	return mr, inner, store
}

func newJob(t *testing.T, store *jobstore.Store) *domain.Job {
	t.Helper()
	job, err := store.CreateJob(context.Background(), "owner-1", domain.GenerationRequest{
		Genre: "mystery", Subgenre: "cozy", TargetAudience: "adults",
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job
}

func TestRunningJobsAreNotCached(t *testing.T) {
	mr, inner, store := setup(t)
	ctx := context.Background()
	job := newJob(t, store)
	if _, err := store.ClaimJob(ctx, job.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if _, err := store.UpdateProgress(ctx, job.ID, domain.JobStatusRunning, 30, "Drafting outline"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	for i := 0; i < 3; i++ {
		got, err := store.GetJob(ctx, "owner-1", job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Progress != 30 {
			t.Fatalf("progress = %d, want 30", got.Progress)
		}
	}
	if mr.Exists(keyPrefix + job.ID) {
		t.Fatalf("running job was cached")
	}
	if inner.gets != 3 {
		t.Fatalf("backend reads = %d, want 3", inner.gets)
	}
}

func TestTerminalJobsServedFromCache(t *testing.T) {
	mr, inner, store := setup(t)
	ctx := context.Background()
	job := newJob(t, store)
	if _, err := store.ClaimJob(ctx, job.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if _, err := store.CompleteJob(ctx, job.ID, domain.BookResult{Outline: domain.Outline{Title: "The Last Clue"}}); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if !mr.Exists(keyPrefix + job.ID) {
		t.Fatalf("completed job not cached")
	}
	if ttl := mr.TTL(keyPrefix + job.ID); ttl != time.Hour {
		t.Fatalf("ttl = %v, want 1h", ttl)
	}

	got, err := store.GetJob(ctx, "owner-1", job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != domain.JobStatusCompleted || got.Result == nil || got.Result.Outline.Title != "The Last Clue" {
		t.Fatalf("cached job = %+v", got)
	}
	if inner.gets != 0 {
		t.Fatalf("backend reads = %d, want 0", inner.gets)
	}
	if _, err := store.GetJob(ctx, "someone-else", job.ID); err == nil {
		t.Fatalf("foreign owner read a cached job")
	}
}

func TestFallsThroughWhenRedisIsDown(t *testing.T) {
	mr, inner, store := setup(t)
	ctx := context.Background()
	job := newJob(t, store)
	mr.Close()

	got, err := store.GetJob(ctx, "owner-1", job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != domain.JobStatusQueued || inner.gets != 1 {
		t.Fatalf("status=%s gets=%d, want queued from backend", got.Status, inner.gets)
	}
}

func TestCorruptEntryIsDropped(t *testing.T) {
	mr, inner, store := setup(t)
	job := newJob(t, store)
	if err := mr.Set(keyPrefix+job.ID, "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.GetJob(context.Background(), "owner-1", job.ID); err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if inner.gets != 1 {
		t.Fatalf("backend reads = %d, want 1", inner.gets)
	}
	if mr.Exists(keyPrefix + job.ID) {
		t.Fatalf("corrupt entry kept")
	}
}
