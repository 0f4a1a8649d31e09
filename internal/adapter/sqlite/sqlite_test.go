package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bookforge/internal/domain"
	"bookforge/internal/jobstore"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "bookforge.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bookforge.db")
	for i := 0; i < 2; i++ {
		db, err := Open(context.Background(), path, zerolog.Nop())
		if err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		_ = db.Close()
	}
}

func TestJobLifecycleRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := jobstore.New(db.Jobs(), zerolog.Nop())

	job, err := store.CreateJob(ctx, "owner-1", domain.GenerationRequest{
		Genre:          "thriller",
		Subgenre:       "techno thriller",
		TargetAudience: "adults",
		Keywords:       []string{"hackers"},
		Plan:           domain.PlanPro,
		Stages:         domain.StageSet{FullBook: true},
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := store.ClaimJob(ctx, job.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if _, err := store.UpdateProgress(ctx, job.ID, domain.JobStatusRunning, 42, "Writing chapters"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	result := domain.BookResult{
		Outline:         domain.Outline{Title: "Zero Day"},
		ModelUsed:       "Claude Opus 4.6",
		GenerationNotes: []string{"Cover generation skipped: quota"},
	}
	if _, err := store.CompleteJob(ctx, job.ID, result); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	got, err := store.GetJob(ctx, "owner-1", job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != domain.JobStatusCompleted || got.Progress != 100 {
		t.Fatalf("status/progress = %s/%d, want completed/100", got.Status, got.Progress)
	}
	if got.Result == nil || got.Result.Outline.Title != "Zero Day" {
		t.Fatalf("result = %+v, want stored outline", got.Result)
	}
	if !got.Request.Stages.FullBook || got.Request.Keywords[0] != "hackers" {
		t.Fatalf("request not persisted: %+v", got.Request)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.Before(got.CreatedAt) {
		t.Fatalf("timestamps = %v/%v", got.CreatedAt, got.UpdatedAt)
	}

	if _, err := store.FailJob(ctx, job.ID, "late failure"); err == nil {
		t.Fatalf("FailJob on completed job succeeded")
	}
}

func TestGetUnknownJob(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Jobs().Get(context.Background(), uuid.NewString())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := jobstore.New(db.Jobs(), zerolog.Nop())
	job, err := store.CreateJob(ctx, "owner-1", domain.GenerationRequest{Genre: "romance", Subgenre: "regency", TargetAudience: "adults"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ClaimJob(ctx, job.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("claims won = %d, want 1", wins)
	}
}

func TestChargeIsIdempotentPerKey(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	accounts := db.Accounts()
	if err := accounts.Upsert(ctx, domain.Account{ID: "acct-1", Email: "a@example.com", Plan: domain.PlanPro, CreditsRemaining: 3}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		charged int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := accounts.Charge(ctx, "acct-1", "job-1")
			if err != nil {
				t.Errorf("Charge: %v", err)
				return
			}
			if ok {
				mu.Lock()
				charged++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if charged != 1 {
		t.Fatalf("charges applied = %d, want 1", charged)
	}
	balance, err := accounts.Balance(ctx, "acct-1")
	if err != nil || balance != 2 {
		t.Fatalf("Balance = %d, %v; want 2", balance, err)
	}

	remaining, ok, err := accounts.Charge(ctx, "acct-1", "job-2")
	if err != nil || !ok || remaining != 1 {
		t.Fatalf("Charge(job-2) = %d, %v, %v; want 1, true, nil", remaining, ok, err)
	}
}

func TestChargeNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	accounts := openTestDB(t).Accounts()
	if err := accounts.Upsert(ctx, domain.Account{ID: "acct-1", Email: "a@example.com", Plan: domain.PlanStarter}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	remaining, ok, err := accounts.Charge(ctx, "acct-1", "job-1")
	if err != nil || !ok || remaining != 0 {
		t.Fatalf("Charge = %d, %v, %v; want 0, true, nil", remaining, ok, err)
	}
	if _, _, err := accounts.Charge(ctx, "missing", "job-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Charge(missing) error = %v, want ErrNotFound", err)
	}
}
