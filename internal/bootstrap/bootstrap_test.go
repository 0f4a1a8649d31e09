package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"bookforge/internal/adapter/rediscache"
	"bookforge/internal/domain"
	"bookforge/internal/infra"
	"bookforge/internal/jobstore"
	"bookforge/internal/pipeline"
	"bookforge/internal/storage"
)

func TestOpenStoreMemorySeedsDevelopmentAccount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tests := []struct {
		env      string
		wantSeed bool
	}{
		{env: "development", wantSeed: true},
		{env: "production"},
	}
	for _, tc := range tests {
		s, err := OpenStore(ctx, &infra.Config{AppEnv: tc.env, StoreBackend: infra.StoreBackendMemory}, zerolog.Nop())
		if err != nil {
			t.Fatalf("%s: OpenStore: %v", tc.env, err)
		}
		_, err = s.Accounts.GetAccount(ctx, DevAccountID)
		if seeded := err == nil; seeded != tc.wantSeed {
			t.Fatalf("%s: seeded = %v, want %v (err %v)", tc.env, seeded, tc.wantSeed, err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}

func TestOpenStoreSQLiteWithRedisCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := &infra.Config{
		StoreBackend: infra.StoreBackendSQLite,
		SQLitePath:   ":memory:",
		RedisAddr:    mr.Addr(),
	}
	s, err := OpenStore(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if _, ok := s.Jobs.(*rediscache.JobRepository); !ok {
		t.Fatalf("jobs = %T, want redis cache in front", s.Jobs)
	}
	for _, name := range []string{"database", "redis"} {
		check, ok := s.Checks[name]
		if !ok {
			t.Fatalf("missing %s check", name)
		}
		if err := check(ctx); err != nil {
			t.Fatalf("%s check: %v", name, err)
		}
	}

	store := jobstore.New(s.Jobs, zerolog.Nop())
	job, err := store.CreateJob(ctx, "owner-1", domain.GenerationRequest{Genre: "fantasy", Subgenre: "cozy", TargetAudience: "adults"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	got, err := store.GetJob(ctx, "owner-1", job.ID)
	if err != nil || got.Status != domain.JobStatusQueued {
		t.Fatalf("GetJob = %+v, %v", got, err)
	}

	mr.Close()
	if err := s.Checks["redis"](ctx); err == nil {
		t.Fatal("redis check should fail once the server is gone")
	}
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	t.Parallel()
	if _, err := OpenStore(context.Background(), &infra.Config{StoreBackend: "mongo"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenArtifactsFilesystem(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a, err := OpenArtifacts(context.Background(), &infra.Config{StorageBackend: infra.StorageFilesystem, StoragePath: dir, StorageBaseURL: "http://localhost/static"})
	if err != nil {
		t.Fatalf("OpenArtifacts: %v", err)
	}
	if a.StaticDir == "" {
		t.Fatal("filesystem backend should expose a static dir")
	}
	ref, err := a.Store.Put(context.Background(), storage.JobKey("job-1", "book.pdf"), []byte("%PDF"), "application/pdf")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref.URL != "http://localhost/static/books/job-1/book.pdf" {
		t.Fatalf("URL = %q", ref.URL)
	}
}

func TestNewProvidersWithoutKeys(t *testing.T) {
	t.Parallel()
	p, err := NewProviders(&infra.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if p.Covers != nil || p.Narrator != nil || p.Notifier != nil {
		t.Fatalf("optional providers should be nil: %+v", p)
	}
	_, err = p.Text.Generate(context.Background(), domain.AIModelClaude, "hi", 10)
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("Generate err = %v", err)
	}
}

func TestNewRunnerRejectsBadPolicy(t *testing.T) {
	t.Parallel()
	s, _ := OpenStore(context.Background(), &infra.Config{StoreBackend: infra.StoreBackendMemory}, zerolog.Nop())
	p, _ := NewProviders(&infra.Config{}, zerolog.Nop())
	jobs := jobstore.New(s.Jobs, zerolog.Nop())

	if _, err := NewRunner(&infra.Config{StagePolicy: "market=degrade"}, jobs, s.Accounts, nil, p, zerolog.Nop()); err == nil {
		t.Fatal("expected mandatory stage error")
	}
	r, err := NewRunner(&infra.Config{StagePolicy: "listing=abort"}, jobs, s.Accounts, nil, p, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if got := r.Policies().For(pipeline.StageListing); got != pipeline.PolicyAbort {
		t.Fatalf("listing policy = %v", got)
	}
}
