// Package bootstrap builds the component graph shared by the API server and
// the queue worker from an infra.Config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookforge/internal/adapter/memory"
	"bookforge/internal/adapter/rediscache"
	"bookforge/internal/adapter/repo"
	"bookforge/internal/adapter/sqlite"
	"bookforge/internal/domain"
	"bookforge/internal/infra"
	"bookforge/internal/pipeline"
	"bookforge/internal/providers/genai"
	"bookforge/internal/providers/llm"
	"bookforge/internal/providers/notify"
	"bookforge/internal/providers/tts"
	"bookforge/internal/storage"
)

const (
	jobCacheTTL = 10 * time.Minute

	// DevAccountID is seeded into the memory backend in development.
	DevAccountID = "dev"
)

// Accounts reads plans and charges credits.
type Accounts interface {
	domain.AccountRepository
	domain.CreditLedger
}

// Check reports the health of one dependency.
type Check func(context.Context) error

// Store is the persistence layer selected by STORE_BACKEND.
type Store struct {
	Jobs     domain.JobRepository
	Accounts Accounts
	Checks   map[string]Check

	closers []func() error
}

// Close releases every handle opened by OpenStore, last opened first.
func (s *Store) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func OpenStore(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Store, error) {
	s := &Store{Checks: map[string]Check{}}
	switch cfg.StoreBackend {
	case infra.StoreBackendPostgres:
		if err := infra.MigratePostgres(ctx, cfg.DatabaseURL, logger); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, logger)
		s.Jobs = repo.NewJobRepository(runner)
		s.Accounts = repo.NewAccountRepository(runner)
		s.Checks["database"] = func(ctx context.Context) error { return pool.Ping(ctx) }
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
	case infra.StoreBackendSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		s.Jobs = db.Jobs()
		s.Accounts = db.Accounts()
		s.Checks["database"] = db.Ping
		s.closers = append(s.closers, db.Close)
	case infra.StoreBackendMemory:
		accounts := memory.NewAccounts()
		if cfg.AppEnv == "development" {
			accounts.Put(domain.Account{ID: DevAccountID, Plan: domain.PlanEnterprise, CreditsRemaining: 100})
			logger.Warn().Str("account_id", DevAccountID).Msg("memory store seeded with development account")
		}
		s.Jobs = memory.NewJobRepository()
		s.Accounts = accounts
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}

	if cfg.RedisAddr != "" {
		client, err := rediscache.NewClient(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.Jobs = rediscache.New(s.Jobs, client, jobCacheTTL, logger)
		s.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		s.closers = append(s.closers, client.Close)
	}
	return s, nil
}

// Artifacts is the artifact store selected by STORAGE_BACKEND. StaticDir is
// set only for the filesystem backend, whose files the API serves itself.
type Artifacts struct {
	Store     storage.ArtifactStore
	StaticDir string
}

func OpenArtifacts(ctx context.Context, cfg *infra.Config) (*Artifacts, error) {
	switch cfg.StorageBackend {
	case infra.StorageS3:
		s3, err := storage.NewS3Store(storage.S3Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return &Artifacts{Store: s3}, nil
	default:
		fs, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			return nil, err
		}
		return &Artifacts{Store: fs, StaticDir: fs.BasePath()}, nil
	}
}

// Providers holds the model clients configured by API keys. Missing keys
// leave the field nil.
type Providers struct {
	Text     *llm.Router
	Covers   pipeline.CoverRenderer
	Narrator pipeline.Narrator
	Notifier pipeline.Notifier
}

func NewProviders(cfg *infra.Config, logger infra.Logger) (*Providers, error) {
	var anthropic, openai llm.Completer
	if cfg.AnthropicAPIKey != "" {
		c, err := llm.NewAnthropicClient(llm.AnthropicOptions{APIKey: cfg.AnthropicAPIKey, BaseURL: cfg.AnthropicBaseURL})
		if err != nil {
			return nil, err
		}
		anthropic = c
	}
	if cfg.OpenAIAPIKey != "" {
		c, err := llm.NewOpenAIClient(llm.OpenAIOptions{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL, Organization: cfg.OpenAIOrg})
		if err != nil {
			return nil, err
		}
		openai = c
	}
	if anthropic == nil && openai == nil {
		logger.Warn().Msg("no text model configured; generation requests will fail")
	}

	p := &Providers{Text: llm.NewRouter(anthropic, openai)}
	if cfg.GeminiAPIKey != "" {
		c, err := genai.NewClient(genai.Options{APIKey: cfg.GeminiAPIKey, BaseURL: cfg.GeminiBaseURL, Model: cfg.GeminiImageModel, Logger: &logger})
		if err != nil {
			return nil, err
		}
		p.Covers = c
	}
	if cfg.ElevenLabsAPIKey != "" {
		c, err := tts.NewClient(tts.Options{APIKey: cfg.ElevenLabsAPIKey, DefaultVoice: cfg.ElevenLabsVoice})
		if err != nil {
			return nil, err
		}
		p.Narrator = c
	}
	if cfg.ResendAPIKey != "" {
		c, err := notify.NewResend(notify.Options{APIKey: cfg.ResendAPIKey, From: cfg.ResendFromEmail})
		if err != nil {
			return nil, err
		}
		p.Notifier = c
	}
	return p, nil
}

// NewRunner wires the pipeline with the stage policy overrides from
// STAGE_POLICY.
func NewRunner(cfg *infra.Config, jobs pipeline.JobStore, accounts Accounts, artifacts storage.ArtifactStore, providers *Providers, logger infra.Logger) (*pipeline.Runner, error) {
	policies, err := pipeline.ParsePolicies(cfg.StagePolicy)
	if err != nil {
		return nil, fmt.Errorf("STAGE_POLICY: %w", err)
	}
	logger.Info().Str("policies", policies.String()).Msg("stage policies")
	return pipeline.New(pipeline.Config{
		Jobs:      jobs,
		Text:      providers.Text,
		Covers:    providers.Covers,
		Narrator:  providers.Narrator,
		Artifacts: artifacts,
		Credits:   accounts,
		Notifier:  providers.Notifier,
		Policies:  policies,
		Logger:    logger,
	})
}
