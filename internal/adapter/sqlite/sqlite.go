// Package sqlite stores jobs and accounts in a single SQLite file for
// single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"bookforge/internal/adapter/jobcodec"
	"bookforge/internal/domain"
	"bookforge/internal/infra"
)

const timeLayout = time.RFC3339Nano

// DB wraps the SQLite handle shared by the repositories.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations. Pass
// ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, logger infra.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection: writers serialize on it and ":memory:" stays a single database.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: apply %q: %w", pragma, err)
		}
	}
	if err := infra.Migrate(ctx, db, infra.DialectSQLite, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Jobs returns the job repository.
func (d *DB) Jobs() *JobRepository { return &JobRepository{db: d.db} }

// Accounts returns the account repository and credit ledger.
func (d *DB) Accounts() *AccountRepository { return &AccountRepository{db: d.db} }

// JobRepository implements domain.JobRepository.
type JobRepository struct {
	db *sql.DB
}

const selectJob = `SELECT id, owner_id, status, progress, COALESCE(step, ''), request, result, COALESCE(error, ''), created_at, updated_at
FROM book_jobs WHERE id = ?`

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	request, result, err := jobcodec.Encode(job)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO book_jobs (id, owner_id, status, progress, step, request, result, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, NULLIF(?, ''), ?, ?)`,
		job.ID, job.OwnerID, string(job.Status), job.Progress, job.Step,
		string(request), nullableText(result), job.Error,
		job.CreatedAt.UTC().Format(timeLayout), job.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return scanJob(r.db.QueryRowContext(ctx, selectJob, jobID))
}

func (r *JobRepository) Mutate(ctx context.Context, jobID string, fn func(*domain.Job) error) (job *domain.Job, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	job, err = scanJob(tx.QueryRowContext(ctx, selectJob, jobID))
	if err != nil {
		return nil, err
	}
	if err = fn(job); err != nil {
		return nil, err
	}
	_, result, err := jobcodec.Encode(job)
	if err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE book_jobs SET status = ?, progress = ?, step = NULLIF(?, ''), result = ?, error = NULLIF(?, ''), updated_at = ?
		WHERE id = ?`,
		string(job.Status), job.Progress, job.Step, nullableText(result), job.Error,
		job.UpdatedAt.UTC().Format(timeLayout), job.ID,
	); err != nil {
		return nil, fmt.Errorf("sqlite: update job: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return job, nil
}

func scanJob(row *sql.Row) (*domain.Job, error) {
	var (
		job                  domain.Job
		status               string
		request              string
		result               sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&job.ID, &job.OwnerID, &status, &job.Progress, &job.Step, &request, &result, &job.Error, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: scan job: %w", err)
	}
	job.Status = domain.JobStatus(status)
	var err error
	if job.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("sqlite: parse created_at: %w", err)
	}
	if job.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("sqlite: parse updated_at: %w", err)
	}
	if err := jobcodec.Decode(&job, []byte(request), []byte(result.String)); err != nil {
		return nil, err
	}
	return &job, nil
}

func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// AccountRepository implements domain.AccountRepository and domain.CreditLedger.
type AccountRepository struct {
	db *sql.DB
}

// Upsert creates acc or replaces its plan and balance.
func (r *AccountRepository) Upsert(ctx context.Context, acc domain.Account) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, plan, credits_remaining, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET email = excluded.email, plan = excluded.plan,
			credits_remaining = excluded.credits_remaining, updated_at = excluded.updated_at`,
		acc.ID, acc.Email, string(acc.Plan), acc.CreditsRemaining, now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert account: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	var (
		acc                  domain.Account
		plan                 string
		createdAt, updatedAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, plan, credits_remaining, created_at, updated_at FROM accounts WHERE id = ?`, accountID,
	).Scan(&acc.ID, &acc.Email, &plan, &acc.CreditsRemaining, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get account: %w", err)
	}
	acc.Plan = domain.PlanTier(plan)
	acc.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	acc.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &acc, nil
}

func (r *AccountRepository) Charge(ctx context.Context, accountID, key string) (remaining int, charged bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = tx.QueryRowContext(ctx, `SELECT credits_remaining FROM accounts WHERE id = ?`, accountID).Scan(&remaining); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, domain.ErrNotFound
		}
		return 0, false, fmt.Errorf("sqlite: read balance: %w", err)
	}
	now := time.Now().UTC().Format(timeLayout)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO credit_charges (charge_key, account_id, created_at) VALUES (?, ?, ?) ON CONFLICT (charge_key) DO NOTHING`,
		key, accountID, now,
	)
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: insert charge: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected > 0 {
		charged = true
		if _, err = tx.ExecContext(ctx,
			`UPDATE accounts SET credits_remaining = MAX(credits_remaining - 1, 0), updated_at = ? WHERE id = ?`,
			now, accountID,
		); err != nil {
			return 0, false, fmt.Errorf("sqlite: decrement credits: %w", err)
		}
		if remaining > 0 {
			remaining--
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("sqlite: commit: %w", err)
	}
	return remaining, charged, nil
}

func (r *AccountRepository) Balance(ctx context.Context, accountID string) (int, error) {
	acc, err := r.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acc.CreditsRemaining, nil
}

var (
	_ domain.JobRepository     = (*JobRepository)(nil)
	_ domain.AccountRepository = (*AccountRepository)(nil)
	_ domain.CreditLedger      = (*AccountRepository)(nil)
)
