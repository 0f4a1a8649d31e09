// Package memory provides process local repositories for tests and single
// binary development runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bookforge/internal/domain"
)

// JobRepository keeps jobs in a map guarded by a mutex.
type JobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// NewJobRepository returns an empty repository.
func NewJobRepository() *JobRepository {
	return &JobRepository{jobs: make(map[string]*domain.Job)}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("memory: job %s already exists", job.ID)
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *JobRepository) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (r *JobRepository) Mutate(ctx context.Context, jobID string, fn func(*domain.Job) error) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	r.jobs[jobID] = next
	return next.Clone(), nil
}

// Accounts implements both domain.AccountRepository and domain.CreditLedger.
type Accounts struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	charges  map[string]string
}

// NewAccounts returns an account store seeded with accounts.
func NewAccounts(accounts ...domain.Account) *Accounts {
	a := &Accounts{
		accounts: make(map[string]*domain.Account),
		charges:  make(map[string]string),
	}
	for _, acc := range accounts {
		a.Put(acc)
	}
	return a
}

// Put inserts or replaces an account.
func (a *Accounts) Put(acc domain.Account) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now().UTC()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now
	a.accounts[acc.ID] = &acc
}

func (a *Accounts) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.accounts[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *acc
	return &out, nil
}

func (a *Accounts) Charge(ctx context.Context, accountID, key string) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.accounts[accountID]
	if !ok {
		return 0, false, domain.ErrNotFound
	}
	if _, done := a.charges[key]; done {
		return acc.CreditsRemaining, false, nil
	}
	a.charges[key] = accountID
	if acc.CreditsRemaining > 0 {
		acc.CreditsRemaining--
	}
	acc.UpdatedAt = time.Now().UTC()
	return acc.CreditsRemaining, true, nil
}

func (a *Accounts) Balance(ctx context.Context, accountID string) (int, error) {
	acc, err := a.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acc.CreditsRemaining, nil
}

var (
	_ domain.JobRepository     = (*JobRepository)(nil)
	_ domain.AccountRepository = (*Accounts)(nil)
	_ domain.CreditLedger      = (*Accounts)(nil)
)
