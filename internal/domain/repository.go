package domain

import "context"

// JobRepository persists job records. Implementations must serialize Mutate
// calls for the same job; reads may run concurrently.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	// Mutate loads the job, applies fn to a copy and persists the copy when fn
	// returns nil. Errors from fn are returned unchanged and nothing is written.
	Mutate(ctx context.Context, jobID string, fn func(*Job) error) (*Job, error)
}

// AccountRepository reads billing facts owned by the billing system.
type AccountRepository interface {
	GetAccount(ctx context.Context, accountID string) (*Account, error)
}

// CreditLedger deducts credits at most once per charge key.
type CreditLedger interface {
	// Charge deducts one credit for key unless key was already charged. It
	// returns the balance after the call and whether this call charged.
	Charge(ctx context.Context, accountID, key string) (remaining int, charged bool, err error)
	Balance(ctx context.Context, accountID string) (int, error)
}
