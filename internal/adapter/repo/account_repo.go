package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bookforge/internal/domain"
	"bookforge/internal/infra"
	"bookforge/internal/sqlinline"
)

// AccountRepositoryPG reads accounts and records credit charges on PostgreSQL.
type AccountRepositoryPG struct {
	runner *infra.SQLRunner
}

// NewAccountRepository creates a new AccountRepositoryPG.
func NewAccountRepository(runner *infra.SQLRunner) *AccountRepositoryPG {
	return &AccountRepositoryPG{runner: runner}
}

// GetAccount fetches an account by UUID.
func (r *AccountRepositoryPG) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return scanAccount(r.runner.QueryRow(ctx, sqlinline.QSelectAccount, id))
}

// GetAccountByEmail fetches an account by email, case-insensitively.
func (r *AccountRepositoryPG) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return scanAccount(r.runner.QueryRow(ctx, sqlinline.QSelectAccountByEmail, email))
}

// UpsertPlan creates the account or replaces its plan and credit balance.
func (r *AccountRepositoryPG) UpsertPlan(ctx context.Context, acc domain.Account) (*domain.Account, error) {
	return scanAccount(r.runner.QueryRow(ctx, sqlinline.QUpsertAccountPlan, acc.ID, acc.Email, string(acc.Plan), acc.CreditsRemaining))
}

// Charge deducts one credit for key. The charge row and the balance update
// share a transaction, and the account row lock orders concurrent charges.
func (r *AccountRepositoryPG) Charge(ctx context.Context, accountID, key string) (int, bool, error) {
	var (
		remaining int
		charged   bool
	)
	err := r.runner.InTx(ctx, func(tx infra.SQLExecutor) error {
		if err := tx.QueryRow(ctx, sqlinline.QLockAccountCredits, accountID).Scan(&remaining); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		tag, err := tx.Exec(ctx, sqlinline.QInsertCreditCharge, key, accountID)
		if err != nil {
			return fmt.Errorf("insert charge: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		charged = true
		return tx.QueryRow(ctx, sqlinline.QDecrementCredits, accountID).Scan(&remaining)
	})
	if err != nil {
		return 0, false, err
	}
	return remaining, charged, nil
}

// Balance returns the remaining credits.
func (r *AccountRepositoryPG) Balance(ctx context.Context, accountID string) (int, error) {
	acc, err := r.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acc.CreditsRemaining, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		acc  domain.Account
		plan string
	)
	if err := row.Scan(&acc.ID, &acc.Email, &plan, &acc.CreditsRemaining, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	acc.Plan = domain.PlanTier(plan)
	return &acc, nil
}

var (
	_ domain.AccountRepository = (*AccountRepositoryPG)(nil)
	_ domain.CreditLedger      = (*AccountRepositoryPG)(nil)
)
