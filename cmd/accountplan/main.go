package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"bookforge/internal/adapter/repo"
	"bookforge/internal/adapter/sqlite"
	"bookforge/internal/domain"
	"bookforge/internal/infra"
	"bookforge/internal/middleware"
)

// accountplan assigns a plan and credit balance to an account and can mint a
// bearer token for it.
func main() {
	var (
		idFlag      string
		emailFlag   string
		planFlag    string
		creditsFlag int
		tokenFlag   bool
		ttlFlag     time.Duration
	)

	flag.StringVar(&idFlag, "id", "", "account ID (UUID); a new one is generated when empty")
	flag.StringVar(&emailFlag, "email", "", "account email")
	flag.StringVar(&planFlag, "plan", string(domain.PlanStarter), "plan to assign (starter, pro, enterprise)")
	flag.IntVar(&creditsFlag, "credits", 10, "credit balance to set")
	flag.BoolVar(&tokenFlag, "token", false, "print a signed bearer token for the account")
	flag.DurationVar(&ttlFlag, "ttl", 30*24*time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()

	plan, err := domain.ParsePlanTier(planFlag)
	if err != nil {
		exitWithError(err)
	}
	if creditsFlag < 0 {
		exitWithError(errors.New("-credits must not be negative"))
	}
	email := strings.TrimSpace(emailFlag)
	id := strings.TrimSpace(idFlag)
	if id == "" && email == "" {
		exitWithError(errors.New("either -id or -email must be provided"))
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger("cli").With().Str("cmd", "accountplan").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	acc := domain.Account{ID: id, Email: email, Plan: plan, CreditsRemaining: creditsFlag}
	saved, err := upsert(ctx, cfg, logger, acc)
	if err != nil {
		exitWithError(err)
	}

	fmt.Printf("Account %s (%s) set to plan %s with %d credits\n", saved.ID, saved.Email, saved.Plan, saved.CreditsRemaining)
	if tokenFlag {
		token, err := middleware.SignJWT(cfg.JWTSecret, middleware.TokenClaims{
			Sub:    saved.ID,
			Email:  saved.Email,
			Exp:    time.Now().Add(ttlFlag).Unix(),
			Issuer: middleware.TokenIssuer,
		})
		if err != nil {
			exitWithError(fmt.Errorf("sign token: %w", err))
		}
		fmt.Println(token)
	}
}

func upsert(ctx context.Context, cfg *infra.Config, logger infra.Logger, acc domain.Account) (*domain.Account, error) {
	switch cfg.StoreBackend {
	case infra.StoreBackendPostgres:
		if err := infra.MigratePostgres(ctx, cfg.DatabaseURL, logger); err != nil {
			return nil, err
		}
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		accounts := repo.NewAccountRepository(infra.NewSQLRunner(pool, logger))
		if acc.ID == "" {
			existing, err := accounts.GetAccountByEmail(ctx, acc.Email)
			switch {
			case err == nil:
				acc.ID = existing.ID
			case errors.Is(err, domain.ErrNotFound):
				acc.ID = uuid.NewString()
			default:
				return nil, fmt.Errorf("look up account: %w", err)
			}
		}
		return accounts.UpsertPlan(ctx, acc)
	case infra.StoreBackendSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		if acc.ID == "" {
			acc.ID = uuid.NewString()
		}
		accounts := db.Accounts()
		if err := accounts.Upsert(ctx, acc); err != nil {
			return nil, err
		}
		return accounts.GetAccount(ctx, acc.ID)
	}
	return nil, fmt.Errorf("store backend %q keeps no accounts between runs", cfg.StoreBackend)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
