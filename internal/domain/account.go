package domain

import (
	"fmt"
	"strings"
	"time"
)

// PlanTier enumerates billing plans, ordered by capability.
type PlanTier string

const (
	PlanStarter    PlanTier = "starter"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// ParsePlanTier normalizes a plan name.
func ParsePlanTier(s string) (PlanTier, error) {
	p := PlanTier(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PlanStarter, PlanPro, PlanEnterprise:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedPlan, s)
}

// Account holds the billing facts the core reads for a user.
type Account struct {
	ID               string
	Email            string
	Plan             PlanTier
	CreditsRemaining int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
