package campaign

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/creditrail/credit-api/internal/domain/account"
)

// Kind distinguishes how a campaign is triggered.
type Kind string

const (
	KindStandard Kind = "standard"
	KindSignup   Kind = "signup"
	KindReferral Kind = "referral"
)

// Campaign is a budgeted, time-boxed, eligibility-gated source of allocations.
// allocated_amount never exceeds total_budget and only moves up, except when
// an operator raises the budget.
type Campaign struct {
	ID                      uuid.UUID          `db:"id" json:"id"`
	Name                    string             `db:"name" json:"name"`
	Kind                    Kind               `db:"kind" json:"kind"`
	CreditType              account.CreditType `db:"credit_type" json:"credit_type"`
	CreditAmount            int64              `db:"credit_amount" json:"credit_amount"`
	TotalBudget             int64              `db:"total_budget" json:"total_budget"`
	AllocatedAmount         int64              `db:"allocated_amount" json:"allocated_amount"`
	MinAccountAgeDays       *int               `db:"min_account_age_days" json:"min_account_age_days,omitempty"`
	AllowedTiers            pq.StringArray     `db:"allowed_tiers" json:"allowed_tiers,omitempty"`
	NewUsersOnly            bool               `db:"new_users_only" json:"new_users_only"`
	StartDate               time.Time          `db:"start_date" json:"start_date"`
	EndDate                 time.Time          `db:"end_date" json:"end_date"`
	ExpirationDays          int                `db:"expiration_days" json:"expiration_days"`
	MaxAllocationsPerUser   int                `db:"max_allocations_per_user" json:"max_allocations_per_user"`
	IsActive                bool               `db:"is_active" json:"is_active"`
	BudgetExhaustedNotified bool               `db:"budget_exhausted_notified" json:"-"`
	CreatedAt               time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time          `db:"updated_at" json:"updated_at"`
}

// ActiveAt reports whether the campaign accepts allocations at the given time.
func (c *Campaign) ActiveAt(now time.Time) bool {
	return c.IsActive && !now.Before(c.StartDate) && !now.After(c.EndDate)
}

// RemainingBudget returns the budget still available for allocation.
func (c *Campaign) RemainingBudget() int64 {
	return c.TotalBudget - c.AllocatedAmount
}

// UserProfile carries the caller-supplied facts the eligibility rules read.
type UserProfile struct {
	UserID       uuid.UUID `json:"user_id"`
	RegisteredAt time.Time `json:"registered_at"`
	Tier         string    `json:"tier"`
	IsNewUser    bool      `json:"is_new_user"`
}
