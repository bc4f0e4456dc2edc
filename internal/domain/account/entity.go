package account

import (
	"time"

	"github.com/google/uuid"
)

// CreditType names an independently accounted bucket of credits.
type CreditType string

const (
	TypePromotional  CreditType = "promotional"
	TypeBonus        CreditType = "bonus"
	TypeReferral     CreditType = "referral"
	TypeSubscription CreditType = "subscription"
	TypeCompensation CreditType = "compensation"
)

// Valid reports whether t is a known credit type.
func (t CreditType) Valid() bool {
	switch t {
	case TypePromotional, TypeBonus, TypeReferral, TypeSubscription, TypeCompensation:
		return true
	}
	return false
}

// ConsumePriority orders draws between allocations expiring at the same time.
// Higher drains first.
func (t CreditType) ConsumePriority() int {
	switch t {
	case TypeCompensation:
		return 5
	case TypePromotional:
		return 4
	case TypeBonus:
		return 3
	case TypeReferral:
		return 2
	case TypeSubscription:
		return 1
	}
	return 0
}

// Transferable reports whether peer-to-peer transfer is allowed for this type.
func (t CreditType) Transferable() bool {
	return t != TypeCompensation
}

// ExpirationPolicy controls how an account derives expiry dates for new allocations.
type ExpirationPolicy string

const (
	PolicyFixedDays          ExpirationPolicy = "fixed_days"
	PolicyEndOfMonth         ExpirationPolicy = "end_of_month"
	PolicyEndOfYear          ExpirationPolicy = "end_of_year"
	PolicySubscriptionPeriod ExpirationPolicy = "subscription_period"
	PolicyNever              ExpirationPolicy = "never"
)

// Valid reports whether p is a known expiration policy.
func (p ExpirationPolicy) Valid() bool {
	switch p {
	case PolicyFixedDays, PolicyEndOfMonth, PolicyEndOfYear, PolicySubscriptionPeriod, PolicyNever:
		return true
	}
	return false
}

// CreditAccount holds the per (user, credit_type) balance.
// Balance is a materialized view of the transaction ledger and always satisfies
// balance = total_allocated - total_consumed - total_expired.
type CreditAccount struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	UserID           uuid.UUID        `db:"user_id" json:"user_id"`
	CreditType       CreditType       `db:"credit_type" json:"credit_type"`
	Balance          int64            `db:"balance" json:"balance"`
	TotalAllocated   int64            `db:"total_allocated" json:"total_allocated"`
	TotalConsumed    int64            `db:"total_consumed" json:"total_consumed"`
	TotalExpired     int64            `db:"total_expired" json:"total_expired"`
	ExpirationPolicy ExpirationPolicy `db:"expiration_policy" json:"expiration_policy"`
	ExpirationDays   int              `db:"expiration_days" json:"expiration_days"`
	IsActive         bool             `db:"is_active" json:"is_active"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// ExpiryFrom derives the expiry for an allocation created at ref, or nil when
// the account never expires. Policies that depend on external state
// (subscription_period) return nil; the caller supplies the date.
func (a *CreditAccount) ExpiryFrom(ref time.Time) *time.Time {
	switch a.ExpirationPolicy {
	case PolicyFixedDays:
		t := ref.AddDate(0, 0, a.ExpirationDays)
		return &t
	case PolicyEndOfMonth:
		t := time.Date(ref.Year(), ref.Month()+1, 1, 0, 0, 0, 0, ref.Location()).Add(-time.Second)
		return &t
	case PolicyEndOfYear:
		t := time.Date(ref.Year()+1, time.January, 1, 0, 0, 0, 0, ref.Location()).Add(-time.Second)
		return &t
	}
	return nil
}
