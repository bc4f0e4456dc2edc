// Package events defines the subjects and payloads exchanged on the bus.
// Delivery is at-least-once and unordered across subjects; every subscriber
// must tolerate redelivery.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Published subjects.
const (
	SubjectAllocated       = "credit.allocated"
	SubjectConsumed        = "credit.consumed"
	SubjectExpired         = "credit.expired"
	SubjectTransferred     = "credit.transferred"
	SubjectRefunded        = "credit.refunded"
	SubjectExpiringSoon    = "credit.expiring_soon"
	SubjectBudgetExhausted = "credit.campaign.budget_exhausted"
)

// Subscribed subjects.
const (
	SubjectUserCreated         = "user.created"
	SubjectUserDeleted         = "user.deleted"
	SubjectSubscriptionCreated = "subscription.created"
	SubjectSubscriptionRenewed = "subscription.renewed"
	SubjectOrderCompleted      = "order.completed"
)

type Allocated struct {
	AllocationID uuid.UUID  `json:"allocation_id"`
	UserID       uuid.UUID  `json:"user_id"`
	CreditType   string     `json:"credit_type"`
	Amount       int64      `json:"amount"`
	CampaignID   *uuid.UUID `json:"campaign_id,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	BalanceAfter int64      `json:"balance_after"`
}

type Consumed struct {
	TransactionIDs  []uuid.UUID `json:"transaction_ids"`
	UserID          uuid.UUID   `json:"user_id"`
	Amount          int64       `json:"amount"`
	BillingRecordID string      `json:"billing_record_id,omitempty"`
	BalanceBefore   int64       `json:"balance_before"`
	BalanceAfter    int64       `json:"balance_after"`
}

type Expired struct {
	UserID       uuid.UUID `json:"user_id"`
	Amount       int64     `json:"amount"`
	CreditType   string    `json:"credit_type"`
	BalanceAfter int64     `json:"balance_after"`
}

type Transferred struct {
	TransferID uuid.UUID `json:"transfer_id"`
	FromUserID uuid.UUID `json:"from_user_id"`
	ToUserID   uuid.UUID `json:"to_user_id"`
	Amount     int64     `json:"amount"`
	CreditType string    `json:"credit_type"`
}

type Refunded struct {
	TransactionID         uuid.UUID `json:"transaction_id"`
	OriginalTransactionID uuid.UUID `json:"original_transaction_id"`
	UserID                uuid.UUID `json:"user_id"`
	Amount                int64     `json:"amount"`
	Reason                string    `json:"reason"`
	BalanceAfter          int64     `json:"balance_after"`
}

type ExpiringSoon struct {
	UserID     uuid.UUID `json:"user_id"`
	Amount     int64     `json:"amount"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreditType string    `json:"credit_type"`
}

type BudgetExhausted struct {
	CampaignID      uuid.UUID `json:"campaign_id"`
	Name            string    `json:"name"`
	TotalBudget     int64     `json:"total_budget"`
	AllocatedAmount int64     `json:"allocated_amount"`
}

type UserCreated struct {
	UserID    uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type UserDeleted struct {
	UserID uuid.UUID `json:"user_id"`
}

type SubscriptionEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	PeriodEnd      time.Time `json:"period_end"`
	Credits        int64     `json:"credits,omitempty"`
}

type OrderCompleted struct {
	OrderID      uuid.UUID  `json:"order_id"`
	UserID       uuid.UUID  `json:"user_id"`
	ReferralCode string     `json:"referral_code,omitempty"`
	ReferrerID   *uuid.UUID `json:"referrer_id,omitempty"`
}
