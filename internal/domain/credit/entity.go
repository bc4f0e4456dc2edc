package credit

import (
	"time"

	"github.com/google/uuid"

	"github.com/creditrail/credit-api/internal/domain/account"
)

// TxType defines the supported ledger transaction types.
type TxType string

const (
	TxAllocate    TxType = "allocate"
	TxConsume     TxType = "consume"
	TxExpire      TxType = "expire"
	TxTransferOut TxType = "transfer_out"
	TxTransferIn  TxType = "transfer_in"
	TxRefund      TxType = "refund"
)

// Credits reports the polarity of the transaction type: true when it raises
// the balance.
func (t TxType) Credits() bool {
	switch t {
	case TxAllocate, TxTransferIn, TxRefund:
		return true
	}
	return false
}

// Reference types linking transactions to their origin.
const (
	RefBillingRecord = "billing_record"
	RefCampaign      = "campaign"
	RefTransfer      = "transfer"
	RefTransaction   = "transaction"
	RefAllocation    = "allocation"
	RefSubscription  = "subscription"
	RefOrder         = "order"
	RefPurge         = "purge"
)

// Transaction is an immutable ledger row. It is never updated or deleted; the
// account balance is reconstructable from the sequence of these rows.
type Transaction struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	AccountID     uuid.UUID  `db:"account_id" json:"account_id"`
	UserID        uuid.UUID  `db:"user_id" json:"user_id"`
	Type          TxType     `db:"type" json:"type"`
	Amount        int64      `db:"amount" json:"amount"`
	BalanceBefore int64      `db:"balance_before" json:"balance_before"`
	BalanceAfter  int64      `db:"balance_after" json:"balance_after"`
	ReferenceID   *string    `db:"reference_id" json:"reference_id,omitempty"`
	ReferenceType *string    `db:"reference_type" json:"reference_type,omitempty"`
	ExpiresAt     *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// AllocationStatus tracks the allocation lifecycle.
type AllocationStatus string

const (
	StatusPending   AllocationStatus = "pending"
	StatusCompleted AllocationStatus = "completed"
	StatusFailed    AllocationStatus = "failed"
	StatusRevoked   AllocationStatus = "revoked"
	StatusExpired   AllocationStatus = "expired"
)

// Allocation is one grant of credits with its own expiration clock. The
// consumption planner increments consumed_amount, the sweeper increments
// expired_amount; rows are never deleted.
type Allocation struct {
	ID             uuid.UUID        `db:"id" json:"id"`
	CampaignID     *uuid.UUID       `db:"campaign_id" json:"campaign_id,omitempty"`
	UserID         uuid.UUID        `db:"user_id" json:"user_id"`
	AccountID      uuid.UUID        `db:"account_id" json:"account_id"`
	TransactionID  uuid.UUID        `db:"transaction_id" json:"transaction_id"`
	Amount         int64            `db:"amount" json:"amount"`
	ConsumedAmount int64            `db:"consumed_amount" json:"consumed_amount"`
	ExpiredAmount  int64            `db:"expired_amount" json:"expired_amount"`
	ExpiresAt      *time.Time       `db:"expires_at" json:"expires_at,omitempty"`
	Status         AllocationStatus `db:"status" json:"status"`
	ExpiryWarned   bool             `db:"expiry_warned" json:"-"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

// Remaining returns the portion of the grant still available.
func (a *Allocation) Remaining() int64 {
	return a.Amount - a.ConsumedAmount - a.ExpiredAmount
}

// ActiveAllocation is the planner's input row: an allocation joined with its
// account's credit type.
type ActiveAllocation struct {
	Allocation
	CreditType account.CreditType `db:"credit_type"`
}
