package credit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/creditrail/credit-api/internal/domain/account"
	"github.com/creditrail/credit-api/internal/pkg/events"
)

type RefundParams struct {
	// TransactionID is the consume transaction being refunded.
	TransactionID uuid.UUID
	// Amount zero means "whatever is still refundable".
	Amount int64
	Reason string
}

type RefundResult struct {
	Transaction  *Transaction `json:"transaction"`
	Refunded     int64        `json:"refunded"`
	BalanceAfter int64        `json:"balance_after"`
}

// Refund returns consumed credits to the account. Only consume transactions
// are refundable, and the cumulative refunds against one transaction never
// exceed its amount; the account row lock serializes concurrent refunds.
//
// Restored credits flow back into the account's unexpired allocations in
// reverse draw order. Whatever cannot be restored there (the drawn
// allocations expired in the meantime) becomes a fresh allocation under the
// account's expiration policy.
func (s *Service) Refund(ctx context.Context, p RefundParams) (*RefundResult, error) {
	if p.Amount < 0 {
		return nil, ErrInvalidAmount
	}
	if p.Reason == "" {
		return nil, fmt.Errorf("%w: refund reason is required", ErrInvalidInput)
	}

	// Ledger rows are immutable, so the original can be read outside the tx.
	orig, err := s.ledger.GetByID(ctx, p.TransactionID)
	if err != nil {
		return nil, err
	}
	if orig.Type != TxConsume {
		return nil, fmt.Errorf("%w: %s transactions are not refundable", ErrNotRefundable, orig.Type)
	}

	ctx2, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	acc, err := s.accounts.GetForUpdateTx(ctx2, tx, orig.AccountID)
	if err != nil {
		return nil, err
	}
	if !acc.IsActive {
		return nil, fmt.Errorf("%w: account is deactivated", ErrNotRefundable)
	}

	refunded, err := s.ledger.SumRefundsTx(ctx2, tx, orig.ID)
	if err != nil {
		return nil, err
	}
	refundable := orig.Amount - refunded
	amount := p.Amount
	if amount == 0 {
		amount = refundable
	}
	if amount > refundable {
		return nil, fmt.Errorf("%w: %d requested, %d refundable", ErrRefundExceedsOriginal, amount, refundable)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: already fully refunded", ErrRefundExceedsOriginal)
	}

	before, after, err := s.accounts.ApplyDeltaTx(ctx2, tx, acc.ID, amount, account.DeltaRefund)
	if err != nil {
		return nil, err
	}

	refType, refID := RefTransaction, orig.ID.String()
	txn := &Transaction{
		AccountID:     acc.ID,
		UserID:        orig.UserID,
		Type:          TxRefund,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceID:   &refID,
		ReferenceType: &refType,
	}
	if err := s.ledger.InsertTx(ctx2, tx, txn); err != nil {
		return nil, err
	}

	restorable, err := s.allocations.ListRestorableByAccountTx(ctx2, tx, acc.ID)
	if err != nil {
		return nil, err
	}
	left := amount
	for i := range restorable {
		if left == 0 {
			break
		}
		portion := restorable[i].ConsumedAmount
		if portion > left {
			portion = left
		}
		if err := s.allocations.RestoreConsumedTx(ctx2, tx, restorable[i].ID, portion); err != nil {
			return nil, err
		}
		left -= portion
	}
	if left > 0 {
		if err := s.allocations.InsertTx(ctx2, tx, &Allocation{
			UserID:        orig.UserID,
			AccountID:     acc.ID,
			TransactionID: txn.ID,
			Amount:        left,
			ExpiresAt:     acc.ExpiryFrom(time.Now()),
			Status:        StatusCompleted,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	log.Info().
		Str("transaction_id", orig.ID.String()).
		Str("user_id", orig.UserID.String()).
		Int64("amount", amount).
		Str("reason", p.Reason).
		Msg("credits refunded")

	s.publisher.Publish(ctx, events.SubjectRefunded, events.Refunded{
		TransactionID:         txn.ID,
		OriginalTransactionID: orig.ID,
		UserID:                orig.UserID,
		Amount:                amount,
		Reason:                p.Reason,
		BalanceAfter:          after,
	})

	return &RefundResult{Transaction: txn, Refunded: amount, BalanceAfter: after}, nil
}
