package credit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/creditrail/credit-api/internal/domain/account"
	"github.com/creditrail/credit-api/internal/pkg/events"
)

// InsufficientError carries the shortfall detail alongside
// ErrInsufficientCredits so the handler can report it.
type InsufficientError struct {
	Requested int64
	Available int64
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient credits: requested %d, available %d", e.Requested, e.Available)
}

func (e *InsufficientError) Unwrap() error { return ErrInsufficientCredits }

// ConsumeParams describes one spend. BillingRecordID is both the audit
// reference and the idempotency key.
type ConsumeParams struct {
	UserID          uuid.UUID
	Amount          int64
	AllowPartial    bool
	BillingRecordID string
}

type ConsumeResult struct {
	Transactions     []Transaction `json:"transactions"`
	Requested        int64         `json:"requested"`
	Consumed         int64         `json:"consumed"`
	Deficit          int64         `json:"deficit"`
	BalanceAfter     int64         `json:"balance_after"`
	AlreadyProcessed bool          `json:"already_processed"`
}

// Consume spends credits across the user's accounts in planner order:
// soonest expiry first, then credit-type priority. Without AllowPartial the
// whole request either lands or nothing does; with it, whatever is available
// is drawn and the deficit reported back. One ledger row per touched account,
// all in a single transaction.
func (s *Service) Consume(ctx context.Context, p ConsumeParams) (*ConsumeResult, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	ctx2, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	if p.BillingRecordID != "" {
		processed, err := s.ledger.HasReferenceTx(ctx2, tx, p.UserID, TxConsume, RefBillingRecord, p.BillingRecordID)
		if err != nil {
			return nil, err
		}
		if processed {
			return &ConsumeResult{Requested: p.Amount, AlreadyProcessed: true}, nil
		}
	}

	allocations, err := s.allocations.ListActiveTx(ctx2, tx, p.UserID, true)
	if err != nil {
		return nil, err
	}

	plan := BuildPlan(allocations, p.Amount)
	if plan.Deficit > 0 && !p.AllowPartial {
		return nil, &InsufficientError{Requested: p.Amount, Available: plan.Planned}
	}
	if plan.Planned == 0 {
		// Partial consume of an empty balance: nothing to draw, nothing to
		// record, the whole request is deficit.
		return &ConsumeResult{Requested: p.Amount, Deficit: p.Amount}, nil
	}

	for _, d := range plan.Draws {
		if err := s.allocations.AddConsumedTx(ctx2, tx, d.AllocationID, d.Amount); err != nil {
			return nil, err
		}
	}

	var (
		transactions  []Transaction
		balanceBefore int64
		balanceAfter  int64
	)
	for _, ad := range plan.GroupByAccount() {
		before, after, err := s.accounts.ApplyDeltaTx(ctx2, tx, ad.AccountID, ad.Amount, account.DeltaConsume)
		if err != nil {
			return nil, err
		}
		balanceBefore += before
		balanceAfter += after

		txn := Transaction{
			AccountID:     ad.AccountID,
			UserID:        p.UserID,
			Type:          TxConsume,
			Amount:        ad.Amount,
			BalanceBefore: before,
			BalanceAfter:  after,
		}
		if p.BillingRecordID != "" {
			refType, refID := RefBillingRecord, p.BillingRecordID
			txn.ReferenceType = &refType
			txn.ReferenceID = &refID
		}
		if err := s.ledger.InsertTx(ctx2, tx, &txn); err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	log.Info().
		Str("user_id", p.UserID.String()).
		Int64("requested", p.Amount).
		Int64("consumed", plan.Planned).
		Str("billing_record_id", p.BillingRecordID).
		Msg("credits consumed")

	ids := make([]uuid.UUID, 0, len(transactions))
	for i := range transactions {
		ids = append(ids, transactions[i].ID)
	}
	s.publisher.Publish(ctx, events.SubjectConsumed, events.Consumed{
		TransactionIDs:  ids,
		UserID:          p.UserID,
		Amount:          plan.Planned,
		BillingRecordID: p.BillingRecordID,
		BalanceBefore:   balanceBefore,
		BalanceAfter:    balanceAfter,
	})

	return &ConsumeResult{
		Transactions: transactions,
		Requested:    p.Amount,
		Consumed:     plan.Planned,
		Deficit:      plan.Deficit,
		BalanceAfter: balanceAfter,
	}, nil
}
