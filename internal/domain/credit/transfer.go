package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/creditrail/credit-api/internal/domain/account"
	"github.com/creditrail/credit-api/internal/pkg/accountsvc"
	"github.com/creditrail/credit-api/internal/pkg/events"
)

type TransferParams struct {
	FromUserID uuid.UUID
	ToUserID   uuid.UUID
	CreditType account.CreditType
	Amount     int64
}

type TransferResult struct {
	TransferID   uuid.UUID    `json:"transfer_id"`
	OutTx        *Transaction `json:"out_transaction"`
	InTx         *Transaction `json:"in_transaction"`
	BalanceAfter int64        `json:"balance_after"`
}

// Transfer moves credits of one type between users. The debit and the credit
// are a single transaction sharing a transfer id, so the pair either lands
// whole or not at all. Transfers are all-or-nothing: no partial draw.
//
// The recipient's allocation inherits the earliest expiry among the drawn
// allocations, so transferring cannot extend a credit's lifetime.
func (s *Service) Transfer(ctx context.Context, p TransferParams) (*TransferResult, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if p.FromUserID == p.ToUserID {
		return nil, ErrSelfTransfer
	}
	if !p.CreditType.Valid() {
		return nil, fmt.Errorf("%w: unknown credit type %q", ErrInvalidInput, p.CreditType)
	}
	if !p.CreditType.Transferable() {
		return nil, fmt.Errorf("%w: %s credits are not transferable", ErrTransferNotAllowed, p.CreditType)
	}

	if s.accountSvc != nil {
		if err := s.accountSvc.UserExists(ctx, p.ToUserID); err != nil {
			if errors.Is(err, accountsvc.ErrUserNotFound) {
				return nil, fmt.Errorf("%w: recipient", ErrNotFound)
			}
			return nil, err
		}
	}

	ctx2, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	sender, err := s.accounts.GetOrCreateTx(ctx2, tx, p.FromUserID, p.CreditType)
	if err != nil {
		return nil, err
	}

	allocations, err := s.allocations.ListActiveByAccountTx(ctx2, tx, sender.ID, true)
	if err != nil {
		return nil, err
	}

	plan := BuildPlan(allocations, p.Amount)
	if plan.Deficit > 0 {
		return nil, &InsufficientError{Requested: p.Amount, Available: plan.Planned}
	}

	for _, d := range plan.Draws {
		if err := s.allocations.AddConsumedTx(ctx2, tx, d.AllocationID, d.Amount); err != nil {
			return nil, err
		}
	}

	transferID := uuid.New()
	refType, refID := RefTransfer, transferID.String()

	_, outAfter, err := s.accounts.ApplyDeltaTx(ctx2, tx, sender.ID, p.Amount, account.DeltaTransferOut)
	if err != nil {
		return nil, err
	}
	outTx := &Transaction{
		AccountID:     sender.ID,
		UserID:        p.FromUserID,
		Type:          TxTransferOut,
		Amount:        p.Amount,
		BalanceBefore: outAfter + p.Amount,
		BalanceAfter:  outAfter,
		ReferenceID:   &refID,
		ReferenceType: &refType,
	}
	if err := s.ledger.InsertTx(ctx2, tx, outTx); err != nil {
		return nil, err
	}

	recipient, err := s.accounts.GetOrCreateTx(ctx2, tx, p.ToUserID, p.CreditType)
	if err != nil {
		return nil, err
	}
	if !recipient.IsActive {
		return nil, fmt.Errorf("%w: recipient account is deactivated", ErrInvalidInput)
	}

	expiresAt := earliestExpiry(allocations, plan.Draws)
	if expiresAt == nil {
		expiresAt = recipient.ExpiryFrom(time.Now())
	}

	inBefore, inAfter, err := s.accounts.ApplyDeltaTx(ctx2, tx, recipient.ID, p.Amount, account.DeltaTransferIn)
	if err != nil {
		return nil, err
	}
	inTx := &Transaction{
		AccountID:     recipient.ID,
		UserID:        p.ToUserID,
		Type:          TxTransferIn,
		Amount:        p.Amount,
		BalanceBefore: inBefore,
		BalanceAfter:  inAfter,
		ReferenceID:   &refID,
		ReferenceType: &refType,
		ExpiresAt:     expiresAt,
	}
	if err := s.ledger.InsertTx(ctx2, tx, inTx); err != nil {
		return nil, err
	}

	if err := s.allocations.InsertTx(ctx2, tx, &Allocation{
		UserID:        p.ToUserID,
		AccountID:     recipient.ID,
		TransactionID: inTx.ID,
		Amount:        p.Amount,
		ExpiresAt:     expiresAt,
		Status:        StatusCompleted,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	log.Info().
		Str("transfer_id", transferID.String()).
		Str("from_user_id", p.FromUserID.String()).
		Str("to_user_id", p.ToUserID.String()).
		Str("credit_type", string(p.CreditType)).
		Int64("amount", p.Amount).
		Msg("credits transferred")

	s.publisher.Publish(ctx, events.SubjectTransferred, events.Transferred{
		TransferID: transferID,
		FromUserID: p.FromUserID,
		ToUserID:   p.ToUserID,
		Amount:     p.Amount,
		CreditType: string(p.CreditType),
	})

	return &TransferResult{TransferID: transferID, OutTx: outTx, InTx: inTx, BalanceAfter: outAfter}, nil
}

// earliestExpiry returns the soonest expires_at among the drawn allocations,
// nil when every drawn allocation is never-expiring.
func earliestExpiry(allocations []ActiveAllocation, draws []Draw) *time.Time {
	byID := make(map[uuid.UUID]*ActiveAllocation, len(allocations))
	for i := range allocations {
		byID[allocations[i].ID] = &allocations[i]
	}
	var earliest *time.Time
	for _, d := range draws {
		alloc, ok := byID[d.AllocationID]
		if !ok || alloc.ExpiresAt == nil {
			continue
		}
		if earliest == nil || alloc.ExpiresAt.Before(*earliest) {
			earliest = alloc.ExpiresAt
		}
	}
	return earliest
}
