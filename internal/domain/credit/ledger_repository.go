package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// LedgerRepository is the append-only transaction log. Rows are inserted
// inside the caller's transaction and never touched afterwards.
type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const selectTransaction = `
	SELECT id, account_id, user_id, type, amount, balance_before, balance_after,
	       reference_id, reference_type, expires_at, created_at
	FROM credit_transactions`

// InsertTx appends one ledger row within the controlling transaction.
func (r *LedgerRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, t *Transaction) error {
	if t.Amount <= 0 {
		return fmt.Errorf("%w: ledger amount must be positive", ErrInternal)
	}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO credit_transactions (
			account_id, user_id, type, amount, balance_before, balance_after,
			reference_id, reference_type, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, t.AccountID, t.UserID, t.Type, t.Amount, t.BalanceBefore, t.BalanceAfter,
		t.ReferenceID, t.ReferenceType, t.ExpiresAt,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert transaction", ErrInternal)
	}
	return nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	var t Transaction
	err := r.db.GetContext(ctx, &t, selectTransaction+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get transaction", ErrInternal)
	}
	return &t, nil
}

// ListByUser returns paginated transaction history, newest first.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 20
	}

	transactions := make([]Transaction, 0)
	err := r.db.SelectContext(ctx, &transactions, selectTransaction+`
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions", ErrInternal)
	}
	return transactions, nil
}

// SearchFilters provides admin-facing transaction filtering.
type SearchFilters struct {
	UserID        *uuid.UUID
	Type          *string
	DateFrom      *time.Time
	DateTo        *time.Time
	ReferenceType *string
	ReferenceID   *string
	Limit         int
	Offset        int
}

func (r *LedgerRepository) Search(ctx context.Context, filters SearchFilters) ([]Transaction, error) {
	base := selectTransaction + ` WHERE 1=1`
	args := make([]interface{}, 0, 8)
	idx := 1

	if filters.UserID != nil {
		base += fmt.Sprintf(" AND user_id = $%d", idx)
		args = append(args, *filters.UserID)
		idx++
	}
	if filters.Type != nil && *filters.Type != "" {
		base += fmt.Sprintf(" AND type = $%d", idx)
		args = append(args, *filters.Type)
		idx++
	}
	if filters.DateFrom != nil {
		base += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, *filters.DateFrom)
		idx++
	}
	if filters.DateTo != nil {
		base += fmt.Sprintf(" AND created_at <= $%d", idx)
		args = append(args, *filters.DateTo)
		idx++
	}
	if filters.ReferenceType != nil && *filters.ReferenceType != "" {
		base += fmt.Sprintf(" AND reference_type = $%d", idx)
		args = append(args, *filters.ReferenceType)
		idx++
	}
	if filters.ReferenceID != nil && *filters.ReferenceID != "" {
		base += fmt.Sprintf(" AND reference_id = $%d", idx)
		args = append(args, *filters.ReferenceID)
		idx++
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}

	base = strings.TrimSpace(base) + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, filters.Offset)

	transactions := make([]Transaction, 0)
	if err := r.db.SelectContext(ctx, &transactions, base, args...); err != nil {
		return nil, fmt.Errorf("%w: search transactions", ErrInternal)
	}
	return transactions, nil
}

// HasReferenceTx reports whether a transaction of the type already references
// (referenceType, referenceID) for the user. Used to absorb event redelivery.
func (r *LedgerRepository) HasReferenceTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, txType TxType, referenceType, referenceID string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT TRUE FROM credit_transactions
		WHERE user_id = $1 AND type = $2 AND reference_type = $3 AND reference_id = $4
		LIMIT 1
	`, userID, txType, referenceType, referenceID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: check reference", ErrInternal)
	}
	return exists, nil
}

// SumRefundsTx totals the refunds already issued against the original
// transaction, within the caller's transaction.
func (r *LedgerRepository) SumRefundsTx(ctx context.Context, tx *sqlx.Tx, originalID uuid.UUID) (int64, error) {
	var sum int64
	err := tx.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0) FROM credit_transactions
		WHERE type = $1 AND reference_type = $2 AND reference_id = $3
	`, TxRefund, RefTransaction, originalID.String())
	if err != nil {
		return 0, fmt.Errorf("%w: sum refunds", ErrInternal)
	}
	return sum, nil
}
