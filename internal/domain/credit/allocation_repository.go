package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AllocationRepository owns allocation rows and their consumed/expired
// counters. All counter mutations carry the remaining-amount guard in the
// UPDATE itself.
type AllocationRepository struct {
	db *sqlx.DB
}

func NewAllocationRepository(db *sqlx.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

const selectAllocation = `
	SELECT id, campaign_id, user_id, account_id, transaction_id, amount,
	       consumed_amount, expired_amount, expires_at, status, expiry_warned, created_at
	FROM allocations`

const selectActiveAllocation = `
	SELECT a.id, a.campaign_id, a.user_id, a.account_id, a.transaction_id, a.amount,
	       a.consumed_amount, a.expired_amount, a.expires_at, a.status, a.expiry_warned,
	       a.created_at, acc.credit_type
	FROM allocations a
	JOIN credit_accounts acc ON acc.id = a.account_id`

// InsertTx creates an allocation row within the controlling transaction.
func (r *AllocationRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, a *Allocation) error {
	if a.Status == "" {
		a.Status = StatusCompleted
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO allocations (
			campaign_id, user_id, account_id, transaction_id, amount, expires_at, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, a.CampaignID, a.UserID, a.AccountID, a.TransactionID, a.Amount, a.ExpiresAt, a.Status,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert allocation", ErrInternal)
	}
	return nil
}

// ListActiveTx loads the user's drawable allocations. With lock=true the rows
// are locked FOR UPDATE so a concurrent consume on the same user serializes
// behind this transaction.
func (r *AllocationRepository) ListActiveTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, lock bool) ([]ActiveAllocation, error) {
	query := selectActiveAllocation + `
		WHERE a.user_id = $1
		  AND a.status = 'completed'
		  AND acc.is_active
		  AND (a.expires_at IS NULL OR a.expires_at > now())
		  AND a.amount - a.consumed_amount - a.expired_amount > 0
		ORDER BY a.id`
	if lock {
		query += ` FOR UPDATE OF a`
	}

	allocations := make([]ActiveAllocation, 0)
	if err := tx.SelectContext(ctx, &allocations, query, userID); err != nil {
		return nil, fmt.Errorf("%w: list active allocations", ErrInternal)
	}
	return allocations, nil
}

// ListActiveByAccountTx is ListActiveTx restricted to one account.
func (r *AllocationRepository) ListActiveByAccountTx(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, lock bool) ([]ActiveAllocation, error) {
	query := selectActiveAllocation + `
		WHERE a.account_id = $1
		  AND a.status = 'completed'
		  AND (a.expires_at IS NULL OR a.expires_at > now())
		  AND a.amount - a.consumed_amount - a.expired_amount > 0
		ORDER BY a.id`
	if lock {
		query += ` FOR UPDATE OF a`
	}

	allocations := make([]ActiveAllocation, 0)
	if err := tx.SelectContext(ctx, &allocations, query, accountID); err != nil {
		return nil, fmt.Errorf("%w: list account allocations", ErrInternal)
	}
	return allocations, nil
}

// CountByCampaignTx counts the user's non-failed allocations from a campaign.
// Must run under the campaign row lock to be race-safe against concurrent
// identical requests.
func (r *AllocationRepository) CountByCampaignTx(ctx context.Context, tx *sqlx.Tx, userID, campaignID uuid.UUID) (int, error) {
	var count int
	err := tx.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM allocations
		WHERE user_id = $1 AND campaign_id = $2 AND status NOT IN ('failed', 'revoked')
	`, userID, campaignID)
	if err != nil {
		return 0, fmt.Errorf("%w: count campaign allocations", ErrInternal)
	}
	return count, nil
}

// LatestByCampaignTx returns the user's most recent allocation from the
// campaign, for the idempotent repeat-call result.
func (r *AllocationRepository) LatestByCampaignTx(ctx context.Context, tx *sqlx.Tx, userID, campaignID uuid.UUID) (*Allocation, error) {
	var a Allocation
	err := tx.GetContext(ctx, &a, selectAllocation+`
		WHERE user_id = $1 AND campaign_id = $2 AND status NOT IN ('failed', 'revoked')
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, campaignID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: latest campaign allocation", ErrInternal)
	}
	return &a, nil
}

// ListRestorableByAccountTx returns the account's allocations that a refund
// may restore consumed credits into: completed, not yet expired, with
// something consumed. Ordered newest-expiry-first, the reverse of draw order,
// so restoration unwinds the most recent draws first. Rows are locked.
func (r *AllocationRepository) ListRestorableByAccountTx(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID) ([]Allocation, error) {
	allocations := make([]Allocation, 0)
	err := tx.SelectContext(ctx, &allocations, selectAllocation+`
		WHERE account_id = $1
		  AND status = 'completed'
		  AND consumed_amount > 0
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY expires_at DESC NULLS FIRST, created_at DESC, id DESC
		FOR UPDATE
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: list restorable allocations", ErrInternal)
	}
	return allocations, nil
}

// GetByReferenceTx finds the allocation created for a deduplicated grant by
// following the ledger row that carries the reference.
func (r *AllocationRepository) GetByReferenceTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, refType, refID string) (*Allocation, error) {
	var a Allocation
	err := tx.GetContext(ctx, &a, `
		SELECT a.id, a.campaign_id, a.user_id, a.account_id, a.transaction_id,
		       a.amount, a.consumed_amount, a.expired_amount, a.expires_at,
		       a.status, a.expiry_warned, a.created_at
		FROM allocations a
		JOIN credit_transactions t ON t.id = a.transaction_id
		WHERE a.user_id = $1 AND t.reference_type = $2 AND t.reference_id = $3
		ORDER BY a.created_at DESC
		LIMIT 1
	`, userID, refType, refID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: allocation by reference", ErrInternal)
	}
	return &a, nil
}

// AddConsumedTx raises consumed_amount by portion. The guard keeps
// remaining_amount non-negative; zero rows means a concurrent mutation beat
// the approved plan.
func (r *AllocationRepository) AddConsumedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, portion int64) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE allocations
		SET consumed_amount = consumed_amount + $2
		WHERE id = $1 AND amount - consumed_amount - expired_amount >= $2
	`, id, portion)
	if err != nil {
		return fmt.Errorf("%w: add consumed", ErrInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		return ErrPlanConflict
	}
	return nil
}

// RestoreConsumedTx lowers consumed_amount by portion (refund reversal).
func (r *AllocationRepository) RestoreConsumedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, portion int64) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE allocations
		SET consumed_amount = consumed_amount - $2
		WHERE id = $1 AND consumed_amount >= $2
	`, id, portion)
	if err != nil {
		return fmt.Errorf("%w: restore consumed", ErrInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		return ErrPlanConflict
	}
	return nil
}

// ExpireTx moves the allocation's remainder into expired_amount and marks the
// row with the terminal status. The caller holds the row lock and passes the
// remainder it observed; a mismatch means a concurrent mutation and fails the
// statement.
func (r *AllocationRepository) ExpireTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, remainder int64, status AllocationStatus) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE allocations
		SET expired_amount = expired_amount + $2, status = $3
		WHERE id = $1 AND status = 'completed'
		  AND amount - consumed_amount - expired_amount = $2
	`, id, remainder, status)
	if err != nil {
		return fmt.Errorf("%w: expire allocation", ErrInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		return ErrPlanConflict
	}
	return nil
}

// GetForUpdateTx loads one allocation with a row lock.
func (r *AllocationRepository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Allocation, error) {
	var a Allocation
	err := tx.GetContext(ctx, &a, selectAllocation+` WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock allocation", ErrInternal)
	}
	return &a, nil
}

// ListDueForExpiry returns ids of allocations whose remainder is past its
// expiry date.
func (r *AllocationRepository) ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	ids := make([]uuid.UUID, 0)
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM allocations
		WHERE status = 'completed'
		  AND expires_at IS NOT NULL AND expires_at <= $1
		  AND amount - consumed_amount - expired_amount > 0
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list due allocations", ErrInternal)
	}
	return ids, nil
}

// ListExpiringSoon returns unwarned allocations whose remainder expires within
// the window.
func (r *AllocationRepository) ListExpiringSoon(ctx context.Context, now, until time.Time, limit int) ([]ActiveAllocation, error) {
	if limit <= 0 {
		limit = 100
	}
	allocations := make([]ActiveAllocation, 0)
	err := r.db.SelectContext(ctx, &allocations, selectActiveAllocation+`
		WHERE a.status = 'completed'
		  AND NOT a.expiry_warned
		  AND a.expires_at IS NOT NULL AND a.expires_at > $1 AND a.expires_at <= $2
		  AND a.amount - a.consumed_amount - a.expired_amount > 0
		ORDER BY a.expires_at
		LIMIT $3
	`, now, until, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list expiring allocations", ErrInternal)
	}
	return allocations, nil
}

// ClaimWarned flips expiry_warned so each allocation warns at most once across
// sweeps. Returns false when another sweep already claimed it.
func (r *AllocationRepository) ClaimWarned(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE allocations SET expiry_warned = TRUE
		WHERE id = $1 AND NOT expiry_warned
	`, id)
	if err != nil {
		return false, fmt.Errorf("%w: claim warned", ErrInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected", ErrInternal)
	}
	return rows > 0, nil
}

// SumRemainingByAccount totals remaining_amount over completed allocations of
// the account. Used by reconciliation checks.
func (r *AllocationRepository) SumRemainingByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount - consumed_amount - expired_amount), 0)
		FROM allocations
		WHERE account_id = $1 AND status = 'completed'
	`, accountID)
	if err != nil {
		return 0, fmt.Errorf("%w: sum remaining", ErrInternal)
	}
	return sum, nil
}
