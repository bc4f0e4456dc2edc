package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// DeltaKind tags a balance mutation with its counter polarity. Every kind maps
// to exactly one total_* counter so that the account never drifts from its
// ledger.
type DeltaKind string

const (
	DeltaAllocate    DeltaKind = "allocate"
	DeltaConsume     DeltaKind = "consume"
	DeltaExpire      DeltaKind = "expire"
	DeltaTransferIn  DeltaKind = "transfer_in"
	DeltaTransferOut DeltaKind = "transfer_out"
	DeltaRefund      DeltaKind = "refund"
)

var defaultExpirationDays = map[CreditType]int{
	TypePromotional:  90,
	TypeBonus:        180,
	TypeReferral:     180,
	TypeSubscription: 30,
	TypeCompensation: 365,
}

// Store owns credit_accounts rows. ApplyDeltaTx is the only legal way to
// mutate a balance.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const selectAccount = `
	SELECT id, user_id, credit_type, balance, total_allocated, total_consumed, total_expired,
	       expiration_policy, expiration_days, is_active, created_at, updated_at
	FROM credit_accounts`

// GetOrCreateTx returns the account for (userID, creditType), creating it with
// zero balances on first use. Creation is race-safe via the unique constraint.
func (s *Store) GetOrCreateTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, creditType CreditType) (*CreditAccount, error) {
	if !creditType.Valid() {
		return nil, ErrInvalidType
	}

	policy := PolicyFixedDays
	if creditType == TypeSubscription {
		policy = PolicySubscriptionPeriod
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_accounts (user_id, credit_type, expiration_policy, expiration_days)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, credit_type) DO NOTHING
	`, userID, creditType, policy, defaultExpirationDays[creditType]); err != nil {
		return nil, fmt.Errorf("%w: ensure account", ErrInternal)
	}

	var acc CreditAccount
	err := tx.GetContext(ctx, &acc, selectAccount+` WHERE user_id = $1 AND credit_type = $2`, userID, creditType)
	if err != nil {
		return nil, fmt.Errorf("%w: load account", ErrInternal)
	}
	return &acc, nil
}

// GetOrCreate is the standalone variant of GetOrCreateTx.
func (s *Store) GetOrCreate(ctx context.Context, userID uuid.UUID, creditType CreditType) (*CreditAccount, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	acc, err := s.GetOrCreateTx(ctx, tx, userID, creditType)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return acc, nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*CreditAccount, error) {
	var acc CreditAccount
	err := s.db.GetContext(ctx, &acc, selectAccount+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get account", ErrInternal)
	}
	return &acc, nil
}

// GetForUpdateTx locks the account row for the rest of the transaction.
// Refunds take it to serialize the cumulative-refund check per account.
func (s *Store) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*CreditAccount, error) {
	var acc CreditAccount
	err := tx.GetContext(ctx, &acc, selectAccount+` WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock account", ErrInternal)
	}
	return &acc, nil
}

func (s *Store) GetByUserAndType(ctx context.Context, userID uuid.UUID, creditType CreditType) (*CreditAccount, error) {
	var acc CreditAccount
	err := s.db.GetContext(ctx, &acc, selectAccount+` WHERE user_id = $1 AND credit_type = $2`, userID, creditType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get account", ErrInternal)
	}
	return &acc, nil
}

func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID) ([]CreditAccount, error) {
	accounts := make([]CreditAccount, 0)
	err := s.db.SelectContext(ctx, &accounts, selectAccount+` WHERE user_id = $1 ORDER BY credit_type`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list accounts", ErrInternal)
	}
	return accounts, nil
}

// ApplyDeltaTx atomically applies amount to the balance and the counter that
// kind selects. The guard is in the UPDATE itself: a debit that would drive
// the balance negative matches no row and returns ErrInsufficientBalance
// without mutating anything. Returns the balance before and after.
func (s *Store) ApplyDeltaTx(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, amount int64, kind DeltaKind) (before, after int64, err error) {
	if amount <= 0 {
		return 0, 0, fmt.Errorf("%w: non-positive delta amount", ErrInternal)
	}

	var query string
	switch kind {
	case DeltaAllocate, DeltaTransferIn:
		query = `
			UPDATE credit_accounts
			SET balance = balance + $2, total_allocated = total_allocated + $2, updated_at = now()
			WHERE id = $1
			RETURNING balance`
	case DeltaConsume, DeltaTransferOut:
		query = `
			UPDATE credit_accounts
			SET balance = balance - $2, total_consumed = total_consumed + $2, updated_at = now()
			WHERE id = $1 AND balance >= $2
			RETURNING balance`
	case DeltaExpire:
		query = `
			UPDATE credit_accounts
			SET balance = balance - $2, total_expired = total_expired + $2, updated_at = now()
			WHERE id = $1 AND balance >= $2
			RETURNING balance`
	case DeltaRefund:
		// A refund reverses consumption, so it gives back into total_consumed
		// rather than inflating total_allocated.
		query = `
			UPDATE credit_accounts
			SET balance = balance + $2, total_consumed = total_consumed - $2, updated_at = now()
			WHERE id = $1 AND total_consumed >= $2
			RETURNING balance`
	default:
		return 0, 0, fmt.Errorf("%w: unknown delta kind %q", ErrInternal, kind)
	}

	err = tx.QueryRowContext(ctx, query, accountID, amount).Scan(&after)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a missing account from a guarded debit.
		var exists bool
		if checkErr := tx.GetContext(ctx, &exists, `SELECT TRUE FROM credit_accounts WHERE id = $1`, accountID); checkErr != nil {
			if errors.Is(checkErr, sql.ErrNoRows) {
				return 0, 0, ErrNotFound
			}
			return 0, 0, fmt.Errorf("%w: check account", ErrInternal)
		}
		return 0, 0, ErrInsufficientBalance
	}
	if err != nil {
		return 0, 0, fmt.Errorf("%w: apply delta", ErrInternal)
	}

	switch kind {
	case DeltaAllocate, DeltaTransferIn, DeltaRefund:
		before = after - amount
	default:
		before = after + amount
	}
	return before, after, nil
}

// DeactivateForUserTx disables every account of the user. Rows are kept; the
// ledger stays intact.
func (s *Store) DeactivateForUserTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE credit_accounts SET is_active = FALSE, updated_at = now()
		WHERE user_id = $1 AND is_active
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: deactivate accounts", ErrInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected", ErrInternal)
	}
	return rows, nil
}

// Stats aggregates engine-wide counters for the admin dashboard.
type Stats struct {
	ActiveAccounts int64 `db:"active_accounts" json:"active_accounts"`
	TotalBalance   int64 `db:"total_balance" json:"total_balance"`
	TotalAllocated int64 `db:"total_allocated" json:"total_allocated"`
	TotalConsumed  int64 `db:"total_consumed" json:"total_consumed"`
	TotalExpired   int64 `db:"total_expired" json:"total_expired"`
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.GetContext(ctx, &st, `
		SELECT COUNT(*) FILTER (WHERE is_active)     AS active_accounts,
		       COALESCE(SUM(balance), 0)             AS total_balance,
		       COALESCE(SUM(total_allocated), 0)     AS total_allocated,
		       COALESCE(SUM(total_consumed), 0)      AS total_consumed,
		       COALESCE(SUM(total_expired), 0)       AS total_expired
		FROM credit_accounts
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: engine stats", ErrInternal)
	}
	return &st, nil
}
