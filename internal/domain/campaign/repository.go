package campaign

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository provides campaign persistence and the atomic budget reservation.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const selectCampaign = `
	SELECT id, name, kind, credit_type, credit_amount, total_budget, allocated_amount,
	       min_account_age_days, allowed_tiers, new_users_only, start_date, end_date,
	       expiration_days, max_allocations_per_user, is_active, budget_exhausted_notified,
	       created_at, updated_at
	FROM campaigns`

func (r *Repository) Create(ctx context.Context, c *Campaign) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO campaigns (
			name, kind, credit_type, credit_amount, total_budget,
			min_account_age_days, allowed_tiers, new_users_only,
			start_date, end_date, expiration_days, max_allocations_per_user, is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`, c.Name, c.Kind, c.CreditType, c.CreditAmount, c.TotalBudget,
		c.MinAccountAgeDays, c.AllowedTiers, c.NewUsersOnly,
		c.StartDate, c.EndDate, c.ExpirationDays, c.MaxAllocationsPerUser, c.IsActive,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert campaign", ErrInternal)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	var c Campaign
	err := r.db.GetContext(ctx, &c, selectCampaign+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get campaign", ErrInternal)
	}
	return &c, nil
}

// GetForUpdateTx loads the campaign with a row lock. Allocation takes this
// lock first, which serializes the per-user cap count and the budget
// reservation for one campaign.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Campaign, error) {
	var c Campaign
	err := tx.GetContext(ctx, &c, selectCampaign+` WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock campaign", ErrInternal)
	}
	return &c, nil
}

// FindActiveByKind returns the newest campaign of the kind that is currently
// inside its date window.
func (r *Repository) FindActiveByKind(ctx context.Context, kind Kind) (*Campaign, error) {
	var c Campaign
	err := r.db.GetContext(ctx, &c, selectCampaign+`
		WHERE kind = $1 AND is_active AND start_date <= now() AND end_date >= now()
		ORDER BY created_at DESC
		LIMIT 1`, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find campaign", ErrInternal)
	}
	return &c, nil
}

func (r *Repository) List(ctx context.Context, activeOnly bool, limit, offset int) ([]Campaign, error) {
	if limit <= 0 {
		limit = 50
	}

	query := selectCampaign
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	campaigns := make([]Campaign, 0)
	if err := r.db.SelectContext(ctx, &campaigns, query, limit, offset); err != nil {
		return nil, fmt.Errorf("%w: list campaigns", ErrInternal)
	}
	return campaigns, nil
}

// ReserveBudgetTx performs the test-and-increment in one statement: the budget
// check and the allocated_amount bump either happen together or not at all.
// The losing request of a concurrent pair sees ErrBudgetExhausted.
func (r *Repository) ReserveBudgetTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, amount int64) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE campaigns
		SET allocated_amount = allocated_amount + $2, updated_at = now()
		WHERE id = $1 AND allocated_amount + $2 <= total_budget
	`, id, amount)
	if err != nil {
		return fmt.Errorf("%w: reserve budget", ErrInternal)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		return ErrBudgetExhausted
	}
	return nil
}

// MarkExhaustedNotified flips the once-only flag used to publish the
// budget-exhausted event. Returns true only for the caller that flipped it.
func (r *Repository) MarkExhaustedNotified(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET budget_exhausted_notified = TRUE, updated_at = now()
		WHERE id = $1 AND NOT budget_exhausted_notified
	`, id)
	if err != nil {
		return false, fmt.Errorf("%w: mark exhausted", ErrInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected", ErrInternal)
	}
	return rows > 0, nil
}

// UpdateBudget raises the total budget. Lowering below the already allocated
// amount is rejected by the WHERE clause.
func (r *Repository) UpdateBudget(ctx context.Context, id uuid.UUID, totalBudget int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET total_budget = $2, budget_exhausted_notified = FALSE, updated_at = now()
		WHERE id = $1 AND $2 >= allocated_amount
	`, id, totalBudget)
	if err != nil {
		return fmt.Errorf("%w: update budget", ErrInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		return fmt.Errorf("%w: budget below allocated amount", ErrInvalid)
	}
	return nil
}

func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET is_active = $2, updated_at = now() WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("%w: set active", ErrInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats aggregates allocation figures for one campaign.
type Stats struct {
	CampaignID      uuid.UUID `db:"campaign_id" json:"campaign_id"`
	AllocationCount int64     `db:"allocation_count" json:"allocation_count"`
	DistinctUsers   int64     `db:"distinct_users" json:"distinct_users"`
	AllocatedAmount int64     `db:"allocated_amount" json:"allocated_amount"`
	TotalBudget     int64     `db:"total_budget" json:"total_budget"`
}

func (r *Repository) GetStats(ctx context.Context, id uuid.UUID) (*Stats, error) {
	var st Stats
	err := r.db.GetContext(ctx, &st, `
		SELECT c.id AS campaign_id,
		       COUNT(a.id)                  AS allocation_count,
		       COUNT(DISTINCT a.user_id)    AS distinct_users,
		       c.allocated_amount           AS allocated_amount,
		       c.total_budget               AS total_budget
		FROM campaigns c
		LEFT JOIN allocations a ON a.campaign_id = c.id AND a.status = 'completed'
		WHERE c.id = $1
		GROUP BY c.id
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: campaign stats", ErrInternal)
	}
	return &st, nil
}
