package credit

import (
	"sort"

	"github.com/google/uuid"

	"github.com/creditrail/credit-api/internal/domain/account"
)

// Draw is one planned deduction from a single allocation.
type Draw struct {
	AllocationID uuid.UUID
	AccountID    uuid.UUID
	CreditType   account.CreditType
	Amount       int64
}

// Plan is the outcome of planning a debit across a user's allocations.
// Planned < requested is not an error: the caller decides whether to accept a
// partial draw.
type Plan struct {
	Draws   []Draw
	Planned int64
	Deficit int64
}

// AccountDraw aggregates a plan's portions per account, in draw order. One
// ledger transaction is written per account, not per allocation.
type AccountDraw struct {
	AccountID uuid.UUID
	Amount    int64
	Draws     []Draw
}

// BuildPlan selects which allocations a debit of amount draws from, and how
// much from each. The order is deterministic for identical inputs:
//  1. expires_at ascending, never-expiring last
//  2. credit-type priority descending for equal expiry
//  3. allocation created_at ascending, id as the final tiebreak
func BuildPlan(allocations []ActiveAllocation, amount int64) Plan {
	sorted := make([]ActiveAllocation, len(allocations))
	copy(sorted, allocations)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := &sorted[i], &sorted[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt != nil:
			return false
		case a.ExpiresAt != nil && b.ExpiresAt == nil:
			return true
		case a.ExpiresAt != nil && b.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
		if pa, pb := a.CreditType.ConsumePriority(), b.CreditType.ConsumePriority(); pa != pb {
			return pa > pb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	plan := Plan{Draws: make([]Draw, 0, len(sorted))}
	left := amount
	for i := range sorted {
		if left == 0 {
			break
		}
		alloc := &sorted[i]
		remaining := alloc.Remaining()
		if remaining <= 0 {
			continue
		}
		portion := remaining
		if portion > left {
			portion = left
		}
		plan.Draws = append(plan.Draws, Draw{
			AllocationID: alloc.ID,
			AccountID:    alloc.AccountID,
			CreditType:   alloc.CreditType,
			Amount:       portion,
		})
		left -= portion
	}

	plan.Planned = amount - left
	plan.Deficit = left
	return plan
}

// GroupByAccount folds a plan's draws into per-account aggregates, preserving
// first-touch order.
func (p Plan) GroupByAccount() []AccountDraw {
	index := make(map[uuid.UUID]int)
	grouped := make([]AccountDraw, 0)
	for _, d := range p.Draws {
		i, ok := index[d.AccountID]
		if !ok {
			i = len(grouped)
			index[d.AccountID] = i
			grouped = append(grouped, AccountDraw{AccountID: d.AccountID})
		}
		grouped[i].Amount += d.Amount
		grouped[i].Draws = append(grouped[i].Draws, d)
	}
	return grouped
}
