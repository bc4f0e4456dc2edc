package credit_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/creditrail/credit-api/internal/domain/account"
	"github.com/creditrail/credit-api/internal/domain/credit"
)

func activeAllocation(creditType account.CreditType, remaining int64, expiresAt *time.Time, createdAt time.Time) credit.ActiveAllocation {
	return credit.ActiveAllocation{
		Allocation: credit.Allocation{
			ID:        uuid.New(),
			AccountID: uuid.New(),
			UserID:    uuid.New(),
			Amount:    remaining,
			ExpiresAt: expiresAt,
			Status:    credit.StatusCompleted,
			CreatedAt: createdAt,
		},
		CreditType: creditType,
	}
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestPlanExpirySoonestFirst(t *testing.T) {
	now := time.Now()
	late := activeAllocation(account.TypePromotional, 100, ts("2026-12-01T00:00:00Z"), now)
	soon := activeAllocation(account.TypePromotional, 100, ts("2026-10-01T00:00:00Z"), now)

	plan := credit.BuildPlan([]credit.ActiveAllocation{late, soon}, 150)

	if len(plan.Draws) != 2 {
		t.Fatalf("expected 2 draws, got %d", len(plan.Draws))
	}
	if plan.Draws[0].AllocationID != soon.ID {
		t.Fatalf("expected soonest-expiring allocation drawn first")
	}
	if plan.Draws[0].Amount != 100 || plan.Draws[1].Amount != 50 {
		t.Fatalf("unexpected draw amounts: %d, %d", plan.Draws[0].Amount, plan.Draws[1].Amount)
	}
	if plan.Planned != 150 || plan.Deficit != 0 {
		t.Fatalf("expected planned 150 deficit 0, got %d/%d", plan.Planned, plan.Deficit)
	}
}

func TestPlanNeverExpiringLast(t *testing.T) {
	now := time.Now()
	forever := activeAllocation(account.TypeBonus, 100, nil, now)
	expiring := activeAllocation(account.TypeBonus, 100, ts("2026-10-01T00:00:00Z"), now)

	plan := credit.BuildPlan([]credit.ActiveAllocation{forever, expiring}, 120)

	if plan.Draws[0].AllocationID != expiring.ID {
		t.Fatalf("expected expiring allocation drawn before never-expiring one")
	}
	if plan.Draws[1].Amount != 20 {
		t.Fatalf("expected 20 from the never-expiring allocation, got %d", plan.Draws[1].Amount)
	}
}

func TestPlanTypePriorityOnEqualExpiry(t *testing.T) {
	now := time.Now()
	expiry := ts("2026-11-01T00:00:00Z")
	subscription := activeAllocation(account.TypeSubscription, 100, expiry, now)
	compensation := activeAllocation(account.TypeCompensation, 100, expiry, now)
	promotional := activeAllocation(account.TypePromotional, 100, expiry, now)

	plan := credit.BuildPlan([]credit.ActiveAllocation{subscription, compensation, promotional}, 250)

	want := []uuid.UUID{compensation.ID, promotional.ID, subscription.ID}
	for i, id := range want {
		if plan.Draws[i].AllocationID != id {
			t.Fatalf("draw %d: wrong allocation, priority order not respected", i)
		}
	}
}

func TestPlanDeterministicAcrossInputOrder(t *testing.T) {
	now := time.Now()
	allocations := []credit.ActiveAllocation{
		activeAllocation(account.TypePromotional, 30, ts("2026-10-05T00:00:00Z"), now.Add(-3*time.Hour)),
		activeAllocation(account.TypeBonus, 40, ts("2026-10-05T00:00:00Z"), now.Add(-2*time.Hour)),
		activeAllocation(account.TypeReferral, 50, nil, now.Add(-1*time.Hour)),
		activeAllocation(account.TypeCompensation, 60, ts("2026-12-01T00:00:00Z"), now),
	}
	reversed := make([]credit.ActiveAllocation, len(allocations))
	for i := range allocations {
		reversed[len(allocations)-1-i] = allocations[i]
	}

	a := credit.BuildPlan(allocations, 130)
	b := credit.BuildPlan(reversed, 130)

	if len(a.Draws) != len(b.Draws) {
		t.Fatalf("plans differ in length: %d vs %d", len(a.Draws), len(b.Draws))
	}
	for i := range a.Draws {
		if a.Draws[i] != b.Draws[i] {
			t.Fatalf("draw %d differs across input orderings", i)
		}
	}
}

func TestPlanPartial(t *testing.T) {
	now := time.Now()
	only := activeAllocation(account.TypeBonus, 30, nil, now)

	plan := credit.BuildPlan([]credit.ActiveAllocation{only}, 100)

	if plan.Planned != 30 || plan.Deficit != 70 {
		t.Fatalf("expected planned 30 deficit 70, got %d/%d", plan.Planned, plan.Deficit)
	}
}

func TestPlanSkipsDrainedAllocations(t *testing.T) {
	now := time.Now()
	drained := activeAllocation(account.TypeBonus, 50, nil, now)
	drained.ConsumedAmount = 50
	fresh := activeAllocation(account.TypeBonus, 50, nil, now)

	plan := credit.BuildPlan([]credit.ActiveAllocation{drained, fresh}, 50)

	if len(plan.Draws) != 1 || plan.Draws[0].AllocationID != fresh.ID {
		t.Fatalf("expected single draw from the fresh allocation")
	}
}

func TestPlanGroupByAccount(t *testing.T) {
	now := time.Now()
	accountID := uuid.New()
	a := activeAllocation(account.TypeBonus, 30, ts("2026-10-01T00:00:00Z"), now)
	b := activeAllocation(account.TypeBonus, 30, ts("2026-11-01T00:00:00Z"), now)
	a.AccountID = accountID
	b.AccountID = accountID
	other := activeAllocation(account.TypePromotional, 30, ts("2026-12-01T00:00:00Z"), now)

	plan := credit.BuildPlan([]credit.ActiveAllocation{a, b, other}, 90)
	grouped := plan.GroupByAccount()

	if len(grouped) != 2 {
		t.Fatalf("expected 2 account groups, got %d", len(grouped))
	}
	if grouped[0].AccountID != accountID || grouped[0].Amount != 60 {
		t.Fatalf("expected first group to aggregate 60 for the shared account, got %d", grouped[0].Amount)
	}
	if grouped[1].Amount != 30 {
		t.Fatalf("expected 30 for the other account, got %d", grouped[1].Amount)
	}
}
