package campaign_test

import (
	"errors"
	"testing"
	"time"

	"github.com/creditrail/credit-api/internal/domain/campaign"
)

func TestEligibleMinAccountAge(t *testing.T) {
	minAge := 30
	c := &campaign.Campaign{MinAccountAgeDays: &minAge}
	now := time.Now()

	young := campaign.UserProfile{RegisteredAt: now.AddDate(0, 0, -10)}
	if err := c.Eligible(young, now); !errors.Is(err, campaign.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible for young account, got %v", err)
	}

	old := campaign.UserProfile{RegisteredAt: now.AddDate(0, 0, -60)}
	if err := c.Eligible(old, now); err != nil {
		t.Fatalf("expected eligible for old account, got %v", err)
	}

	unknown := campaign.UserProfile{}
	if err := c.Eligible(unknown, now); !errors.Is(err, campaign.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible for unknown registration date, got %v", err)
	}
}

func TestEligibleTiers(t *testing.T) {
	c := &campaign.Campaign{AllowedTiers: []string{"gold", "platinum"}}
	now := time.Now()

	if err := c.Eligible(campaign.UserProfile{Tier: "silver"}, now); !errors.Is(err, campaign.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible for silver tier, got %v", err)
	}
	if err := c.Eligible(campaign.UserProfile{Tier: "gold"}, now); err != nil {
		t.Fatalf("expected eligible for gold tier, got %v", err)
	}
}

func TestEligibleNewUsersOnly(t *testing.T) {
	c := &campaign.Campaign{NewUsersOnly: true}
	now := time.Now()

	if err := c.Eligible(campaign.UserProfile{IsNewUser: false}, now); !errors.Is(err, campaign.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible for existing user, got %v", err)
	}
	if err := c.Eligible(campaign.UserProfile{IsNewUser: true}, now); err != nil {
		t.Fatalf("expected eligible for new user, got %v", err)
	}
}

func TestEligibleNoRules(t *testing.T) {
	c := &campaign.Campaign{}
	if err := c.Eligible(campaign.UserProfile{}, time.Now()); err != nil {
		t.Fatalf("expected campaign without rules to accept anyone, got %v", err)
	}
}

func TestActiveAt(t *testing.T) {
	now := time.Now()
	c := &campaign.Campaign{
		IsActive:  true,
		StartDate: now.AddDate(0, 0, -1),
		EndDate:   now.AddDate(0, 0, 1),
	}

	if !c.ActiveAt(now) {
		t.Fatal("expected campaign active inside its window")
	}
	if c.ActiveAt(now.AddDate(0, 0, -2)) {
		t.Fatal("expected campaign inactive before start")
	}
	if c.ActiveAt(now.AddDate(0, 0, 2)) {
		t.Fatal("expected campaign inactive after end")
	}

	c.IsActive = false
	if c.ActiveAt(now) {
		t.Fatal("expected deactivated campaign inactive")
	}
}
