package campaign

import (
	"fmt"
	"time"
)

// Eligible evaluates the campaign's rules against a user profile. It is a pure
// function: the closed rule set (account age, tier membership, new-users flag)
// replaces open-ended dynamic rule interpretation. A nil return means eligible;
// otherwise the error names the first failed rule.
func (c *Campaign) Eligible(p UserProfile, now time.Time) error {
	if c.MinAccountAgeDays != nil {
		age := now.Sub(p.RegisteredAt)
		required := time.Duration(*c.MinAccountAgeDays) * 24 * time.Hour
		if p.RegisteredAt.IsZero() || age < required {
			return fmt.Errorf("%w: account younger than %d days", ErrNotEligible, *c.MinAccountAgeDays)
		}
	}

	if len(c.AllowedTiers) > 0 {
		found := false
		for _, tier := range c.AllowedTiers {
			if tier == p.Tier {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: tier %q not allowed", ErrNotEligible, p.Tier)
		}
	}

	if c.NewUsersOnly && !p.IsNewUser {
		return fmt.Errorf("%w: campaign is for new users only", ErrNotEligible)
	}

	return nil
}
