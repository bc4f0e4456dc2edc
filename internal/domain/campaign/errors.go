package campaign

import "errors"

var (
	// ErrNotFound is returned when the campaign doesn't exist
	ErrNotFound = errors.New("campaign not found")

	// ErrNotActive is returned when the campaign is disabled or outside its date window
	ErrNotActive = errors.New("campaign not active")

	// ErrBudgetExhausted is returned when the remaining budget can't cover the grant
	ErrBudgetExhausted = errors.New("campaign budget exhausted")

	// ErrNotEligible is returned when the user fails the campaign's rules
	ErrNotEligible = errors.New("user not eligible for campaign")

	// ErrInvalid is returned for malformed campaign definitions
	ErrInvalid = errors.New("invalid campaign")

	ErrInternal = errors.New("internal error")
)
