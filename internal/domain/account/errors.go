package account

import "errors"

var (
	// ErrNotFound is returned when the account does not exist
	ErrNotFound = errors.New("credit account not found")

	// ErrInsufficientBalance is returned when a negative delta would drive the balance below zero
	ErrInsufficientBalance = errors.New("insufficient account balance")

	// ErrInvalidType is returned for an unknown credit type
	ErrInvalidType = errors.New("invalid credit type")

	ErrInternal = errors.New("internal error")
)
