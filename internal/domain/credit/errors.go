package credit

import "errors"

var (
	// ErrInvalidAmount is returned when amount is <= 0
	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	// ErrInvalidInput is returned for malformed or out-of-range input
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientCredits is returned when a debit exceeds the available balance
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrNotFound is returned when a transaction or allocation doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrSelfTransfer is returned on a transfer to oneself
	ErrSelfTransfer = errors.New("cannot transfer credits to yourself")

	// ErrTransferNotAllowed is returned for non-transferable credit types
	ErrTransferNotAllowed = errors.New("credit type is not transferable")

	// ErrRefundExceedsOriginal is returned when cumulative refunds would exceed the original debit
	ErrRefundExceedsOriginal = errors.New("refund exceeds refundable amount")

	// ErrNotRefundable is returned when the referenced transaction isn't a consume debit
	ErrNotRefundable = errors.New("transaction is not refundable")

	// ErrPlanConflict is returned when a concurrent mutation invalidated an approved plan
	ErrPlanConflict = errors.New("consumption plan invalidated by concurrent update")

	ErrInternal = errors.New("internal error")
)
