package models

import "errors"

// Terminal, user-visible failures for the money-moving path. Callers match
// with errors.Is; wrapped messages carry the specifics.
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrAccountNotActive      = errors.New("account not active")
	ErrLimitExceeded         = errors.New("transaction limit exceeded")
	ErrComplianceRejected    = errors.New("compliance check rejected")
	ErrFraudBlocked          = errors.New("transaction blocked by fraud controls")
	ErrReversalIneligible    = errors.New("transaction not eligible for reversal")
	ErrReversalAmountInvalid = errors.New("invalid reversal amount")
	ErrConcurrencyConflict   = errors.New("concurrency conflict")
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("invalid request")

	// ErrDuplicateIdempotencyKey is returned by transaction stores when an
	// insert loses the race on a unique idempotency key. The caller replays
	// the stored transaction instead of executing again.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
)
