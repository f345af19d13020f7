package domain

import "errors"

// Command and query outcomes. Every failed command maps to exactly one of these.
var (
	ErrAlreadyExists       = errors.New("account already exists")
	ErrNotFound            = errors.New("account not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrAccountNotActive    = errors.New("account is not active")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrInvalidAccountID    = errors.New("invalid account id")
	ErrInvalidCurrency     = errors.New("invalid currency")
	ErrInvalidStatus       = errors.New("invalid account status")
)

// ErrProjectionCorruption is fatal for the projection of a single account: the
// event stream was applied out of order or is missing a prerequisite event.
var ErrProjectionCorruption = errors.New("projection corruption")
