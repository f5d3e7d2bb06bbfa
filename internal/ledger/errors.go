package ledger

import "errors"

var (
	// ErrInsufficientFunds is returned when a debit would take the balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("account not found")
	// ErrInvalidAmount is returned for non-positive debit/credit amounts, zero
	// adjustments, and amounts with more than MaxScale decimal places.
	ErrInvalidAmount = errors.New("invalid amount")
)
