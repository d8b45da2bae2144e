package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance rejects a BUY whose cost plus commission
	// exceeds the account balance. Nothing is mutated or persisted.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidQuantity rejects non-positive order quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrInvalidSide rejects sides other than BUY or SELL.
	ErrInvalidSide = errors.New("invalid order side")

	// ErrInvalidTransition rejects status changes outside the order
	// state machine (only PENDING orders can be cancelled).
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrDuplicateOrder signals an order id collision. Ids are never
	// reused, so a collision is a programming or data-corruption error,
	// not a business rejection.
	ErrDuplicateOrder = errors.New("duplicate order id")

	// ErrOrderNotFound is returned when an order id does not exist.
	ErrOrderNotFound = errors.New("order not found")
)

// LedgerInconsistencyError reports the one case where atomicity across
// storage calls cannot be guaranteed: the order row was persisted but a
// follow-up position or account write failed. It carries enough detail
// for out-of-band reconciliation and must be treated as a critical
// condition, not a retryable user error.
type LedgerInconsistencyError struct {
	OrderID string
	Entity  string // "position" or "account"
	Err     error
}

func (e *LedgerInconsistencyError) Error() string {
	return fmt.Sprintf("ledger inconsistency: order %s recorded but %s update failed: %v",
		e.OrderID, e.Entity, e.Err)
}

func (e *LedgerInconsistencyError) Unwrap() error {
	return e.Err
}
