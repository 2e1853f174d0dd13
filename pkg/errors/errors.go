package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientInventory   = errors.New("insufficient inventory")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidBranch           = errors.New("invalid branch")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrInvalidTransactionType  = errors.New("invalid transaction type")
	ErrInvalidMethod           = errors.New("invalid payment method")
	ErrInvalidStatus           = errors.New("invalid transaction status")
	ErrInvalidCurrency         = errors.New("invalid currency")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrReservationNotFound     = errors.New("reservation not found")
	ErrInventoryNotFound       = errors.New("inventory not found")
	ErrBranchNotFound          = errors.New("branch not found")
	ErrNilTransaction          = errors.New("transaction is nil")
	ErrNilReservation          = errors.New("reservation is nil")
	ErrTransientStoreConflict  = errors.New("transient store conflict, try again")
	ErrDuplicateCode           = errors.New("duplicate transaction code")
	ErrFatal                   = errors.New("unexpected persistence failure")
	ErrSweepInProgress         = errors.New("sweep already in progress")
	ErrRatesUnavailable        = errors.New("exchange rates unavailable")
	ErrRequestAlreadyProcessed = errors.New("request already processed")
	ErrInvalidInput            = errors.New("invalid input")
)

// InsufficientInventoryError carries the numbers a caller needs to offer an alternative.
type InsufficientInventoryError struct {
	BranchID  int64
	Currency  string
	Available int64
	Requested int64
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory: branch %d %s available %d, requested %d",
		e.BranchID, e.Currency, e.Available, e.Requested)
}

func (e *InsufficientInventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	TransactionID int64
	From          string
	To            string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for transaction %d: %s -> %s", e.TransactionID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// IsRetryable reports whether the caller should retry the whole operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStoreConflict)
}
