package models

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfStock             = errors.New("sold out")
	ErrDuplicatePendingOrder  = errors.New("you already have a pending order for this sale")
	ErrInvalidStateTransition = errors.New("invalid order state transition")
	ErrInvalidSaleTransition  = errors.New("invalid sale status transition")
	ErrSaleNotActive          = errors.New("sale is not currently active")
	ErrReservationNotFound    = errors.New("reservation not found")
	ErrSaleNotFound           = errors.New("sale not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrNotInQueue             = errors.New("user is not in the queue")
	ErrNotAdmitted            = errors.New("user has not been admitted from the queue")
	ErrProductMismatch        = errors.New("product does not match sale")
	ErrProductNotFound        = errors.New("product not found")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrPurchaseLimitExceeded  = errors.New("purchase limit for this sale reached")
	ErrInvalidAdjustment      = errors.New("inventory adjustment would make remaining stock negative")
	ErrInvalidSchedule        = errors.New("sale start time must be before end time")
	ErrLedgerNotInitialized   = errors.New("inventory ledger not initialized for sale")
)

// TransientStoreError wraps a fast-store failure that the caller may retry with backoff
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// NewTransientStoreError wraps err unless it is nil
func NewTransientStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientStoreError{Op: op, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable
func IsTransient(err error) bool {
	var t *TransientStoreError
	return errors.As(err, &t)
}
