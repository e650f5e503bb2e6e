package domain

import "fmt"

// InsufficientStockError reports a reservation request that exceeds the SKU's
// available quantity. The ledger is left untouched.
type InsufficientStockError struct {
	SKUID     string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for sku %s: requested %d, available %d",
		e.SKUID, e.Requested, e.Available)
}

// InvalidOperationError reports a state-machine violation, such as mutating a
// reservation that is no longer active or one owned by a different SKU.
type InvalidOperationError struct {
	Reason string
}

func (e *InvalidOperationError) Error() string { return e.Reason }

// InvalidArgumentError reports bad input rejected before any mutation.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string { return e.Reason }
