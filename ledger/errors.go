/*
errors.go - Centralized error types for the ledger engine

ERROR CATEGORIES:
  1. Validation errors - A proposed transaction breaks a ledger rule
  2. Stock conflicts   - A sale or correction would drive stock negative
  3. Persistence       - The envelope could not be written (never fatal)
  4. Catalog errors    - Unknown product or catalog version

USAGE:
  var stockErr *ledger.InsufficientStockError
  if errors.As(err, &stockErr) {
      fmt.Printf("only %d left of %s\n", stockErr.Available, stockErr.Name)
  }

  if errors.Is(err, ledger.ErrPersist) {
      // entry is in memory, disk write failed; next append retries the write
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrEmptyTransaction is returned when a transaction carries no line items.
	ErrEmptyTransaction = errors.New("transaction has no line items")

	// ErrInvalidLineItem is returned when a line has no name, a negative
	// price, or a quantity whose sign the kind does not allow.
	ErrInvalidLineItem = errors.New("invalid line item")

	// ErrInvalidReference is returned when a correction does not point at an
	// inventory or sales receipt.
	ErrInvalidReference = errors.New("correction must reference an inventory or sales receipt")

	// ErrInsufficientStock is returned when a mutation would leave a product
	// with negative stock.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrPersist is returned when the ledger could not be written to its store.
	// The transaction has still been applied in memory.
	ErrPersist = errors.New("ledger persist failed")

	// ErrUnknownProduct is returned when a name is not in the active catalog.
	ErrUnknownProduct = errors.New("unknown product")

	// ErrCatalogVersionNotFound is returned when a rollback names a snapshot
	// that is not in the retained history.
	ErrCatalogVersionNotFound = errors.New("catalog version not found")

	// ErrInvalidPeriod is returned when a period ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError reports the product that blocked a mutation and
// the stock actually available. Never clamped.
type InsufficientStockError struct {
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.Name, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// PersistError wraps the store failure behind ErrPersist.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() []error {
	return []error{ErrPersist, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is due to a rejected mutation that
// the caller can fix and retry.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyTransaction) ||
		errors.Is(err, ErrInvalidLineItem) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrUnknownProduct)
}
