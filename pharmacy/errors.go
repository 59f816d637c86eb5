/*
errors.go - Centralized error types for the stock engine

ERROR CATEGORIES:
  1. Validation errors - malformed input, rejected before any mutation
  2. Not-found errors - missing medicine, batch, receipt, sale, patient
  3. Stock errors - over-depletion attempts
  4. Store errors - uniqueness collisions, concurrency conflicts,
     unavailable persistence

USAGE:
  Callers classify with errors.Is against the sentinels, or errors.As
  against the structured types when they need the offending identifiers.
  The core never formats user-facing strings; these errors carry enough
  detail for the API layer to build one.
*/
package pharmacy

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or missing input. Rejected
	// before any ledger mutation begins.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced medicine, batch, receipt,
	// sale, or patient does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock is returned when a depletion would drive a
	// batch quantity negative. The ledger is left unchanged.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrDuplicateIdentity is returned on a unique-key collision, e.g. a
	// patient phone number or a batch identity already in the ledger.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrConcurrentModification is returned when an optimistic version
	// check detects a conflicting writer. Safe to retry reads; writes
	// must be re-validated, not blindly replayed.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrStorageUnavailable is returned when the persistence layer cannot
	// be reached. The whole operation failed; nothing was applied.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry the offending identifiers
// =============================================================================

// InsufficientStockError reports an over-depletion attempt and carries
// the available-vs-requested quantities for the caller to surface.
type InsufficientStockError struct {
	MedicineID   MedicineID
	MedicineName string
	BatchNumber  string
	Available    int64
	Requested    int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s batch %s: available %d, requested %d",
		e.MedicineName, e.BatchNumber, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// NotFoundError identifies which record was missing.
type NotFoundError struct {
	Kind string // "medicine", "batch", "receipt", "sale", "patient"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// DuplicateIdentityError reports a unique-key collision.
type DuplicateIdentityError struct {
	Kind string // "patient_phone", "batch", "username"
	Key  string
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("duplicate %s: %s", e.Kind, e.Key)
}

func (e *DuplicateIdentityError) Unwrap() error {
	return ErrDuplicateIdentity
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
// Writes are not idempotent and must be re-validated first.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrStorageUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrDuplicateIdentity)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
