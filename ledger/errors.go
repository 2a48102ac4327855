/*
errors.go - Centralized error types for the commission engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Components wrap these with context using fmt.Errorf("...: %w", err).

ERROR CATEGORIES:
  1. Validation errors  - Bad input, rejected before any write
  2. Consistency errors - Rejected at the transaction boundary; the caller
                          retries the whole operation with fresh data
  3. Not-found errors   - Missing deal, accrual, account, employee

  Data-quality anomalies (orphaned accruals) are NOT errors. They are
  reported by payroll.Engine.ScanOrphans.

USAGE:
  if errors.Is(err, ledger.ErrAlreadyFullyPaid) { ... }

  var exceeded *ledger.PaymentExceedsRemainingError
  if errors.As(err, &exceeded) {
      fmt.Println("remaining:", exceeded.Remaining)
  }

SEE ALSO:
  - api/handlers.go: Maps these to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of every input validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidAmount is returned for non-positive money amounts.
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", ErrValidation)

	// ErrInvalidPeriod is returned when a period ends before it starts.
	ErrInvalidPeriod = fmt.Errorf("%w: period end before start", ErrValidation)

	// ErrDuplicateEffectiveDate is returned when a rate row already exists for
	// the same employee, role and effective date.
	ErrDuplicateEffectiveDate = fmt.Errorf("%w: rate already exists for effective date", ErrValidation)

	// ErrConfirmationRequired is returned when a destructive remediation is
	// attempted without explicit operator confirmation.
	ErrConfirmationRequired = fmt.Errorf("%w: explicit confirmation required", ErrValidation)

	// ErrNotOrphaned is returned when deleting an accrual that still matches
	// its deal's current assignee.
	ErrNotOrphaned = fmt.Errorf("%w: accrual is not orphaned", ErrValidation)

	// ErrManagerCycle is returned when a manager assignment would create a
	// chain deeper than one level or reference the employee itself.
	ErrManagerCycle = fmt.Errorf("%w: invalid manager assignment", ErrValidation)

	// ErrConsistency is the root of every transaction-boundary rejection.
	ErrConsistency = errors.New("consistency violation")

	// ErrAlreadyFullyPaid is returned when an accrual has nothing left to pay.
	ErrAlreadyFullyPaid = fmt.Errorf("%w: accrual already fully paid", ErrConsistency)

	// ErrAmountExceedsRemaining is returned when a payment is larger than
	// what remains on the accrual.
	ErrAmountExceedsRemaining = fmt.Errorf("%w: amount exceeds remaining", ErrConsistency)

	// ErrConflict is returned for unique-key violations not covered above.
	ErrConflict = fmt.Errorf("%w: conflicting write", ErrConsistency)

	// ErrPayoutLinked is returned when editing or deleting a cash-flow row
	// that records a payroll payment.
	ErrPayoutLinked = fmt.Errorf("%w: cash flow backs a payroll payment", ErrConflict)

	// ErrNotFound is the root of every missing-entity error.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError identifies the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NotFound builds a NotFoundError.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// PaymentExceedsRemainingError provides details about an overpayment attempt.
type PaymentExceedsRemainingError struct {
	AccrualID string
	Remaining decimal.Decimal
	Requested decimal.Decimal
}

func (e *PaymentExceedsRemainingError) Error() string {
	return fmt.Sprintf("payment %s exceeds remaining %s on accrual %s",
		e.Requested, e.Remaining, e.AccrualID)
}

func (e *PaymentExceedsRemainingError) Unwrap() error {
	return ErrAmountExceedsRemaining
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is due to invalid client input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConsistency returns true if the write was rejected at the transaction
// boundary.
func IsConsistency(err error) bool {
	return errors.Is(err, ErrConsistency)
}

// IsRetryable returns true if the operation might succeed when retried with
// fresh data.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
