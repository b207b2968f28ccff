/*
errors.go - Error types for the commission engine

ERROR CATEGORIES:
  1. Lookup errors - missing commission, booking or payout
  2. Invariant violations - data that contradicts the lifecycle rules
  3. Client errors - bad input (pagination, intake)
  4. Concurrency - a compare-and-swap lost its race

Per-commission failures during a run are wrapped in ItemError so the run
can report them and move on.
*/
package commission

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrCommissionNotFound = errors.New("commission not found")
	ErrBookingNotFound    = errors.New("booking not found")
	ErrPayoutNotFound     = errors.New("payout not found")

	// ErrConcurrentModification is returned when a conditional update finds
	// the record no longer in the expected state inside a transaction.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvariantViolation marks stored data the state machine refuses to act on.
	ErrInvariantViolation = errors.New("commission invariant violation")

	ErrInvalidPagination = errors.New("invalid pagination")
	ErrInvalidCommission = errors.New("invalid commission")
	ErrInvalidTrigger    = errors.New("invalid trigger source")
	ErrDuplicateBooking  = errors.New("booking already has a commission")
	ErrAgentRequired     = errors.New("agent id is required")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InvariantViolationError describes a commission whose stored fields are
// inconsistent with its status. Such commissions are skipped, never repaired.
type InvariantViolationError struct {
	CommissionID CommissionID
	Status       Status
	Reason       string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation on %s (%s): %s", e.CommissionID, e.Status, e.Reason)
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }

// ItemError is a failure processing one commission during a run.
type ItemError struct {
	CommissionID CommissionID
	Err          error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("commission %s: %v", e.CommissionID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPagination) ||
		errors.Is(err, ErrInvalidCommission) ||
		errors.Is(err, ErrInvalidTrigger) ||
		errors.Is(err, ErrDuplicateBooking) ||
		errors.Is(err, ErrAgentRequired)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCommissionNotFound) ||
		errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrPayoutNotFound)
}
