/*
errors.go - Centralized error kinds for the payroll engine

PURPOSE:
  All error types in one place. Components return these (or wrap them)
  so callers can branch on the kind with errors.Is / errors.As.

ERROR KINDS:
  1. Precondition  - the caller asked for something the current state does
                     not allow (no current probation record, no allocations).
                     Reported synchronously, never retried.
  2. Invariant     - stored data broke a rule (fte sum != 1, negative pay).
                     Operation aborted, context logged, never "fixed".
  3. Capacity      - a grant budget line would be over-committed. Retried a
                     bounded number of times, then surfaced as a rejection.
  4. Reference     - required reference data is missing (tax year).
  5. Concurrency   - an optimistic version check lost a race. Retryable.

SEE ALSO:
  - funding/capacity.go: the bounded retry around ErrConcurrentModification
  - api/handlers.go: maps kinds to HTTP status codes
*/
package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrPrecondition           = errors.New("precondition violated")
	ErrInvariant              = errors.New("invariant violated")
	ErrCapacityConflict       = errors.New("funding capacity exceeded")
	ErrReferenceDataMissing   = errors.New("reference data missing")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrNotFound               = errors.New("not found")
	ErrInvalidPeriod          = errors.New("invalid period: end before start")
	ErrDuplicate              = errors.New("duplicate record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PreconditionError is returned when an operation is not allowed in the current state.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// IntegrityError reports stored data that violates an invariant.
// Context carries the inputs needed to investigate the record.
type IntegrityError struct {
	Op           string
	EmploymentID EmploymentID
	Detail       string
	Context      map[string]string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("data integrity violation in %s for employment %s: %s", e.Op, e.EmploymentID, e.Detail)
}

func (e *IntegrityError) Unwrap() error { return ErrInvariant }

// FTESumError reports allocations whose fte does not add up to 1.0.
// On create it is a precondition failure; on a re-derivation it is an invariant.
type FTESumError struct {
	EmploymentID EmploymentID
	Sum          decimal.Decimal
	Derived      bool
}

func (e *FTESumError) Error() string {
	return fmt.Sprintf("fte of active allocations for employment %s sums to %s, want 1", e.EmploymentID, e.Sum.String())
}

func (e *FTESumError) Unwrap() error {
	if e.Derived {
		return ErrInvariant
	}
	return ErrPrecondition
}

// CapacityError reports a grant budget line that cannot take the proposed fte.
type CapacityError struct {
	FundingSourceID FundingSourceID
	Capacity        decimal.Decimal
	Committed       decimal.Decimal
	Proposed        decimal.Decimal
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("funding source %s: committed %s + proposed %s exceeds capacity %s",
		e.FundingSourceID, e.Committed.String(), e.Proposed.String(), e.Capacity.String())
}

func (e *CapacityError) Unwrap() error { return ErrCapacityConflict }

// TaxRulesMissingError names the tax year with no brackets configured.
type TaxRulesMissingError struct {
	Year int
}

func (e *TaxRulesMissingError) Error() string {
	return fmt.Sprintf("no tax brackets defined for year %d", e.Year)
}

func (e *TaxRulesMissingError) Unwrap() error { return ErrReferenceDataMissing }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request, not the data.
func IsClientError(err error) bool {
	return errors.Is(err, ErrPrecondition) ||
		errors.Is(err, ErrCapacityConflict) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrDuplicate)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsIntegrity returns true for data-integrity violations.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrInvariant)
}
