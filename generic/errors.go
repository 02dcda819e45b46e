/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All error classes in one place for consistency and discoverability.
  Domain packages wrap these classes with their own sentinels so callers
  can branch on the class without knowing every domain error.

ERROR CATEGORIES:
  1. Validation errors - Business rule violations, rejected before any write
  2. Not-found errors  - A referenced row is missing (often a concurrent delete)
  3. Conflict errors   - The request collides with existing state
  Everything else is infrastructure and is propagated unchanged.

USAGE:
  Domain packages derive sentinels from a class:

    var ErrNoActiveSponsorship = fmt.Errorf("%w: no active sponsorship for this sponsor", generic.ErrValidation)

    if generic.IsClientError(err) { ... 422 ... }

SEE ALSO:
  - kafala/errors.go: Domain sentinels built on these classes
  - api/handlers.go: Maps classes to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR CLASSES - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the class of user-facing business rule violations.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is the class of missing-row errors.
	ErrNotFound = errors.New("not found")

	// ErrConflict is the class of requests colliding with existing state.
	ErrConflict = errors.New("conflict")
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNonPositiveAmount is returned when a money amount must be > 0.
	ErrNonPositiveAmount = fmt.Errorf("%w: amount must be positive", ErrValidation)

	// ErrSubUnitAmount is returned for amounts finer than the currency unit.
	ErrSubUnitAmount = fmt.Errorf("%w: amount has more than 2 decimal places", ErrValidation)

	// ErrInvalidPeriod is returned when an end date precedes its start date.
	ErrInvalidPeriod = fmt.Errorf("%w: end before start", ErrValidation)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing row.
type NotFoundError struct {
	Kind string // "sponsor", "sponsorship", "installment", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFound is a shorthand used by the stores.
func NewNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the request collided with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
