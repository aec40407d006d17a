/*
errors.go - Centralized error types for the estimate engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify failures with errors.Is / errors.As and the helpers
  at the bottom of this file.

ERROR CATEGORIES:
  1. Validation errors - Malformed or missing caller input (4xx)
  2. Persistence errors - The store rejected a delete or insert (5xx)

  Assignments without a responsible party or an effort value are NOT
  errors: the materializer skips them.

USAGE:
  if generic.IsClientError(err) {
      // 400 with err.Error() as the message
  }

SEE ALSO:
  - calendar.go: Expander raises ErrNoDateSelection / ErrInvalidPeriod
  - estimate/materialize.go: ErrEmptyAssignments / ErrMalformedValue
  - estimate/replace.go: PersistenceError
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMissingGrouping is returned when a replace call has no grouping id.
	ErrMissingGrouping = errors.New("grouping id is required")

	// ErrMissingClient is returned when a replace call has no client id.
	ErrMissingClient = errors.New("client id is required")

	// ErrNoDateSelection is returned when a group supplies neither a complete
	// period nor a non-empty list of individual dates.
	ErrNoDateSelection = errors.New("a complete period or individual dates are required")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrPeriodTooLong is returned when a period spans more than MaxPeriodDays.
	ErrPeriodTooLong = fmt.Errorf("invalid period: longer than %d days", MaxPeriodDays)

	// ErrInvalidDate is returned when a date is not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("invalid date")

	// ErrEmptyAssignments is returned when a group has no products with tasks.
	ErrEmptyAssignments = errors.New("products with tasks are required")

	// ErrMalformedValue is returned when a task id or daily effort is not an integer.
	ErrMalformedValue = errors.New("malformed numeric value")

	// ErrPersistence is the root of every store failure.
	ErrPersistence = errors.New("persistence failure")

	// ErrGroupingNotFound is returned when a grouping has no summary row.
	ErrGroupingNotFound = errors.New("grouping not found")

	// ErrLockUnavailable is returned when a grouping lock cannot be acquired.
	ErrLockUnavailable = errors.New("grouping is being replaced by another request")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports bad caller input. Group is the zero-based index of
// the group that failed, or -1 when the failure is request-wide.
type ValidationError struct {
	Group   int
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Group >= 0 {
		return fmt.Sprintf("invalid group %d: %s", e.Group, msg)
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a request-wide validation error.
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Group: -1, Field: field, Message: err.Error(), Err: err}
}

// PersistenceOp names the step of the replace protocol that failed.
type PersistenceOp string

const (
	OpDelete PersistenceOp = "delete"
	OpInsert PersistenceOp = "insert"
	OpLookup PersistenceOp = "lookup"
	OpLoad   PersistenceOp = "load"
)

// PersistenceError wraps a store failure with the step it happened in.
type PersistenceError struct {
	Op         PersistenceOp
	GroupingID GroupingID
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s rules for grouping %s: %v", e.Op, e.GroupingID, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrMissingGrouping) ||
		errors.Is(err, ErrMissingClient) ||
		errors.Is(err, ErrNoDateSelection) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrPeriodTooLong) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrEmptyAssignments) ||
		errors.Is(err, ErrMalformedValue)
}

// IsPersistenceError returns true if the store rejected a read or write.
func IsPersistenceError(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsConflict returns true if the error is a lock contention the caller may retry.
func IsConflict(err error) bool {
	return errors.Is(err, ErrLockUnavailable)
}
