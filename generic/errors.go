/*
errors.go - Centralized error types for the document engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Packages wrap these with context; callers match with errors.Is/As.

ERROR CATEGORIES:
  1. Validation - business rule violations (balance, contract timing, limits)
  2. Conflict - requested dates overlap booked intervals
  3. Status - illegal transition, rollback or edit
  4. Unsatisfiable - allocator found no placement within its horizon
  5. Store - missing records, stale conditional writes

HTTP MAPPING (api/handlers.go):
  Validation 422, Conflict 409, Status 409, Unsatisfiable 422, NotFound 404

SEE ALSO:
  - leave/validator.go: produces ValidationResult
  - workflow/workflow.go: produces StatusError
  - leave/allocator.go: produces UnsatisfiableAllocation
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation    = errors.New("validation failed")
	ErrConflict      = errors.New("dates conflict with booked intervals")
	ErrStatus        = errors.New("illegal status operation")
	ErrUnsatisfiable = errors.New("allocation unsatisfiable")

	// ErrInvalidRange is returned for empty range lists or end before start.
	ErrInvalidRange = errors.New("invalid date range")

	ErrNotFound = errors.New("not found")

	// ErrStaleWrite is returned when a conditional update finds the document
	// no longer in the expected status. Another writer got there first.
	ErrStaleWrite = errors.New("document changed concurrently")
)

// =============================================================================
// ISSUES - Individual validation findings
// =============================================================================

// Issue codes
const (
	IssueInsufficientBalance = "insufficient_balance"
	IssueContractEnding      = "contract_ending"
	IssueOutsideContract     = "outside_contract"
	IssueLateFiling          = "late_filing"
	IssuePendingLimit        = "pending_limit"
	IssueConflict            = "conflict"
	IssueInvalidRange        = "invalid_range"
	IssueUnknownStaff        = "unknown_staff"
)

// Issue is one finding. Overridable issues become warnings when the caller
// passes the override flag.
type Issue struct {
	Code        string      `json:"code"`
	Message     string      `json:"message"`
	Ranges      []DateRange `json:"ranges,omitempty"`
	Overridable bool        `json:"overridable,omitempty"`
}

func (i Issue) String() string { return i.Code + ": " + i.Message }

// ValidationResult collects blocking errors and non-blocking warnings.
type ValidationResult struct {
	Errors    []Issue          `json:"errors"`
	Warnings  []Issue          `json:"warnings"`
	Conflicts []BookedInterval `json:"conflicts,omitempty"`
}

func (r *ValidationResult) AddError(i Issue)   { r.Errors = append(r.Errors, i) }
func (r *ValidationResult) AddWarning(i Issue) { r.Warnings = append(r.Warnings, i) }

// OK is true when there are no blocking errors.
func (r ValidationResult) OK() bool { return len(r.Errors) == 0 }

// Err converts the result into an error. Conflicts win over other
// validation failures so the caller can show which intervals collide.
func (r ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	if len(r.Conflicts) > 0 {
		return &ConflictError{Conflicts: r.Conflicts, Issues: r.Errors}
	}
	return &ValidationError{Issues: r.Errors, Warnings: r.Warnings}
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError lists every blocking issue found.
type ValidationError struct {
	Issues   []Issue
	Warnings []Issue
}

func (e *ValidationError) Error() string {
	return "validation failed: " + joinIssues(e.Issues)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Overridable is true when every blocking issue can be overridden.
func (e *ValidationError) Overridable() bool {
	if len(e.Issues) == 0 {
		return false
	}
	for _, i := range e.Issues {
		if !i.Overridable {
			return false
		}
	}
	return true
}

// NewValidationError builds a single-issue ValidationError.
func NewValidationError(code, format string, args ...any) *ValidationError {
	return &ValidationError{Issues: []Issue{{Code: code, Message: fmt.Sprintf(format, args...)}}}
}

// ConflictError names the booked intervals the request collides with.
type ConflictError struct {
	Conflicts []BookedInterval
	Issues    []Issue
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s %s (%s)", c.OriginKind, c.Range, c.Label))
	}
	return "dates conflict with: " + strings.Join(parts, "; ")
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// StatusError reports an illegal transition, rollback or edit.
type StatusError struct {
	DocumentID DocumentID
	Current    Status
	Target     Status
	Reason     string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("document %s: cannot move from %s", e.DocumentID, e.Current)
	if e.Target != "" {
		msg += " to " + string(e.Target)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// UnsatisfiableAllocation is returned when no placement was found even after
// expanding the search horizon.
type UnsatisfiableAllocation struct {
	Days          int
	Mode          string
	HorizonMonths int
}

func (e *UnsatisfiableAllocation) Error() string {
	return fmt.Sprintf("cannot place %d days in %s mode within %d months",
		e.Days, e.Mode, e.HorizonMonths)
}

func (e *UnsatisfiableAllocation) Unwrap() error { return ErrUnsatisfiable }

// NotFoundError names what was missing.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return e.Kind + " " + e.ID + " not found" }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleWrite)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrStatus) ||
		errors.Is(err, ErrUnsatisfiable) ||
		errors.Is(err, ErrInvalidRange)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func joinIssues(issues []Issue) string {
	parts := make([]string, 0, len(issues))
	for _, i := range issues {
		parts = append(parts, i.String())
	}
	return strings.Join(parts, "; ")
}
