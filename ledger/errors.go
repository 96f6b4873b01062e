/*
errors.go - Error taxonomy for the ledger core

ERROR CATEGORIES:
  1. Validation - Unbalanced entry set, bad amounts, bad state transition input
  2. NotFound   - Unknown business/invoice/transaction, missing reversal target
  3. Conflict   - Re-issue of an issued invoice, void of a non-issued invoice
  4. Integrity  - Orphans or unbalanced rows found during reconciliation
  5. Forbidden  - Caller-supplied capability flags deny the operation

The first three (and Forbidden) are returned before any write happens.
Integrity errors come from already-committed state and are handled by the
reconciliation service, not by the request that surfaced them.

USAGE:
  if errors.Is(err, ledger.ErrNotFound) { ... }

  var ce *ledger.ConflictError
  if errors.As(err, &ce) { ... ce.Status ... }
*/
package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrIntegrity  = errors.New("integrity violation")
	ErrForbidden  = errors.New("forbidden")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError describes rejected input. Nothing was written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the missing thing.
type NotFoundError struct {
	Kind string // "business", "invoice", "transaction"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError is a state-machine rejection.
type ConflictError struct {
	InvoiceID InvoiceID
	Op        string
	Status    InvoiceStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot %s invoice %s in status %s", e.Op, e.InvoiceID, e.Status)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// IntegrityError reports rows that break the ledger's invariants.
type IntegrityError struct {
	BusinessID BusinessID
	Problems   []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation in business %s: %s", e.BusinessID, strings.Join(e.Problems, "; "))
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// ForbiddenError is returned when the caller's capability flags deny an operation.
type ForbiddenError struct {
	Op     string
	Reason string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s forbidden: %s", e.Op, e.Reason)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool  { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool  { return errors.Is(err, ErrConflict) }
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }
func IsIntegrity(err error) bool { return errors.Is(err, ErrIntegrity) }

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrForbidden)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
