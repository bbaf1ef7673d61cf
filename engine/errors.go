/*
errors.go - Centralized error types for the incentive engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch on sentinels with errors.Is and read details from the
  structured errors with errors.As.

ERROR CATEGORIES:
  1. Validation errors - Malformed scheme configuration or input data
  2. Workflow errors - Illegal state transitions, activation conflicts
  3. Lookup errors - Missing schemes, products, dealers, transactions

NOT ERRORS:
  "No applicable scheme" and "ineligible by rule" are ordinary calculation
  outcomes (OutcomeNoApplicableScheme, OutcomeIneligible) carried in the
  PayoutResult, never returned as errors.

USAGE:
  if errors.Is(err, engine.ErrConcurrentModification) {
      // re-read the active version and retry
  }

  var verr *engine.ValidationError
  if errors.As(err, &verr) {
      for _, issue := range verr.Issues { ... }
  }

SEE ALSO:
  - validate.go: Produces ValidationError
  - workflow.go: Produces IllegalTransitionError
  - service.go: Produces ConcurrentModificationError
*/
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a scheme or input fails static validation.
	ErrValidation = errors.New("validation failed")

	// ErrIllegalTransition is returned when an action is not allowed from the
	// scheme version's current state.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrConcurrentModification is returned when the active version changed
	// between read and commit during activation.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrOutsideValidity is returned when activating a version whose validity
	// window has not started or has already ended.
	ErrOutsideValidity = errors.New("outside scheme validity window")

	// ErrSchemeNotFound is returned when a referenced scheme version doesn't exist.
	ErrSchemeNotFound = errors.New("scheme not found")

	// ErrNoActiveVersion is returned when a scheme has no active version.
	ErrNoActiveVersion = errors.New("scheme has no active version")

	// ErrProductNotFound is returned when a referenced product doesn't exist.
	ErrProductNotFound = errors.New("product not found")

	// ErrDealerNotFound is returned when a referenced dealer doesn't exist.
	ErrDealerNotFound = errors.New("dealer not found")

	// ErrTransactionNotFound is returned when a referenced transaction doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateTransaction is returned when a transaction id is recorded twice.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrAlreadyReversed is returned when a transaction already has a correction.
	ErrAlreadyReversed = errors.New("transaction already reversed")

	// ErrImmutableProduct is returned when editing a product referenced by an
	// active scheme.
	ErrImmutableProduct = errors.New("product is referenced by an active scheme")

	// ErrUnknownIncentiveKind is returned when the calculator meets an
	// incentive variant it has no branch for.
	ErrUnknownIncentiveKind = errors.New("unknown incentive kind")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationIssue is one problem found during validation.
type ValidationIssue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s (%s)", i.Field, i.Message, i.Code)
}

// ValidationError lists every issue found; validation never stops at the first.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// issues accumulates ValidationIssues and converts them to an error.
type issues []ValidationIssue

func (is *issues) add(field, code, format string, args ...any) {
	*is = append(*is, ValidationIssue{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (is issues) err() error {
	if len(is) == 0 {
		return nil
	}
	return &ValidationError{Issues: is}
}

// IllegalTransitionError names the rejected action and the state it met.
type IllegalTransitionError struct {
	Ref    SchemeRef
	From   State
	Action Action
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot %s scheme %s in state %s", e.Action, e.Ref, e.From)
}

func (e *IllegalTransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// ConcurrentModificationError reports the active version the caller expected
// and the one found at commit time (0 means none).
type ConcurrentModificationError struct {
	SchemeID       SchemeID
	ExpectedActive int
	FoundActive    int
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("scheme %s: expected active version %d, found %d",
		e.SchemeID, e.ExpectedActive, e.FoundActive)
}

func (e *ConcurrentModificationError) Unwrap() error {
	return ErrConcurrentModification
}

// ActivationWindowError reports an activation attempted outside validity.
type ActivationWindowError struct {
	Ref      SchemeRef
	Today    Date
	Validity Period
}

func (e *ActivationWindowError) Error() string {
	return fmt.Sprintf("cannot activate %s on %s: validity %s", e.Ref, e.Today, e.Validity)
}

func (e *ActivationWindowError) Unwrap() error {
	return ErrOutsideValidity
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrOutsideValidity) ||
		errors.Is(err, ErrDuplicateTransaction) ||
		errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrImmutableProduct)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSchemeNotFound) ||
		errors.Is(err, ErrNoActiveVersion) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrDealerNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
