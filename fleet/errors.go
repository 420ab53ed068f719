/*
errors.go - Error taxonomy of the derivation core

PURPOSE:
  All error types in one place. Every rejection is surfaced synchronously
  to the caller; nothing here is transient, so nothing is retryable.

ERROR CATEGORIES:
  1. Transition errors - InvalidTransition, TerminalState, SkippedStep
  2. Guard errors      - DeletionBlocked
  3. Lookup errors     - MissingReference (a caller bug, not recoverable)
  4. Validation        - malformed records rejected before they reach the core

USAGE:
  if errors.Is(err, fleet.ErrTerminalState) { ... }

  var blocked *fleet.DeletionBlockedError
  if errors.As(err, &blocked) { fmt.Println(blocked.References) }
*/
package fleet

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidTransition is returned when a status regresses without being a cancellation.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrTerminalState is returned for any transition requested on a completed or cancelled trip.
	ErrTerminalState = errors.New("trip is in a terminal state")

	// ErrSkippedStep is returned for planned -> completed.
	ErrSkippedStep = errors.New("transition skips a step")

	// ErrDeletionBlocked is returned when a record is still referenced.
	ErrDeletionBlocked = errors.New("deletion blocked")

	// ErrMissingReference is returned when an id is absent from the supplied collection.
	ErrMissingReference = errors.New("missing reference")

	// ErrValidation is returned for malformed records.
	ErrValidation = errors.New("validation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransitionError describes a rejected status change.
type TransitionError struct {
	TripID TripID
	From   TripStatus
	To     TripStatus
	Err    error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("trip %s: %s -> %s: %v", e.TripID, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// DeletionBlockedError names what still references the record.
type DeletionBlockedError struct {
	Kind       string // "trip", "driver", "truck", "account"
	ID         string
	Reason     string
	References []string
}

func (e *DeletionBlockedError) Error() string {
	msg := fmt.Sprintf("cannot delete %s %s: %s", e.Kind, e.ID, e.Reason)
	if len(e.References) > 0 {
		msg += " (" + strings.Join(e.References, ", ") + ")"
	}
	return msg
}

func (e *DeletionBlockedError) Unwrap() error { return ErrDeletionBlocked }

// MissingReferenceError names the unknown id.
type MissingReferenceError struct {
	Kind string
	ID   string
}

func (e *MissingReferenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("missing %s reference", e.Kind)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *MissingReferenceError) Unwrap() error { return ErrMissingReference }

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func missing(kind, id string) error {
	return &MissingReferenceError{Kind: kind, ID: id}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the request itself was wrong.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrSkippedStep) ||
		errors.Is(err, ErrValidation)
}

// IsConflict returns true if the request clashes with the current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrTerminalState) ||
		errors.Is(err, ErrDeletionBlocked)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMissingReference)
}
