// Package errs defines the engine's error taxonomy beyond plain input
// validation: state errors, authorization errors, custody failures, and
// invariant violations. Validation errors live in internal/validate.
package errs

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// StateError marks an operation that is invalid for the bounty's current
// status, e.g. submitting after resolution. Recoverable, caller-visible.
type StateError struct {
	Op     string
	Status string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed in status %q: %s", e.Op, e.Status, e.Reason)
}

// AuthorizationError marks a request by the wrong actor or by a participant
// whose reputation does not meet the bounty's requirement.
type AuthorizationError struct {
	Actor  string
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %q not authorized: %s", e.Actor, e.Reason)
}

// CustodyError wraps a failed escrow transfer. Fatal for the operation in
// flight; the engine performs no automatic retry.
type CustodyError struct {
	Direction string // "in" or "out"
	Party     string
	Amount    int64
	Err       error
}

func (e *CustodyError) Error() string {
	return fmt.Sprintf("custody transfer %s for %q amount %d failed: %v", e.Direction, e.Party, e.Amount, e.Err)
}

func (e *CustodyError) Unwrap() error { return e.Err }

// InvariantViolation is a programming-logic fault (double resolution,
// ledger mismatch). Callers should treat it as a defect and fail loudly,
// not swallow it.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant %q violated: %s", e.Invariant, e.Detail)
}
