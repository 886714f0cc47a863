package domain

import "fmt"

// Error types for consistent error handling across the BFA.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrUpstream is a non-success answer from the ledger API.
// Message carries the server's user-facing text when it sent one.
type ErrUpstream struct {
	Status  int
	Message string
}

func (e *ErrUpstream) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ledger returned status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("ledger returned status %d", e.Status)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation is a guard rejection. No network call was made.
type ErrValidation struct {
	Field   string
	Code    string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrFetch is a read that failed after the retry bound was exhausted.
type ErrFetch struct {
	Resource string
	Attempts int
	Err      error
}

func (e *ErrFetch) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.Resource, e.Attempts, e.Err)
}

func (e *ErrFetch) Unwrap() error {
	return e.Err
}

// ErrSubmission is a mutation the ledger rejected after the guard passed.
type ErrSubmission struct {
	Kind    MovementKind
	Message string
	Err     error
}

func (e *ErrSubmission) Error() string {
	return e.Message
}

func (e *ErrSubmission) Unwrap() error {
	return e.Err
}

// ErrDataIntegrity reports a derived quantity that violates an invariant.
// It points at an upstream inconsistency, not at user input.
type ErrDataIntegrity struct {
	Field  string
	Detail string
}

func (e *ErrDataIntegrity) Error() string {
	return fmt.Sprintf("data integrity violation on '%s': %s", e.Field, e.Detail)
}

// ErrProcessing indicates a submission of the same kind is already in flight.
type ErrProcessing struct {
	Kind MovementKind
}

func (e *ErrProcessing) Error() string {
	return fmt.Sprintf("a %s request is already being processed", e.Kind)
}

// ErrUnauthorized indicates an invalid or missing session token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
