package shared

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Workflow error taxonomy. Every engine operation either succeeds or fails
// fast with one of these; nothing is retried internally.
var (
	// ErrNotFound indicates an unknown record id.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidState occurs when a transition is attempted from a state
	// that does not permit it.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrOutOfOrder occurs when FIFO validation sequencing is violated.
	ErrOutOfOrder = errors.New("an older request is still awaiting validation")
	// ErrConcurrentModification occurs when a conditional write affected
	// zero rows because another actor transitioned the record first.
	ErrConcurrentModification = errors.New("record was modified by another actor")
	// ErrMissingDocument occurs when a required document reference is
	// absent or malformed.
	ErrMissingDocument = errors.New("required document missing")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("invalid input")
	// ErrForbidden indicates the actor's role does not permit the operation.
	ErrForbidden = errors.New("actor not allowed")
)

// OutOfOrderError carries the id of the blocking record so the UI can
// redirect the actor to it.
type OutOfOrderError struct {
	BlockingID uuid.UUID
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("request %s must be validated first", e.BlockingID)
}

// Unwrap makes the error match ErrOutOfOrder.
func (e *OutOfOrderError) Unwrap() error { return ErrOutOfOrder }
