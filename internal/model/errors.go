package model

import (
	"errors"
	"fmt"
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError is a hard rejection raised before any ledger effect.
type ValidationError struct {
	Field  string
	Reason string
	LegID  string
}

func (e *ValidationError) Error() string {
	if e.LegID != "" {
		return fmt.Sprintf("invalid %s (leg %s): %s", e.Field, e.LegID, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PersistenceError wraps a store failure that interrupted a multi-step
// operation. Rows written before the failure are left in place.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
