// Package persistence provides standardized error types for persistence
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates a workflow definition was not found.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrInstanceNotFound indicates a workflow instance was not found.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrExecutionNotFound indicates a step execution was not found.
	ErrExecutionNotFound = errors.New("step execution not found")

	// ErrExecutionNotPending indicates a status transition lost the race:
	// the execution already left pending. Callers translate this into the
	// already-acted result.
	ErrExecutionNotPending = errors.New("step execution is not pending")

	// ErrDefinitionImmutable indicates a write against a published or
	// inactive definition version.
	ErrDefinitionImmutable = errors.New("published workflow definition is immutable")
)

// RepositoryError wraps persistence errors with operation context.
type RepositoryError struct {
	Op     string // Operation being performed (e.g., "GetByID", "Save")
	Entity string // Aggregate name ("definition", "instance", "execution", "audit")
	ID     string // Row identifier if applicable
	Err    error  // Underlying error
}

func (e *RepositoryError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

func (e *RepositoryError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRepositoryError creates a repository error with context.
func NewRepositoryError(op, entity, id string, err error) *RepositoryError {
	return &RepositoryError{Op: op, Entity: entity, ID: id, Err: err}
}

// IsNotFound checks whether an error indicates any missing aggregate.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrInstanceNotFound) ||
		errors.Is(err, ErrExecutionNotFound)
}

// IsNotPending checks whether a transition lost the pending-status race.
func IsNotPending(err error) bool {
	return errors.Is(err, ErrExecutionNotPending)
}
