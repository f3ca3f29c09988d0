// Package services provides standardized error types for service layer
// operations.
package services

import (
	"errors"
	"fmt"
	"strings"
)

// Business logic errors. These indicate client errors (4xx responses) and
// are returned as typed results, never panics; callers must branch on them.
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidSortField  = errors.New("invalid sort field")
	ErrInvalidSortOrder  = errors.New("invalid sort order")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrCommentRequired   = errors.New("comment is required for this step")
	ErrInvalidFormData   = errors.New("form data does not match the step's form schema")
	ErrDefinitionInvalid = errors.New("workflow definition is invalid")

	// Authorization (403).
	ErrNotAuthorized = errors.New("actor is not the current assignee")

	// Conflicts (409).
	ErrAlreadyActed            = errors.New("execution has already been acted on")
	ErrCannotModifyPublished   = errors.New("cannot modify a published definition")
	ErrDelegationNotAllowed    = errors.New("step does not allow delegation")
	ErrReassignmentNotAllowed  = errors.New("step does not allow reassignment")
	ErrEscalationNotConfigured = errors.New("step does not have escalation enabled")
	ErrInstanceNotRunning      = errors.New("instance is not running")

	// Not found (404).
	ErrDefinitionNotFound = errors.New("workflow definition not found")
	ErrInstanceNotFound   = errors.New("workflow instance not found")
	ErrExecutionNotFound  = errors.New("step execution not found")
)

// DefinitionInvalidError carries every violation found at publish time, so
// admin tooling can present all fixes at once rather than one per attempt.
type DefinitionInvalidError struct {
	Code       string
	Violations []string
}

func (e *DefinitionInvalidError) Error() string {
	return fmt.Sprintf("definition %s is invalid: %s", e.Code, strings.Join(e.Violations, "; "))
}

func (e *DefinitionInvalidError) Is(target error) bool {
	return target == ErrDefinitionInvalid
}

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{Op: op, Code: code, Message: message, Err: err}
}

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrCommentRequired) ||
		errors.Is(err, ErrInvalidFormData) ||
		errors.Is(err, ErrDefinitionInvalid)
}

// IsConflictError checks if an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrAlreadyActed) ||
		errors.Is(err, ErrCannotModifyPublished) ||
		errors.Is(err, ErrDelegationNotAllowed) ||
		errors.Is(err, ErrReassignmentNotAllowed) ||
		errors.Is(err, ErrEscalationNotConfigured) ||
		errors.Is(err, ErrInstanceNotRunning)
}

// IsNotFoundError checks if an error should map to HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrInstanceNotFound) ||
		errors.Is(err, ErrExecutionNotFound)
}

// IsAuthorizationError checks if an error should map to HTTP 403.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrNotAuthorized)
}
