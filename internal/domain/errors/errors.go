package errors

import (
	"errors"
	"fmt"
)

var (
	// Outbox errors
	ErrMessageNotFound          = errors.New("outbox message not found")
	ErrInvalidStateTransition   = errors.New("invalid state transition")
	ErrMessageAlreadyTerminal   = errors.New("outbox message is in a terminal state")
	ErrEmptyJobHandle           = errors.New("scheduler returned an empty job handle")
	ErrMessageTypeNotRegistered = errors.New("message type is not registered")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrTenantRequired          = errors.New("tenant id is required for idempotency operations")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	// Validation errors
	ErrInvalidInput = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
