package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

// Error types for the source model
type ErrorType string

const (
	// Element errors
	ErrorTypeNotPresent       ErrorType = "not_present"
	ErrorTypeInvalidStructure ErrorType = "invalid_structure"
	ErrorTypeOutOfScope       ErrorType = "out_of_scope"

	// Operation errors
	ErrorTypeCancelled ErrorType = "cancelled"
	ErrorTypeReentrant ErrorType = "reentrant"

	// Configuration errors
	ErrorTypeConfig ErrorType = "config"

	// Internal errors
	ErrorTypeInternal ErrorType = "internal"
)

// Sentinels usable with errors.Is against any *ModelError of the same type.
var (
	ErrNotPresent       = &ModelError{Type: ErrorTypeNotPresent}
	ErrInvalidStructure = &ModelError{Type: ErrorTypeInvalidStructure}
	ErrOutOfScope       = &ModelError{Type: ErrorTypeOutOfScope}
	ErrCancelled        = &ModelError{Type: ErrorTypeCancelled}
	ErrReentrant        = &ModelError{Type: ErrorTypeReentrant}
)

// ModelError represents a failure tied to one element or path
type ModelError struct {
	Type       ErrorType
	Operation  string
	Element    string
	Underlying error
	Timestamp  time.Time
}

func newModelError(t ErrorType, op, element string, err error) *ModelError {
	return &ModelError{
		Type:       t,
		Operation:  op,
		Element:    element,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// NewNotPresent reports that an element's underlying source no longer exists.
// Recoverable by closing the element and letting the next open retry.
func NewNotPresent(op, element string, err error) *ModelError {
	return newModelError(ErrorTypeNotPresent, op, element, err)
}

// NewInvalidStructure reports malformed source. It is recorded, never fatal.
func NewInvalidStructure(op, element string, err error) *ModelError {
	return newModelError(ErrorTypeInvalidStructure, op, element, err)
}

// NewOutOfScope reports a path or name outside every configured root.
func NewOutOfScope(op, element string) *ModelError {
	return newModelError(ErrorTypeOutOfScope, op, element, nil)
}

// NewCancelled reports that cooperative cancellation was observed.
func NewCancelled(op string, err error) *ModelError {
	return newModelError(ErrorTypeCancelled, op, "", err)
}

// NewReentrant reports a build that asked for its own element.
func NewReentrant(op, element string) *ModelError {
	return newModelError(ErrorTypeReentrant, op, element, nil)
}

// Error implements the error interface
func (e *ModelError) Error() string {
	msg := string(e.Type)
	if e.Operation != "" {
		msg += " " + e.Operation
	}
	if e.Element != "" {
		msg += " " + e.Element
	}
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", msg, e.Underlying)
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As
func (e *ModelError) Unwrap() error {
	return e.Underlying
}

// Is matches any ModelError of the same Type, so callers can test against the sentinels.
func (e *ModelError) Is(target error) bool {
	t, ok := target.(*ModelError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// IsRecoverable reports whether retrying after the next change can succeed.
func (e *ModelError) IsRecoverable() bool {
	return e.Type != ErrorTypeInternal
}

// IsNotPresent reports whether err is a NotPresent error.
func IsNotPresent(err error) bool { return stderrors.Is(err, ErrNotPresent) }

// IsOutOfScope reports whether err is an OutOfScope error.
func IsOutOfScope(err error) bool { return stderrors.Is(err, ErrOutOfScope) }

// IsCancelled reports whether err is a Cancelled error or a bare context error.
func IsCancelled(err error) bool {
	return stderrors.Is(err, ErrCancelled) ||
		stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, context.DeadlineExceeded)
}

// CheckContext converts a done context into a Cancelled error.
func CheckContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return NewCancelled(op, err)
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error
}

// NewMultiError creates a new multi-error
func NewMultiError(errs []error) *MultiError {
	// Filter out nil errors
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// ErrorOrNil returns nil when no errors were collected
func (e *MultiError) ErrorOrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

// Error implements the error interface
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}
