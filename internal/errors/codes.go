package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents internal error codes for object operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeNotFound        ErrorCode = 1001
	ErrCodeInvalidTenantID ErrorCode = 1002
	ErrCodeInvalidID       ErrorCode = 1003
	ErrCodeVersionConflict ErrorCode = 1004

	// Server errors
	ErrCodeInternal            ErrorCode = 2000
	ErrCodeUnavailable         ErrorCode = 2001
	ErrCodeBackendFailure      ErrorCode = 2002
	ErrCodeReentrantCall       ErrorCode = 2003
	ErrCodeClockMovedBackwards ErrorCode = 2004
)

// ObjectError represents a structured error with code and context
type ObjectError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *ObjectError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *ObjectError) Unwrap() error {
	return e.Cause
}

// Is matches errors carrying the same code, so sentinel values work with errors.Is
func (e *ObjectError) Is(target error) bool {
	t, ok := target.(*ObjectError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewObjectError creates a new ObjectError
func NewObjectError(code ErrorCode, message string, cause error) *ObjectError {
	return &ObjectError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *ObjectError) WithDetail(key string, value interface{}) *ObjectError {
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is checks
var (
	ErrNotFound            = NewObjectError(ErrCodeNotFound, "not found", nil)
	ErrVersionConflict     = NewObjectError(ErrCodeVersionConflict, "version conflict", nil)
	ErrReentrantCall       = NewObjectError(ErrCodeReentrantCall, "reentrant intercepted call", nil)
	ErrClockMovedBackwards = NewObjectError(ErrCodeClockMovedBackwards, "clock moved backwards", nil)
	ErrBackendFailure      = NewObjectError(ErrCodeBackendFailure, "backend failure", nil)
)

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *ObjectError {
	return NewObjectError(ErrCodeInvalidArgument, message, cause)
}

func NotFound(tenantID, id string) *ObjectError {
	return NewObjectError(ErrCodeNotFound, fmt.Sprintf("object not found: %s:%s", tenantID, id), nil).
		WithDetail("tenant_id", tenantID).
		WithDetail("id", id)
}

func InvalidTenantID(tenantID, reason string) *ObjectError {
	return NewObjectError(ErrCodeInvalidTenantID, fmt.Sprintf("invalid tenant ID '%s': %s", tenantID, reason), nil).
		WithDetail("tenant_id", tenantID).
		WithDetail("reason", reason)
}

func InvalidID(id, reason string) *ObjectError {
	return NewObjectError(ErrCodeInvalidID, fmt.Sprintf("invalid id '%s': %s", id, reason), nil).
		WithDetail("id", id).
		WithDetail("reason", reason)
}

func VersionConflict(tenantID, id string, expected int64) *ObjectError {
	return NewObjectError(ErrCodeVersionConflict, fmt.Sprintf("version mismatch for %s:%s, expected %d", tenantID, id, expected), nil).
		WithDetail("tenant_id", tenantID).
		WithDetail("id", id).
		WithDetail("expected_version", expected)
}

func BackendFailure(backend, operation string, cause error) *ObjectError {
	return NewObjectError(ErrCodeBackendFailure, fmt.Sprintf("%s %s failed", backend, operation), cause).
		WithDetail("backend", backend).
		WithDetail("operation", operation)
}

func Reentrant(operation, objType string) *ObjectError {
	return NewObjectError(ErrCodeReentrantCall, fmt.Sprintf("%s on type '%s' is already intercepted in this call chain", operation, objType), nil).
		WithDetail("operation", operation).
		WithDetail("type", objType)
}

func ClockMovedBackwards(lastMillis, nowMillis int64) *ObjectError {
	return NewObjectError(ErrCodeClockMovedBackwards, fmt.Sprintf("clock moved backwards: refusing to generate id for %d ms", lastMillis-nowMillis), nil).
		WithDetail("last_timestamp", lastMillis).
		WithDetail("now", nowMillis)
}

func InternalError(message string, cause error) *ObjectError {
	return NewObjectError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *ObjectError {
	return NewObjectError(ErrCodeUnavailable, message, cause)
}

// IsObjectError checks if an error is an ObjectError
func IsObjectError(err error) bool {
	var oe *ObjectError
	return stderrors.As(err, &oe)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var oe *ObjectError
	if stderrors.As(err, &oe) {
		return oe.Code
	}
	return ErrCodeInternal
}
