package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a surface error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"    // 401
	ErrForbidden      ErrorCode = "FORBIDDEN"       // 403
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrConflict       ErrorCode = "CONFLICT"        // 409
	ErrUnsupported    ErrorCode = "UNSUPPORTED"     // 422
	ErrUnavailable    ErrorCode = "UNAVAILABLE"     // 503
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// ReplyError represents a structured error with code, status, and details.
type ReplyError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *ReplyError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *ReplyError {
	return &ReplyError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewUnauthorized creates a 401 error.
func NewUnauthorized(msg string) *ReplyError {
	return &ReplyError{
		Code:    ErrUnauthorized,
		Status:  401,
		Message: msg,
	}
}

// NewForbidden creates a 403 error for an authenticated caller outside its scope.
func NewForbidden(msg string) *ReplyError {
	return &ReplyError{
		Code:    ErrForbidden,
		Status:  403,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing record.
func NewNotFound(kind, identifier string) *ReplyError {
	return &ReplyError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewConflict creates a 409 error.
func NewConflict(msg string) *ReplyError {
	return &ReplyError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewUnsupported creates a 422 error for a request a collaborator cannot serve.
func NewUnsupported(msg string) *ReplyError {
	return &ReplyError{
		Code:    ErrUnsupported,
		Status:  422,
		Message: msg,
	}
}

// NewUnavailable creates a 503 error for a component that is not configured or stopped.
func NewUnavailable(msg string) *ReplyError {
	return &ReplyError{
		Code:    ErrUnavailable,
		Status:  503,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *ReplyError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &ReplyError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if err wraps a ReplyError with the given code.
func Is(err error, code ErrorCode) bool {
	var rErr *ReplyError
	if stderrors.As(err, &rErr) {
		return rErr.Code == code
	}
	return false
}

// From converts any error into a ReplyError, wrapping unknown errors as internal.
func From(err error) *ReplyError {
	var rErr *ReplyError
	if stderrors.As(err, &rErr) {
		return rErr
	}
	return NewInternal(err)
}
