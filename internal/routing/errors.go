package routing

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes routing failures.
type ErrorCode string

const (
	// ErrCodeInvalidInput indicates the route could not be derived from the
	// supplied identity or peer data.
	ErrCodeInvalidInput ErrorCode = "ROUTE_INVALID_INPUT"

	// ErrCodeForbidden indicates the route resolved to a target the caller
	// may not address.
	ErrCodeForbidden ErrorCode = "ROUTE_FORBIDDEN"

	// ErrCodeNotFound indicates no route target exists for the input.
	ErrCodeNotFound ErrorCode = "ROUTE_NOT_FOUND"
)

// Error is a structured routing error. Routing errors are not retryable.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable always reports false.
func (e *Error) Retryable() bool {
	return false
}

// NewError creates a routing error with the given code.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// GetErrorCode extracts the ErrorCode from a routing error, or "" otherwise.
func GetErrorCode(err error) ErrorCode {
	var rErr *Error
	if errors.As(err, &rErr) {
		return rErr.Code
	}
	return ""
}
