package identity

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific identity validation failure.
// Codes are stable and machine-readable; callers switch on them when
// translating boundary input into user-facing errors.
type ErrorCode string

const (
	// ErrCodeEmpty indicates a required identity field was empty after trimming.
	ErrCodeEmpty ErrorCode = "IDENTITY_EMPTY"

	// ErrCodeContainsSeparator indicates an identity field contained a
	// reserved separator character (':', '/', or '\').
	ErrCodeContainsSeparator ErrorCode = "IDENTITY_CONTAINS_SEPARATOR"

	// ErrCodeSessionKeyFormat indicates a session key string did not have
	// exactly three non-empty colon-separated segments.
	ErrCodeSessionKeyFormat ErrorCode = "SESSION_KEY_INVALID_FORMAT"

	// ErrCodePartitionFormat indicates a storage partition key string did not
	// have exactly three non-empty slash-separated segments.
	ErrCodePartitionFormat ErrorCode = "STORAGE_PARTITION_INVALID_FORMAT"
)

// Error is a structured identity validation error. Identity errors are never
// retryable: the input is malformed and will not become valid on retry.
type Error struct {
	// Code categorizes the failure.
	Code ErrorCode

	// Field names the offending identity field ("tenant", "channel",
	// "thread"), or the key kind for parse failures.
	Field string

	// Message provides a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Retryable always reports false; identity errors are caller mistakes.
func (e *Error) Retryable() bool {
	return false
}

func errEmpty(field string) *Error {
	return &Error{
		Code:    ErrCodeEmpty,
		Field:   field,
		Message: "must not be empty",
	}
}

func errSeparator(field string, sep rune) *Error {
	return &Error{
		Code:    ErrCodeContainsSeparator,
		Field:   field,
		Message: fmt.Sprintf("must not contain %q", sep),
	}
}

// GetErrorCode extracts the ErrorCode from an error if it is an identity
// Error, otherwise returns the empty code.
func GetErrorCode(err error) ErrorCode {
	var idErr *Error
	if errors.As(err, &idErr) {
		return idErr.Code
	}
	return ""
}
