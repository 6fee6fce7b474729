package channels

import (
	"errors"
	"fmt"
)

// ErrorCode classifies channel boundary failures. Codes are stable strings
// surfaced to callers and recorded in metrics.
type ErrorCode string

const (
	// ErrCodeInvalidPayload indicates an incomplete or out-of-order inbound
	// event, or an undeliverable outbound payload.
	ErrCodeInvalidPayload ErrorCode = "CHANNEL_INVALID_PAYLOAD"

	// ErrCodeUnauthorized indicates the sender failed the boundary's
	// authorization rules.
	ErrCodeUnauthorized ErrorCode = "CHANNEL_UNAUTHORIZED"

	// ErrCodeRateLimited indicates the inbound rate limit rejected the event.
	// Retryable; carries RetryAfterSeconds.
	ErrCodeRateLimited ErrorCode = "CHANNEL_RATE_LIMITED"

	// ErrCodeUnavailable indicates the boundary cannot deliver, typically
	// because no outbound port is wired.
	ErrCodeUnavailable ErrorCode = "CHANNEL_UNAVAILABLE"

	// ErrCodeInternal indicates an unexpected boundary failure.
	ErrCodeInternal ErrorCode = "CHANNEL_INTERNAL"
)

// Error is the structured error for channel boundary operations.
type Error struct {
	// Code categorizes the failure.
	Code ErrorCode

	// Channel names the boundary that produced the error.
	Channel string

	// Message provides a human-readable description.
	Message string

	// RetryAfterSeconds tells rate-limited callers when to retry. Zero for
	// all other codes.
	RetryAfterSeconds int

	// Err is the underlying error, if any.
	Err error

	// Context carries additional key-value pairs for debugging.
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Code, e.Channel, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Channel, e.Message)
}

// Unwrap returns the underlying error so errors.Is and errors.As work.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the caller may retry. Only rate limits are
// transient at this boundary.
func (e *Error) IsRetryable() bool {
	return e.Code == ErrCodeRateLimited
}

// WithContext adds contextual information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewError creates an Error with the given code.
func NewError(code ErrorCode, channel, message string, err error) *Error {
	return &Error{
		Code:    code,
		Channel: channel,
		Message: message,
		Err:     err,
	}
}

// ErrInvalidPayload creates an invalid payload error.
func ErrInvalidPayload(channel, message string, err error) *Error {
	return NewError(ErrCodeInvalidPayload, channel, message, err)
}

// ErrUnauthorized creates an authorization error.
func ErrUnauthorized(channel, message string) *Error {
	return NewError(ErrCodeUnauthorized, channel, message, nil)
}

// ErrRateLimited creates a rate limit error with retry guidance.
func ErrRateLimited(channel, message string, retryAfterSeconds int) *Error {
	e := NewError(ErrCodeRateLimited, channel, message, nil)
	e.RetryAfterSeconds = retryAfterSeconds
	return e
}

// ErrUnavailable creates an unavailable error.
func ErrUnavailable(channel, message string) *Error {
	return NewError(ErrCodeUnavailable, channel, message, nil)
}

// ErrInternal creates an internal error.
func ErrInternal(channel, message string, err error) *Error {
	return NewError(ErrCodeInternal, channel, message, err)
}

// GetErrorCode extracts the ErrorCode from an error, defaulting to
// ErrCodeInternal for foreign errors.
func GetErrorCode(err error) ErrorCode {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err is a retryable channel error.
func IsRetryable(err error) bool {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.IsRetryable()
	}
	return false
}

// RetryAfterSeconds extracts retry guidance from a rate limit error, or zero.
func RetryAfterSeconds(err error) int {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.RetryAfterSeconds
	}
	return 0
}
