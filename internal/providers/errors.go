package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Boundary is the error boundary tag carried by provider errors.
const Boundary = "provider"

// ErrorCode categorizes provider failures.
type ErrorCode string

const (
	ErrCodeRateLimit      ErrorCode = "RATE_LIMIT"
	ErrCodeAuth           ErrorCode = "AUTH"
	ErrCodeNetwork        ErrorCode = "NETWORK"
	ErrCodeTool           ErrorCode = "TOOL"
	ErrCodeAbort          ErrorCode = "ABORT"
	ErrCodeContextLimit   ErrorCode = "CONTEXT_LIMIT"
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrCodeInternal       ErrorCode = "INTERNAL"
)

// Error is a normalized provider error.
type Error struct {
	// Code categorizes the failure.
	Code ErrorCode

	// ProviderID names the adapter the error originated from.
	ProviderID string

	// StatusCode is the HTTP status from the upstream API, when known.
	StatusCode int

	// Message is the original error text.
	Message string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderID != "" {
		return fmt.Sprintf("[%s] provider %s: %s", e.Code, e.ProviderID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may succeed on retry.
func (e *Error) Retryable() bool {
	switch e.Code {
	case ErrCodeRateLimit, ErrCodeNetwork:
		return true
	default:
		return false
	}
}

// NewError creates a provider error with the given code.
func NewError(code ErrorCode, providerID, message string, err error) *Error {
	return &Error{Code: code, ProviderID: providerID, Message: message, Err: err}
}

// patternGroups maps message substrings to codes. Groups are matched in
// order; the first match wins, so the more specific groups come first.
var patternGroups = []struct {
	code     ErrorCode
	patterns []string
}{
	{ErrCodeRateLimit, []string{"429", "rate_limit", "rate limit", "too many requests", "overloaded", "capacity", "quota", "usage limit"}},
	{ErrCodeAuth, []string{"401", "403", "unauthorized", "forbidden", "invalid api key"}},
	{ErrCodeNetwork, []string{"network", "econnrefused", "etimedout", "socket hang up", "fetch failed"}},
	{ErrCodeTool, []string{"tool", "mcp", "hook"}},
	{ErrCodeAbort, []string{"abort", "cancelled"}},
	{ErrCodeContextLimit, []string{"context limit", "context_length", "too large"}},
	{ErrCodeInvalidRequest, []string{"invalid request", "bad request", "400"}},
}

// Normalize converts an arbitrary error into a provider Error. Already
// normalized errors pass through unchanged, so the function is idempotent
// and safe to call at every boundary.
func Normalize(providerID string, raw error) *Error {
	return NormalizeWithStatus(providerID, 0, raw)
}

// NormalizeWithStatus is Normalize with an HTTP status supplied by an
// adapter that has structured access to the upstream response.
func NormalizeWithStatus(providerID string, statusCode int, raw error) *Error {
	if raw == nil {
		return NewError(ErrCodeInternal, providerID, "unknown provider failure", nil)
	}

	var pErr *Error
	if errors.As(raw, &pErr) {
		return pErr
	}

	code := ErrCodeInternal
	switch {
	// Context errors don't contain the wire-level substrings the pattern
	// table keys on: cancellation is an abort, a deadline is a timeout.
	case errors.Is(raw, context.Canceled):
		code = ErrCodeAbort
	case errors.Is(raw, context.DeadlineExceeded):
		code = ErrCodeNetwork
	default:
		message := strings.ToLower(raw.Error())
		for _, group := range patternGroups {
			if matchesAny(message, group.patterns) {
				code = group.code
				break
			}
		}
	}

	return &Error{
		Code:       code,
		ProviderID: providerID,
		StatusCode: statusCode,
		Message:    raw.Error(),
		Err:        raw,
	}
}

func matchesAny(message string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(message, p) {
			return true
		}
	}
	return false
}

// GetErrorCode extracts the ErrorCode from a provider error, or
// ErrCodeInternal for anything else.
func GetErrorCode(err error) ErrorCode {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err is a retryable provider error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.Retryable()
	}
	return false
}
