package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNormalizeCodes(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		want      ErrorCode
		wantRetry bool
	}{
		{"http 429", "request failed with status 429", ErrCodeRateLimit, true},
		{"rate limit text", "Rate limit exceeded, slow down", ErrCodeRateLimit, true},
		{"snake rate_limit", "error: rate_limit_error", ErrCodeRateLimit, true},
		{"too many requests", "Too Many Requests", ErrCodeRateLimit, true},
		{"overloaded", "server overloaded, try later", ErrCodeRateLimit, true},
		{"capacity", "out of capacity", ErrCodeRateLimit, true},
		{"quota", "monthly quota reached", ErrCodeRateLimit, true},
		{"usage limit", "usage limit reached for org", ErrCodeRateLimit, true},
		{"http 401", "401 unauthorized", ErrCodeAuth, false},
		{"http 403", "403 Forbidden", ErrCodeAuth, false},
		{"invalid api key", "Invalid API Key provided", ErrCodeAuth, false},
		{"network", "network unreachable", ErrCodeNetwork, true},
		{"econnrefused", "connect ECONNREFUSED 127.0.0.1:443", ErrCodeNetwork, true},
		{"etimedout", "read ETIMEDOUT", ErrCodeNetwork, true},
		{"socket hang up", "socket hang up", ErrCodeNetwork, true},
		{"fetch failed", "fetch failed", ErrCodeNetwork, true},
		{"tool", "tool execution failed", ErrCodeTool, false},
		{"mcp", "MCP server crashed", ErrCodeTool, false},
		{"hook", "hook rejected input", ErrCodeTool, false},
		{"abort", "operation aborted by user", ErrCodeAbort, false},
		{"cancelled", "request cancelled", ErrCodeAbort, false},
		{"context limit", "context limit exceeded", ErrCodeContextLimit, false},
		{"context_length", "context_length_exceeded", ErrCodeContextLimit, false},
		{"too large", "prompt is too large", ErrCodeContextLimit, false},
		{"invalid request", "invalid request: missing field", ErrCodeInvalidRequest, false},
		{"bad request", "Bad Request", ErrCodeInvalidRequest, false},
		{"http 400", "status 400 returned", ErrCodeInvalidRequest, false},
		{"unknown", "something exploded", ErrCodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ne := Normalize("claude", errors.New(tt.raw))
			if ne.Code != tt.want {
				t.Errorf("Normalize(%q).Code = %s, want %s", tt.raw, ne.Code, tt.want)
			}
			if ne.Retryable() != tt.wantRetry {
				t.Errorf("Retryable() = %v, want %v", ne.Retryable(), tt.wantRetry)
			}
			if ne.ProviderID != "claude" {
				t.Errorf("ProviderID = %q, want %q", ne.ProviderID, "claude")
			}
		})
	}
}

func TestNormalizeFirstMatchWins(t *testing.T) {
	// "429" (rate limit group) appears before "400" (invalid request group),
	// and the rate limit group is consulted first.
	ne := Normalize("claude", errors.New("429 bad request"))
	if ne.Code != ErrCodeRateLimit {
		t.Errorf("Code = %s, want %s", ne.Code, ErrCodeRateLimit)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	original := NewError(ErrCodeAuth, "claude", "401 unauthorized", nil)

	normalized := Normalize("other", original)
	if normalized != original {
		t.Errorf("Normalize() = %p, want same instance %p", normalized, original)
	}

	// Wrapped normalized errors also pass through.
	wrapped := fmt.Errorf("stream failed: %w", original)
	normalized = Normalize("other", wrapped)
	if normalized != original {
		t.Error("Normalize() did not unwrap to the original normalized error")
	}
}

func TestNormalizeContextErrors(t *testing.T) {
	if code := Normalize("claude", context.Canceled).Code; code != ErrCodeAbort {
		t.Errorf("context.Canceled -> %s, want %s", code, ErrCodeAbort)
	}
	ne := Normalize("claude", context.DeadlineExceeded)
	if ne.Code != ErrCodeNetwork {
		t.Errorf("context.DeadlineExceeded -> %s, want %s", ne.Code, ErrCodeNetwork)
	}
	if !ne.Retryable() {
		t.Error("deadline errors should be retryable")
	}
}

func TestNormalizeWithStatus(t *testing.T) {
	ne := NormalizeWithStatus("claude", 429, errors.New("overloaded"))
	if ne.StatusCode != 429 {
		t.Errorf("StatusCode = %d, want 429", ne.StatusCode)
	}
	if ne.Code != ErrCodeRateLimit {
		t.Errorf("Code = %s, want %s", ne.Code, ErrCodeRateLimit)
	}
}

func TestNormalizeNil(t *testing.T) {
	ne := Normalize("claude", nil)
	if ne.Code != ErrCodeInternal {
		t.Errorf("Code = %s, want %s", ne.Code, ErrCodeInternal)
	}
}

func TestGetErrorCode(t *testing.T) {
	if code := GetErrorCode(errors.New("plain")); code != ErrCodeInternal {
		t.Errorf("GetErrorCode(plain) = %s, want %s", code, ErrCodeInternal)
	}
	if code := GetErrorCode(NewError(ErrCodeAbort, "p", "m", nil)); code != ErrCodeAbort {
		t.Errorf("GetErrorCode() = %s, want %s", code, ErrCodeAbort)
	}
}
