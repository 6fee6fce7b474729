package identity

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		tenant   string
		channel  string
		thread   string
		want     Identity
		wantCode ErrorCode
	}{
		{
			name:    "valid triple",
			tenant:  "default",
			channel: "55001",
			thread:  "77",
			want:    Identity{Tenant: "default", Channel: "55001", Thread: "77"},
		},
		{
			name:    "fields are trimmed",
			tenant:  "  default ",
			channel: "\t55001",
			thread:  "77\n",
			want:    Identity{Tenant: "default", Channel: "55001", Thread: "77"},
		},
		{
			name:     "empty tenant",
			tenant:   "",
			channel:  "c",
			thread:   "t",
			wantCode: ErrCodeEmpty,
		},
		{
			name:     "whitespace-only thread",
			tenant:   "a",
			channel:  "c",
			thread:   "   ",
			wantCode: ErrCodeEmpty,
		},
		{
			name:     "colon in tenant",
			tenant:   "ten:ant",
			channel:  "c",
			thread:   "t",
			wantCode: ErrCodeContainsSeparator,
		},
		{
			name:     "slash in channel",
			tenant:   "a",
			channel:  "c/d",
			thread:   "t",
			wantCode: ErrCodeContainsSeparator,
		},
		{
			name:     "backslash in thread",
			tenant:   "a",
			channel:  "c",
			thread:   "t\\x",
			wantCode: ErrCodeContainsSeparator,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(tt.tenant, tt.channel, tt.thread)
			if tt.wantCode != "" {
				if err == nil {
					t.Fatalf("New() err = nil, want code %s", tt.wantCode)
				}
				if code := GetErrorCode(err); code != tt.wantCode {
					t.Errorf("GetErrorCode() = %s, want %s", code, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() err = %v", err)
			}
			if got != tt.want {
				t.Errorf("New() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewReportsOffendingField(t *testing.T) {
	_, err := New("ok", "", "t")
	var idErr *Error
	if !errors.As(err, &idErr) {
		t.Fatalf("err = %v, want *identity.Error", err)
	}
	if idErr.Field != "channel" {
		t.Errorf("Field = %q, want %q", idErr.Field, "channel")
	}
	if idErr.Retryable() {
		t.Error("Retryable() = true, want false")
	}
}

func TestKeyDerivation(t *testing.T) {
	id := Identity{Tenant: "default", Channel: "55001", Thread: "77"}
	if got := id.SessionKey(); got != "default:55001:77" {
		t.Errorf("SessionKey() = %q, want %q", got, "default:55001:77")
	}
	if got := id.PartitionKey(); got != "default/55001/77" {
		t.Errorf("PartitionKey() = %q, want %q", got, "default/55001/77")
	}
}

func TestKeyRoundTrip(t *testing.T) {
	triples := []Identity{
		{Tenant: "default", Channel: "55001", Thread: "77"},
		{Tenant: "acme", Channel: "slack-C024", Thread: "main"},
		{Tenant: "cron", Channel: "scheduler", Thread: "daily-summary"},
		{Tenant: "t", Channel: "c", Thread: "th"},
	}

	for _, id := range triples {
		t.Run(id.SessionKey(), func(t *testing.T) {
			fromSession, err := ParseSessionKey(id.SessionKey())
			if err != nil {
				t.Fatalf("ParseSessionKey() err = %v", err)
			}
			if fromSession != id {
				t.Errorf("ParseSessionKey() = %+v, want %+v", fromSession, id)
			}

			fromPartition, err := ParsePartitionKey(id.PartitionKey())
			if err != nil {
				t.Fatalf("ParsePartitionKey() err = %v", err)
			}
			if fromPartition != id {
				t.Errorf("ParsePartitionKey() = %+v, want %+v", fromPartition, id)
			}
		})
	}
}

func TestParseSessionKeyRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"two segments", "a:b"},
		{"four segments", "a:b:c:d"},
		{"empty middle segment", "a::c"},
		{"trailing separator", "a:b:"},
		{"partition separators", "a/b/c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSessionKey(tt.key)
			if code := GetErrorCode(err); code != ErrCodeSessionKeyFormat {
				t.Errorf("GetErrorCode() = %s, want %s", code, ErrCodeSessionKeyFormat)
			}
		})
	}
}

func TestParsePartitionKeyRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"two segments", "a/b"},
		{"four segments", "a/b/c/d"},
		{"empty first segment", "/b/c"},
		{"session separators", "a:b:c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePartitionKey(tt.key)
			if code := GetErrorCode(err); code != ErrCodePartitionFormat {
				t.Errorf("GetErrorCode() = %s, want %s", code, ErrCodePartitionFormat)
			}
		})
	}
}

func TestParseValidatesSegments(t *testing.T) {
	// Three segments that themselves fail field validation surface the
	// field-level code, not the format code.
	_, err := ParseSessionKey("a:b: ")
	if code := GetErrorCode(err); code != ErrCodeEmpty {
		t.Errorf("GetErrorCode() = %s, want %s", code, ErrCodeEmpty)
	}
}
