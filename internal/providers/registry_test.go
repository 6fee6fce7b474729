package providers

import (
	"context"
	"testing"
)

type stubAdapter struct {
	id string
}

func (s *stubAdapter) ProviderID() string         { return s.id }
func (s *stubAdapter) Capabilities() Capabilities { return Capabilities{} }
func (s *stubAdapter) StartQuery(ctx context.Context, input QueryInput) (*QueryHandle, error) {
	return &QueryHandle{QueryID: "q"}, nil
}
func (s *stubAdapter) StreamEvents(ctx context.Context, handle *QueryHandle, onEvent EventHandler) error {
	return nil
}
func (s *stubAdapter) AbortQuery(handle *QueryHandle) {}
func (s *stubAdapter) ResumeSession(ctx context.Context, input ResumeInput) (*ResumeResult, error) {
	return &ResumeResult{}, nil
}

func TestRegistryOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{id: "claude"})
	r.Register(&stubAdapter{id: "codex"})
	r.Register(&stubAdapter{id: "openai"})

	want := []string{"claude", "codex", "openai"}
	got := r.IDs()
	if len(got) != len(want) {
		t.Fatalf("IDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("IDs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistryOverwriteKeepsPosition(t *testing.T) {
	r := NewRegistry()
	first := &stubAdapter{id: "claude"}
	r.Register(first)
	r.Register(&stubAdapter{id: "codex"})

	second := &stubAdapter{id: "claude"}
	r.Register(second)

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	if ids := r.IDs(); ids[0] != "claude" {
		t.Errorf("IDs()[0] = %q, want claude", ids[0])
	}

	got, err := r.Get("claude")
	if err != nil {
		t.Fatalf("Get() err = %v", err)
	}
	if got != second {
		t.Error("Get() returned the original adapter, want the overwrite")
	}
}

func TestRegistryGetMissing(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("ghost")
	if err == nil {
		t.Fatal("Get() err = nil, want INTERNAL error")
	}
	if code := GetErrorCode(err); code != ErrCodeInternal {
		t.Errorf("GetErrorCode() = %s, want %s", code, ErrCodeInternal)
	}
	if IsRetryable(err) {
		t.Error("registry miss should not be retryable")
	}
}
