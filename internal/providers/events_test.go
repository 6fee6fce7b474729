package providers

import "testing"

func TestUsageHasTokens(t *testing.T) {
	tests := []struct {
		name  string
		usage UsagePayload
		want  bool
	}{
		{"all zero", UsagePayload{}, false},
		{"input only", UsagePayload{InputTokens: 3}, true},
		{"output only", UsagePayload{OutputTokens: 5}, true},
		{"cache read only", UsagePayload{CacheReadInputTokens: 9}, true},
		{"cache creation only", UsagePayload{CacheCreationInputTokens: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.usage.HasTokens(); got != tt.want {
				t.Errorf("HasTokens() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventConstructorsStampIdentity(t *testing.T) {
	ev := NewTextEvent("claude", "q1", "delta")
	if ev.Type != EventText || ev.ProviderID != "claude" || ev.QueryID != "q1" {
		t.Errorf("unexpected event header: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("Timestamp not stamped")
	}
	if ev.Text == nil || ev.Text.Delta != "delta" {
		t.Error("payload not set")
	}

	done := NewDoneEvent("codex", "q2", DoneFailed, "boom")
	if done.Done == nil || done.Done.Reason != DoneFailed || done.Done.ErrorMessage != "boom" {
		t.Errorf("done payload = %+v", done.Done)
	}
}
