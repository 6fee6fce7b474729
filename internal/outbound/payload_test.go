package outbound

import (
	"testing"

	"github.com/courierhq/courier/internal/identity"
	"github.com/courierhq/courier/internal/routing"
)

func testRoute(t *testing.T) *routing.AgentRoute {
	t.Helper()
	id, err := identity.New("default", "telegram", "main")
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	route, err := routing.Derive(id, routing.Options{
		Peer: routing.Peer{Kind: routing.PeerChannel, ID: "telegram"},
	})
	if err != nil {
		t.Fatalf("routing.Derive: %v", err)
	}
	return route
}

func TestNormalizeStatusBecomesText(t *testing.T) {
	route := testRoute(t)

	p := NewStatus(route, StatusWorking, "processing")
	p.CorrelationID = "corr-1"

	got := Normalize(p)
	if got.Kind != KindText {
		t.Fatalf("kind = %s, want %s", got.Kind, KindText)
	}
	if got.Text.Text != "processing" {
		t.Errorf("text = %q, want the status message", got.Text.Text)
	}
	if got.CorrelationID != "corr-1" {
		t.Errorf("correlation id = %q, want preserved", got.CorrelationID)
	}
	if got.Route != route {
		t.Error("route should carry over")
	}
}

func TestNormalizeChoiceBecomesNumberedText(t *testing.T) {
	route := testRoute(t)

	p := NewChoice(route, "Deploy?", []ChoiceOption{
		{ID: "y", Label: "Yes"},
		{ID: "n", Label: "No"},
	})

	got := Normalize(p)
	if got.Kind != KindText {
		t.Fatalf("kind = %s, want %s", got.Kind, KindText)
	}
	want := "Deploy?\n\n1. Yes\n2. No"
	if got.Text.Text != want {
		t.Errorf("text = %q, want %q", got.Text.Text, want)
	}
}

func TestNormalizeIdentityVariants(t *testing.T) {
	route := testRoute(t)

	text := NewText(route, "hi")
	if Normalize(text) != text {
		t.Error("text payloads must pass through as the same pointer")
	}

	reaction := NewReaction(route, "77", "👍")
	if Normalize(reaction) != reaction {
		t.Error("reaction payloads must pass through as the same pointer")
	}
}

func TestRenderChoice(t *testing.T) {
	tests := []struct {
		name     string
		question string
		choices  []ChoiceOption
		want     string
	}{
		{
			name:     "single",
			question: "Continue?",
			choices:  []ChoiceOption{{ID: "ok", Label: "OK"}},
			want:     "Continue?\n\n1. OK",
		},
		{
			name:     "three",
			question: "Pick one",
			choices: []ChoiceOption{
				{ID: "a", Label: "Alpha"},
				{ID: "b", Label: "Beta"},
				{ID: "c", Label: "Gamma"},
			},
			want: "Pick one\n\n1. Alpha\n2. Beta\n3. Gamma",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderChoice(tt.question, tt.choices); got != tt.want {
				t.Errorf("RenderChoice = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	route := testRoute(t)

	tests := []struct {
		name    string
		payload *Payload
		wantErr bool
	}{
		{"valid text", NewText(route, "hi"), false},
		{"valid reaction", NewReaction(route, "77", "👍"), false},
		{"no route", &Payload{Kind: KindText, Text: &TextPayload{Text: "x"}}, true},
		{"kind mismatch", &Payload{Kind: KindText, Route: route, Status: &StatusPayload{}}, true},
		{"unknown kind", &Payload{Kind: "video", Route: route}, true},
		{"nil payload", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
