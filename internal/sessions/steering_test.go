package sessions

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSteeringBufferBound(t *testing.T) {
	s := NewSession(mustIdentity(t, "default", "100", "main"))

	var dropped []SteeringDropped
	for i := 1; i <= 150; i++ {
		dropped = append(dropped, s.AddSteering(fmt.Sprintf("msg-%d", i), time.Now())...)
	}

	if got := s.SteeringCount(); got != MaxSteeringMessages {
		t.Errorf("SteeringCount() = %d, want %d", got, MaxSteeringMessages)
	}
	if len(dropped) != 50 {
		t.Fatalf("dropped %d messages, want 50", len(dropped))
	}
	// Drops come off the head in order.
	if dropped[0].Text != "msg-1" || dropped[49].Text != "msg-50" {
		t.Errorf("dropped range = %q..%q, want msg-1..msg-50", dropped[0].Text, dropped[49].Text)
	}
}

func TestSteeringNoDropUnderCap(t *testing.T) {
	s := NewSession(mustIdentity(t, "default", "100", "main"))

	for i := 1; i <= 50; i++ {
		if dropped := s.AddSteering(fmt.Sprintf("msg-%d", i), time.Now()); len(dropped) != 0 {
			t.Fatalf("AddSteering #%d dropped %d messages under the cap", i, len(dropped))
		}
	}

	joined := s.ConsumeSteering()
	if !strings.Contains(joined, "msg-1") || !strings.Contains(joined, "msg-50") {
		t.Error("first and last messages should both survive under the cap")
	}
}

func TestSteeringConsume(t *testing.T) {
	s := NewSession(mustIdentity(t, "default", "100", "main"))

	s.AddSteering("first", time.Now())
	s.AddSteering("second", time.Now())

	got := s.ConsumeSteering()
	if got != "first\n---\nsecond" {
		t.Errorf("ConsumeSteering() = %q", got)
	}
	if s.SteeringCount() != 0 {
		t.Error("consume should empty the buffer")
	}
	if s.ConsumeSteering() != "" {
		t.Error("consuming an empty buffer should return the empty string")
	}
}
