package channels

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() #%d = false, want burst of 3", i+1)
		}
	}
	if rl.Allow() {
		t.Error("Allow() after burst = true, want false")
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(100, 1)

	if !rl.Allow() {
		t.Fatal("first Allow() should succeed")
	}
	if rl.Allow() {
		t.Fatal("second Allow() should be limited")
	}

	time.Sleep(30 * time.Millisecond)

	if !rl.Allow() {
		t.Error("Allow() after refill window = false, want true")
	}
}

func TestRateLimiterRetryAfter(t *testing.T) {
	rl := NewRateLimiter(10, 1)

	if d := rl.RetryAfter(); d != 0 {
		t.Errorf("RetryAfter() with tokens = %v, want 0", d)
	}

	rl.Allow()
	if d := rl.RetryAfter(); d <= 0 || d > 150*time.Millisecond {
		t.Errorf("RetryAfter() exhausted = %v, want about 100ms", d)
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(0.01, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err == nil {
		t.Error("Wait() with exhausted bucket should honor context cancellation")
	}
}

func TestRateLimiterWaitSucceeds(t *testing.T) {
	rl := NewRateLimiter(100, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rl.Wait(ctx); err != nil {
		t.Errorf("Wait() error = %v, want token after refill", err)
	}
}

func TestRateLimiterReset(t *testing.T) {
	rl := NewRateLimiter(0.1, 1)

	rl.Allow()
	if rl.Allow() {
		t.Fatal("bucket should be empty before reset")
	}

	rl.Reset()
	if !rl.Allow() {
		t.Error("Allow() after Reset() = false, want full bucket")
	}
}
