package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// scriptedAdapter fails a configured number of times before streaming its
// events. Counters record the contract interactions.
type scriptedAdapter struct {
	id         string
	failWith   error
	failTimes  int
	events     []Event
	startCalls int
	abortCalls int
}

func (a *scriptedAdapter) ProviderID() string         { return a.id }
func (a *scriptedAdapter) Capabilities() Capabilities { return Capabilities{} }

func (a *scriptedAdapter) StartQuery(ctx context.Context, input QueryInput) (*QueryHandle, error) {
	a.startCalls++
	return &QueryHandle{QueryID: "q-" + a.id}, nil
}

func (a *scriptedAdapter) StreamEvents(ctx context.Context, handle *QueryHandle, onEvent EventHandler) error {
	if a.failTimes > 0 {
		a.failTimes--
		return a.failWith
	}
	for _, ev := range a.events {
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

func (a *scriptedAdapter) AbortQuery(handle *QueryHandle) { a.abortCalls++ }

func (a *scriptedAdapter) ResumeSession(ctx context.Context, input ResumeInput) (*ResumeResult, error) {
	return &ResumeResult{}, nil
}

type sleepRecorder struct {
	slept []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}

func newTestOrchestrator(recorder *sleepRecorder, adapters ...Adapter) *Orchestrator {
	registry := NewRegistry()
	for _, a := range adapters {
		registry.Register(a)
	}
	return NewOrchestrator(registry,
		WithSleep(recorder.sleep),
		WithRetryPolicy("claude", DefaultPrimaryPolicy),
		WithRetryPolicy("codex", DefaultFallbackPolicy),
	)
}

func TestExecuteRetryThenSuccess(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		failures   int
	}{
		{"one failure one retry", 1, 1},
		{"two failures", 3, 2},
		{"no failures", 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &scriptedAdapter{
				id:        "claude",
				failWith:  errors.New("network unreachable"),
				failTimes: tt.failures,
				events: []Event{
					NewTextEvent("claude", "q-claude", "hello"),
					NewDoneEvent("claude", "q-claude", DoneCompleted, ""),
				},
			}
			recorder := &sleepRecorder{}
			registry := NewRegistry()
			registry.Register(primary)
			o := NewOrchestrator(registry,
				WithSleep(recorder.sleep),
				WithRetryPolicy("claude", RetryPolicy{MaxRetries: tt.maxRetries, BaseBackoff: 200 * time.Millisecond}),
			)

			var got []Event
			result, err := o.Execute(context.Background(), Request{
				PrimaryProviderID: "claude",
				Input:             QueryInput{Prompt: "hi"},
				OnEvent: func(ev Event) error {
					got = append(got, ev)
					return nil
				},
			})
			if err != nil {
				t.Fatalf("Execute() err = %v", err)
			}
			if result.Attempts != tt.failures+1 {
				t.Errorf("Attempts = %d, want %d", result.Attempts, tt.failures+1)
			}
			if result.ProviderID != "claude" {
				t.Errorf("ProviderID = %q, want claude", result.ProviderID)
			}

			// One backoff per failed attempt, doubling from the base.
			if len(recorder.slept) != tt.failures {
				t.Fatalf("sleep calls = %d, want %d", len(recorder.slept), tt.failures)
			}
			for i, d := range recorder.slept {
				want := 200 * time.Millisecond * time.Duration(1<<i)
				if d != want {
					t.Errorf("sleep[%d] = %v, want %v", i, d, want)
				}
			}
			if len(got) != 2 {
				t.Errorf("events = %d, want 2", len(got))
			}
		})
	}
}

func TestExecuteFallbackOnRateLimit(t *testing.T) {
	primary := &scriptedAdapter{
		id:        "claude",
		failWith:  errors.New("429 rate limit"),
		failTimes: 10, // always fails
	}
	fallback := &scriptedAdapter{
		id: "codex",
		events: []Event{
			NewTextEvent("codex", "q-codex", "fallback response"),
			NewDoneEvent("codex", "q-codex", DoneCompleted, ""),
		},
	}
	recorder := &sleepRecorder{}
	o := newTestOrchestrator(recorder, primary, fallback)

	var deltas []string
	result, err := o.Execute(context.Background(), Request{
		PrimaryProviderID:  "claude",
		FallbackProviderID: "codex",
		Input:              QueryInput{Prompt: "hi"},
		OnEvent: func(ev Event) error {
			if ev.Type == EventText {
				deltas = append(deltas, ev.Text.Delta)
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Execute() err = %v", err)
	}
	if result.ProviderID != "codex" {
		t.Errorf("ProviderID = %q, want codex", result.ProviderID)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if fallback.startCalls != 1 {
		t.Errorf("fallback started %d times, want exactly once", fallback.startCalls)
	}
	// Primary: initial attempt + one retry under the default policy.
	if primary.startCalls != 2 {
		t.Errorf("primary started %d times, want 2", primary.startCalls)
	}
	if len(deltas) != 1 || deltas[0] != "fallback response" {
		t.Errorf("deltas = %v, want [fallback response]", deltas)
	}

	m := o.Metrics()
	if m.TotalFallbacks != 1 {
		t.Errorf("TotalFallbacks = %d, want 1", m.TotalFallbacks)
	}
}

func TestExecuteMirrorsPromCounters(t *testing.T) {
	primary := &scriptedAdapter{
		id:        "claude",
		failWith:  errors.New("429 rate limit"),
		failTimes: 10,
	}
	fallback := &scriptedAdapter{
		id:     "codex",
		events: []Event{NewDoneEvent("codex", "q-codex", DoneCompleted, "")},
	}
	registry := NewRegistry()
	registry.Register(primary)
	registry.Register(fallback)

	retries := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_retries_total"})
	fallbacks := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_fallbacks_total"})
	recorder := &sleepRecorder{}
	o := NewOrchestrator(registry,
		WithSleep(recorder.sleep),
		WithCounters(retries, fallbacks),
		WithRetryPolicy("claude", DefaultPrimaryPolicy),
		WithRetryPolicy("codex", DefaultFallbackPolicy),
	)

	if _, err := o.Execute(context.Background(), Request{
		PrimaryProviderID:  "claude",
		FallbackProviderID: "codex",
		Input:              QueryInput{Prompt: "hi"},
		OnEvent:            func(Event) error { return nil },
	}); err != nil {
		t.Fatalf("Execute() err = %v", err)
	}

	if got := testutil.ToFloat64(retries); got != 1 {
		t.Errorf("retries counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(fallbacks); got != 1 {
		t.Errorf("fallbacks counter = %v, want 1", got)
	}
}

func TestExecuteNonRetryableFailsFast(t *testing.T) {
	primary := &scriptedAdapter{
		id:        "claude",
		failWith:  errors.New("401 unauthorized"),
		failTimes: 10,
	}
	fallback := &scriptedAdapter{id: "codex"}
	recorder := &sleepRecorder{}
	o := newTestOrchestrator(recorder, primary, fallback)

	_, err := o.Execute(context.Background(), Request{
		PrimaryProviderID:  "claude",
		FallbackProviderID: "codex",
		Input:              QueryInput{Prompt: "hi"},
		OnEvent:            func(Event) error { return nil },
	})
	if code := GetErrorCode(err); code != ErrCodeAuth {
		t.Fatalf("GetErrorCode() = %s, want %s", code, ErrCodeAuth)
	}
	if len(recorder.slept) != 0 {
		t.Errorf("sleep called %d times, want 0", len(recorder.slept))
	}
	if fallback.startCalls != 0 {
		t.Errorf("fallback started %d times, want 0 for non-rate-limit failure", fallback.startCalls)
	}
	if primary.startCalls != 1 {
		t.Errorf("primary started %d times, want 1", primary.startCalls)
	}
}

func TestExecuteNoFallbackSurfacesRateLimit(t *testing.T) {
	primary := &scriptedAdapter{
		id:        "claude",
		failWith:  errors.New("429 too many requests"),
		failTimes: 10,
	}
	recorder := &sleepRecorder{}
	o := newTestOrchestrator(recorder, primary)

	_, err := o.Execute(context.Background(), Request{
		PrimaryProviderID: "claude",
		Input:             QueryInput{Prompt: "hi"},
		OnEvent:           func(Event) error { return nil },
	})
	if code := GetErrorCode(err); code != ErrCodeRateLimit {
		t.Fatalf("GetErrorCode() = %s, want %s", code, ErrCodeRateLimit)
	}
	// Retryable, so the primary policy still granted one retry.
	if len(recorder.slept) != 1 {
		t.Errorf("sleep called %d times, want 1", len(recorder.slept))
	}
}

func TestExecuteBackoffHonorsCancellation(t *testing.T) {
	primary := &scriptedAdapter{
		id:        "claude",
		failWith:  errors.New("network unreachable"),
		failTimes: 10,
	}
	registry := NewRegistry()
	registry.Register(primary)

	ctx, cancel := context.WithCancel(context.Background())
	o := NewOrchestrator(registry,
		WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}),
		WithRetryPolicy("claude", RetryPolicy{MaxRetries: 3, BaseBackoff: time.Millisecond}),
	)

	_, err := o.Execute(ctx, Request{
		PrimaryProviderID: "claude",
		Input:             QueryInput{Prompt: "hi"},
		OnEvent:           func(Event) error { return nil },
	})
	if code := GetErrorCode(err); code != ErrCodeAbort {
		t.Fatalf("GetErrorCode() = %s, want %s", code, ErrCodeAbort)
	}
	if primary.startCalls != 1 {
		t.Errorf("primary started %d times, want 1 when backoff is cancelled", primary.startCalls)
	}
}

func TestExecuteChainExhausted(t *testing.T) {
	primary := &scriptedAdapter{
		id:        "claude",
		failWith:  errors.New("429 rate limit"),
		failTimes: 10,
	}
	fallback := &scriptedAdapter{
		id:        "codex",
		failWith:  errors.New("quota exceeded"),
		failTimes: 10,
	}
	recorder := &sleepRecorder{}
	o := newTestOrchestrator(recorder, primary, fallback)

	_, err := o.Execute(context.Background(), Request{
		PrimaryProviderID:  "claude",
		FallbackProviderID: "codex",
		Input:              QueryInput{Prompt: "hi"},
		OnEvent:            func(Event) error { return nil },
	})
	if code := GetErrorCode(err); code != ErrCodeRateLimit {
		t.Fatalf("GetErrorCode() = %s, want %s", code, ErrCodeRateLimit)
	}
	var pErr *Error
	if !errors.As(err, &pErr) {
		t.Fatal("want *providers.Error")
	}
	if pErr.ProviderID != "codex" {
		t.Errorf("last error from %q, want codex", pErr.ProviderID)
	}
}

func TestExecuteUnknownProvider(t *testing.T) {
	recorder := &sleepRecorder{}
	o := newTestOrchestrator(recorder)

	_, err := o.Execute(context.Background(), Request{
		PrimaryProviderID: "ghost",
		Input:             QueryInput{Prompt: "hi"},
		OnEvent:           func(Event) error { return nil },
	})
	if code := GetErrorCode(err); code != ErrCodeInternal {
		t.Errorf("GetErrorCode() = %s, want %s", code, ErrCodeInternal)
	}
}

func TestExecuteHandleReleasedOnEveryAttempt(t *testing.T) {
	primary := &scriptedAdapter{
		id:        "claude",
		failWith:  errors.New("econnrefused"),
		failTimes: 1,
		events: []Event{
			NewDoneEvent("claude", "q-claude", DoneCompleted, ""),
		},
	}
	recorder := &sleepRecorder{}
	o := newTestOrchestrator(recorder, primary)

	_, err := o.Execute(context.Background(), Request{
		PrimaryProviderID: "claude",
		Input:             QueryInput{Prompt: "hi"},
		OnEvent:           func(Event) error { return nil },
	})
	if err != nil {
		t.Fatalf("Execute() err = %v", err)
	}
	if primary.abortCalls != primary.startCalls {
		t.Errorf("abortCalls = %d, startCalls = %d; every handle should be released",
			primary.abortCalls, primary.startCalls)
	}
}
