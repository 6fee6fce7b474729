package sessions

import (
	"testing"
	"time"

	"github.com/courierhq/courier/internal/identity"
)

func mustIdentity(t *testing.T, tenant, channel, thread string) identity.Identity {
	t.Helper()
	id, err := identity.New(tenant, channel, thread)
	if err != nil {
		t.Fatalf("identity.New() error = %v", err)
	}
	return id
}

func TestSessionKeyMatchesIdentity(t *testing.T) {
	id := mustIdentity(t, "acme", "100", "main")
	s := NewSession(id)

	if s.Key() != id.SessionKey() {
		t.Errorf("Key() = %q, want %q", s.Key(), id.SessionKey())
	}
	if s.Identity() != id {
		t.Errorf("Identity() = %+v, want %+v", s.Identity(), id)
	}
}

func TestSessionUsageMonotonic(t *testing.T) {
	s := NewSession(mustIdentity(t, "default", "100", "main"))

	s.RecordUsage(100, 50)
	s.RecordUsage(25, 10)
	s.RecordUsage(-5, -3) // negative reports never shrink totals

	if s.TotalInputTokens != 125 {
		t.Errorf("TotalInputTokens = %d, want 125", s.TotalInputTokens)
	}
	if s.TotalOutputTokens != 60 {
		t.Errorf("TotalOutputTokens = %d, want 60", s.TotalOutputTokens)
	}
}

func TestSessionQueryLifecycle(t *testing.T) {
	s := NewSession(mustIdentity(t, "default", "100", "main"))

	if s.IsRunning() {
		t.Error("new session should not be running")
	}

	aborted := false
	s.BeginQuery(func() { aborted = true })
	if !s.IsRunning() {
		t.Error("IsRunning() = false after BeginQuery")
	}
	if s.TotalQueries != 1 {
		t.Errorf("TotalQueries = %d, want 1", s.TotalQueries)
	}

	s.EndQuery()
	if s.IsRunning() {
		t.Error("IsRunning() = true after EndQuery")
	}
	if aborted {
		t.Error("EndQuery should not trigger the abort handle")
	}
}

func TestSessionTryBeginQuery(t *testing.T) {
	s := NewSession(mustIdentity(t, "default", "100", "main"))

	if !s.TryBeginQuery(func() {}) {
		t.Fatal("TryBeginQuery() on an idle session should claim it")
	}
	if s.TryBeginQuery(func() {}) {
		t.Error("TryBeginQuery() on a running session should fail")
	}
	if s.TotalQueries != 1 {
		t.Errorf("TotalQueries = %d, want 1 (losing claim must not count)", s.TotalQueries)
	}

	s.EndQuery()
	if !s.TryBeginQuery(func() {}) {
		t.Error("TryBeginQuery() after EndQuery should claim again")
	}
}

func TestSessionAbort(t *testing.T) {
	s := NewSession(mustIdentity(t, "default", "100", "main"))

	if s.Abort() {
		t.Error("Abort() with no query should report false")
	}

	aborted := false
	s.BeginQuery(func() { aborted = true })

	if !s.Abort() {
		t.Error("Abort() with a running query should report true")
	}
	if !aborted {
		t.Error("abort handle was not invoked")
	}
	if s.IsRunning() {
		t.Error("session should not be running after Abort")
	}
	if s.Abort() {
		t.Error("second Abort() should report false")
	}
}

func TestSessionContextWindow(t *testing.T) {
	s := NewSession(mustIdentity(t, "default", "100", "main"))

	s.UpdateContextWindow(5000, 200000)
	if s.ContextWindowUsage != 5000 || s.ContextWindowSize != 200000 {
		t.Errorf("context window = %d/%d", s.ContextWindowUsage, s.ContextWindowSize)
	}

	// A zero size report keeps the known size.
	s.UpdateContextWindow(6000, 0)
	if s.ContextWindowUsage != 6000 || s.ContextWindowSize != 200000 {
		t.Errorf("context window after partial update = %d/%d", s.ContextWindowUsage, s.ContextWindowSize)
	}
}

func TestSessionIsActive(t *testing.T) {
	s := NewSession(mustIdentity(t, "default", "100", "main"))

	if !s.IsActive() {
		t.Error("fresh session should be active")
	}

	s.now = func() time.Time { return time.Now().Add(SessionTTL + time.Hour) }
	if s.IsActive() {
		t.Error("session idle past the TTL should be inactive")
	}
}

func TestSessionStats(t *testing.T) {
	s := NewSession(mustIdentity(t, "acme", "100", "22"))
	s.RecordUsage(10, 20)
	s.SetProviderSession("prov-1")
	s.AddSteering("hold on", time.Now())

	stats := s.Stats()
	if stats.Key != "acme:100:22" {
		t.Errorf("stats key = %q", stats.Key)
	}
	if stats.TotalInputTokens != 10 || stats.TotalOutputTokens != 20 {
		t.Errorf("stats tokens = %d/%d", stats.TotalInputTokens, stats.TotalOutputTokens)
	}
	if stats.ProviderSessionID != "prov-1" {
		t.Errorf("stats provider session = %q", stats.ProviderSessionID)
	}
	if stats.SteeringBuffered != 1 {
		t.Errorf("stats steering = %d, want 1", stats.SteeringBuffered)
	}
}
