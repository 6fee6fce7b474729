// Package sessions owns the per-conversation runtime state: one Session per
// canonical key, with token counters, context window tracking, a bounded
// steering buffer, and disk snapshots. The Manager handles lifecycle: TTL
// and LRU eviction, hourly persistence, and kill.
package sessions

import (
	"sync"
	"time"

	"github.com/courierhq/courier/internal/identity"
)

// Session is the runtime state for one conversation. All fields are guarded
// by the session's own mutex; the Manager's lock only covers map membership.
type Session struct {
	mu sync.Mutex

	key      string
	identity identity.Identity

	// ProviderSessionID is the provider-side resume handle, when one exists.
	ProviderSessionID string

	TotalInputTokens  int64
	TotalOutputTokens int64
	TotalQueries      int64

	ContextWindowUsage int
	ContextWindowSize  int

	LastActivity     time.Time
	SessionStartTime time.Time

	// WorkingDir is the thread workdir alias, set once the manager ensures it.
	WorkingDir string

	running bool
	abort   func()

	steering steeringBuffer

	now func() time.Time
}

// NewSession creates a session for an identity. LastActivity starts at now.
func NewSession(id identity.Identity) *Session {
	s := &Session{
		key:      id.SessionKey(),
		identity: id,
		now:      time.Now,
	}
	s.LastActivity = s.now()
	s.SessionStartTime = s.LastActivity
	return s
}

// Key returns the canonical session key.
func (s *Session) Key() string { return s.key }

// Identity returns the session's identity.
func (s *Session) Identity() identity.Identity { return s.identity }

// Touch updates the activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = s.now()
}

// BeginQuery marks the session running and stores the abort handle for the
// in-flight query. Bumps the query counter and activity time.
func (s *Session) BeginQuery(abort func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.abort = abort
	s.TotalQueries++
	s.LastActivity = s.now()
}

// TryBeginQuery claims the session for a query if none is running. It
// reports whether the claim succeeded; callers that lose the claim steer
// instead. The check and the claim are one critical section, so two
// concurrent envelopes for the same session cannot both start a query.
func (s *Session) TryBeginQuery(abort func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.abort = abort
	s.TotalQueries++
	s.LastActivity = s.now()
	return true
}

// EndQuery clears the running state.
func (s *Session) EndQuery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.abort = nil
	s.LastActivity = s.now()
}

// Abort cancels the running query, if any. Reports whether there was one.
func (s *Session) Abort() bool {
	s.mu.Lock()
	abort := s.abort
	s.abort = nil
	s.running = false
	s.mu.Unlock()

	if abort == nil {
		return false
	}
	abort()
	return true
}

// IsRunning reports whether a query is executing right now.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// IsActive reports whether the session has seen activity within the TTL
// window and is therefore safe from cleanup.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.LastActivity) <= SessionTTL
}

// RecordUsage adds token usage. Totals only grow.
func (s *Session) RecordUsage(inputTokens, outputTokens int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inputTokens > 0 {
		s.TotalInputTokens += inputTokens
	}
	if outputTokens > 0 {
		s.TotalOutputTokens += outputTokens
	}
	s.LastActivity = s.now()
}

// UpdateContextWindow records the latest context window report.
func (s *Session) UpdateContextWindow(used, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ContextWindowUsage = used
	if size > 0 {
		s.ContextWindowSize = size
	}
}

// SetProviderSession stores the provider-side resume handle.
func (s *Session) SetProviderSession(providerSessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProviderSessionID = providerSessionID
}

// AddSteering buffers a steering message for the running query. Overflow
// drops the oldest entries and returns them so the caller can report the
// loss.
func (s *Session) AddSteering(text string, ts time.Time) []SteeringDropped {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = s.now()
	return s.steering.add(text, ts)
}

// ConsumeSteering drains the buffer, joining entries with "\n---\n".
func (s *Session) ConsumeSteering() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steering.consume()
}

// SteeringCount returns the number of buffered steering messages.
func (s *Session) SteeringCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steering.len()
}

// Stats is a read-only summary of one session.
type Stats struct {
	Key                string    `json:"key"`
	ProviderSessionID  string    `json:"providerSessionId,omitempty"`
	TotalInputTokens   int64     `json:"totalInputTokens"`
	TotalOutputTokens  int64     `json:"totalOutputTokens"`
	TotalQueries       int64     `json:"totalQueries"`
	ContextWindowUsage int       `json:"contextWindowUsage"`
	ContextWindowSize  int       `json:"contextWindowSize"`
	LastActivity       time.Time `json:"lastActivity"`
	IsRunning          bool      `json:"isRunning"`
	SteeringBuffered   int       `json:"steeringBuffered,omitempty"`
}

// Stats snapshots the session under its lock.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Key:                s.key,
		ProviderSessionID:  s.ProviderSessionID,
		TotalInputTokens:   s.TotalInputTokens,
		TotalOutputTokens:  s.TotalOutputTokens,
		TotalQueries:       s.TotalQueries,
		ContextWindowUsage: s.ContextWindowUsage,
		ContextWindowSize:  s.ContextWindowSize,
		LastActivity:       s.LastActivity,
		IsRunning:          s.running,
		SteeringBuffered:   s.steering.len(),
	}
}
