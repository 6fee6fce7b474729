package sessions

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/courierhq/courier/internal/identity"
)

const (
	// SessionTTL is how long a session survives without activity.
	SessionTTL = 24 * time.Hour

	// MaxSessions caps live sessions; the oldest are evicted past it.
	MaxSessions = 100

	cleanupInterval = time.Hour
)

// ErrSessionNotFound is returned for operations on unknown session keys.
var ErrSessionNotFound = errors.New("sessions: session not found")

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// SnapshotDir holds one JSON snapshot per session key. Empty disables
	// persistence.
	SnapshotDir string

	// WorkdirRoot holds per-thread workdir aliases. Empty disables workdir
	// management.
	WorkdirRoot string

	// WorkdirBase is the shared directory the aliases point at.
	WorkdirBase string

	Logger *slog.Logger
}

// Manager owns the session map. The map-level lock guards membership; each
// session's own lock guards its counters and steering buffer.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	snapshotDir string
	workdirRoot string
	workdirBase string
	logger      *slog.Logger
	now         func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		snapshotDir: cfg.SnapshotDir,
		workdirRoot: cfg.WorkdirRoot,
		workdirBase: cfg.WorkdirBase,
		logger:      logger.With("component", "sessions"),
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the hourly cleanup timer.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Cleanup()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop cancels the cleanup timer and saves every live session.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
	if err := m.SaveAll(); err != nil {
		m.logger.Warn("session save on stop failed", "error", err)
	}
}

// GetOrCreate returns the session for an identity, constructing one on the
// first request. New sessions restore their snapshot when one exists and get
// a thread workdir when workdirs are configured.
func (m *Manager) GetOrCreate(id identity.Identity) *Session {
	key := id.SessionKey()

	m.mu.RLock()
	s, ok := m.sessions[key]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s
	}

	s = NewSession(id)
	if m.snapshotDir != "" {
		data, found, err := loadSnapshot(m.snapshotDir, key)
		switch {
		case err != nil:
			m.logger.Warn("session snapshot load failed", "key", key, "error", err)
		case found:
			RestoreFromData(s, data)
			m.logger.Debug("session restored", "key", key, "queries", s.TotalQueries)
		}
	}
	if m.workdirRoot != "" {
		if dir, err := m.ensureWorkdir(id); err != nil {
			m.logger.Warn("thread workdir unavailable", "key", key, "error", err)
		} else {
			s.WorkingDir = dir
		}
	}

	m.sessions[key] = s
	return s
}

// GetByKey is GetOrCreate addressed by canonical key. Malformed keys fail
// with the identity error.
func (m *Manager) GetByKey(key string) (*Session, error) {
	id, err := identity.ParseSessionKey(key)
	if err != nil {
		return nil, err
	}
	return m.GetOrCreate(id), nil
}

// Has reports whether a session is live, without creating one.
func (m *Manager) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[key]
	return ok
}

// ActiveKeys returns the live session keys, sorted.
func (m *Manager) ActiveKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.sessions))
	for key := range m.sessions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RunningKeys returns the keys of sessions with a query in flight.
func (m *Manager) RunningKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key, s := range m.sessions {
		if s.IsRunning() {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// GlobalStats aggregates every live session.
type GlobalStats struct {
	SessionCount      int     `json:"sessionCount"`
	TotalInputTokens  int64   `json:"totalInputTokens"`
	TotalOutputTokens int64   `json:"totalOutputTokens"`
	TotalQueries      int64   `json:"totalQueries"`
	Sessions          []Stats `json:"sessions"`
}

// GlobalStats snapshots all sessions, most recently active first.
func (m *Manager) GlobalStats() GlobalStats {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	stats := GlobalStats{SessionCount: len(sessions)}
	stats.Sessions = make([]Stats, 0, len(sessions))
	for _, s := range sessions {
		snap := s.Stats()
		stats.TotalInputTokens += snap.TotalInputTokens
		stats.TotalOutputTokens += snap.TotalOutputTokens
		stats.TotalQueries += snap.TotalQueries
		stats.Sessions = append(stats.Sessions, snap)
	}
	sort.Slice(stats.Sessions, func(i, j int) bool {
		return stats.Sessions[i].LastActivity.After(stats.Sessions[j].LastActivity)
	})
	return stats
}

// KillResult reports what a kill discarded.
type KillResult struct {
	// Count is the number of steering messages lost with the session.
	Count int `json:"count"`

	// Messages are the lost steering texts.
	Messages []string `json:"messages,omitempty"`
}

// Kill aborts any running query, removes the session, and deletes its
// snapshot. The result lists steering messages that never reached a query.
func (m *Manager) Kill(key string) (*KillResult, error) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if !ok {
		return nil, ErrSessionNotFound
	}

	s.Abort()

	s.mu.Lock()
	lost := s.steering.drain()
	s.mu.Unlock()

	result := &KillResult{Count: len(lost)}
	for _, msg := range lost {
		result.Messages = append(result.Messages, msg.Text)
	}

	if m.snapshotDir != "" {
		if err := deleteSnapshot(m.snapshotDir, key); err != nil {
			m.logger.Warn("snapshot delete failed", "key", key, "error", err)
		}
	}

	m.logger.Info("session killed", "key", key, "steering_lost", result.Count)
	return result, nil
}

// SaveAll writes a snapshot for every live session. Failures are logged per
// session; the last one is returned.
func (m *Manager) SaveAll() error {
	if m.snapshotDir == "" {
		return nil
	}

	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	var lastErr error
	for _, s := range sessions {
		if err := saveSnapshot(m.snapshotDir, s); err != nil {
			m.logger.Warn("session snapshot failed", "key", s.Key(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// Cleanup evicts idle sessions: anything inactive past the TTL is saved and
// dropped, then the oldest sessions go until at most MaxSessions remain.
// Running sessions are never evicted.
func (m *Manager) Cleanup() {
	now := m.now()

	type candidate struct {
		key  string
		s    *Session
		last time.Time
	}

	m.mu.Lock()
	var evicted []*Session
	live := make([]candidate, 0, len(m.sessions))
	for key, s := range m.sessions {
		snap := s.Stats()
		if snap.IsRunning {
			continue
		}
		if now.Sub(snap.LastActivity) > SessionTTL {
			delete(m.sessions, key)
			evicted = append(evicted, s)
			continue
		}
		live = append(live, candidate{key: key, s: s, last: snap.LastActivity})
	}

	if over := len(m.sessions) - MaxSessions; over > 0 {
		sort.Slice(live, func(i, j int) bool { return live[i].last.Before(live[j].last) })
		for _, c := range live {
			if over <= 0 {
				break
			}
			delete(m.sessions, c.key)
			evicted = append(evicted, c.s)
			over--
		}
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	for _, s := range evicted {
		if m.snapshotDir != "" {
			if err := saveSnapshot(m.snapshotDir, s); err != nil {
				m.logger.Warn("snapshot on evict failed", "key", s.Key(), "error", err)
			}
		}
	}
	if len(evicted) > 0 {
		m.logger.Info("session cleanup", "evicted", len(evicted), "remaining", remaining)
	}
}

// ensureWorkdir creates the stable thread workdir alias, a symlink into the
// shared base. Repeat calls are no-ops.
func (m *Manager) ensureWorkdir(id identity.Identity) (string, error) {
	if err := os.MkdirAll(m.workdirBase, 0o755); err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.workdirRoot, 0o755); err != nil {
		return "", err
	}

	alias := filepath.Join(m.workdirRoot, workdirAlias(id))
	if _, err := os.Lstat(alias); err == nil {
		return alias, nil
	}
	if err := os.Symlink(m.workdirBase, alias); err != nil && !os.IsExist(err) {
		return "", err
	}
	return alias, nil
}

// workdirAlias renders an identity as a filesystem-safe directory name.
func workdirAlias(id identity.Identity) string {
	return id.Tenant + "__" + id.Channel + "__" + id.Thread
}
