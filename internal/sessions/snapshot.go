package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SessionData is the on-disk snapshot of a session, one JSON file per
// canonical key.
type SessionData struct {
	Key                string     `json:"key,omitempty"`
	SessionID          string     `json:"session_id,omitempty"`
	SavedAt            time.Time  `json:"saved_at"`
	WorkingDir         string     `json:"working_dir,omitempty"`
	ContextWindowUsage int        `json:"contextWindowUsage"`
	ContextWindowSize  int        `json:"contextWindowSize"`
	TotalInputTokens   int64      `json:"totalInputTokens"`
	TotalOutputTokens  int64      `json:"totalOutputTokens"`
	TotalQueries       int64      `json:"totalQueries"`
	SessionStartTime   *time.Time `json:"sessionStartTime,omitempty"`
}

// ToData captures the persistable fields of a session.
func ToData(s *Session) SessionData {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := SessionData{
		Key:                s.key,
		SessionID:          s.ProviderSessionID,
		SavedAt:            time.Now().UTC(),
		WorkingDir:         s.WorkingDir,
		ContextWindowUsage: s.ContextWindowUsage,
		ContextWindowSize:  s.ContextWindowSize,
		TotalInputTokens:   s.TotalInputTokens,
		TotalOutputTokens:  s.TotalOutputTokens,
		TotalQueries:       s.TotalQueries,
	}
	if !s.SessionStartTime.IsZero() {
		start := s.SessionStartTime
		data.SessionStartTime = &start
	}
	return data
}

// RestoreFromData applies a snapshot to a session. Counters, ids, and
// context window values round-trip; activity time is left alone so restored
// sessions age from their restore point.
func RestoreFromData(s *Session, data SessionData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ProviderSessionID = data.SessionID
	s.WorkingDir = data.WorkingDir
	s.ContextWindowUsage = data.ContextWindowUsage
	s.ContextWindowSize = data.ContextWindowSize
	s.TotalInputTokens = data.TotalInputTokens
	s.TotalOutputTokens = data.TotalOutputTokens
	s.TotalQueries = data.TotalQueries
	if data.SessionStartTime != nil {
		s.SessionStartTime = *data.SessionStartTime
	}
}

// snapshotFilename maps a session key to its snapshot file name. Colons are
// path-hostile on some filesystems, so they become underscores.
func snapshotFilename(key string) string {
	return strings.ReplaceAll(key, ":", "_") + ".json"
}

// saveSnapshot writes a session's snapshot under dir, atomically.
func saveSnapshot(dir string, s *Session) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(ToData(s), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, snapshotFilename(s.Key())), data, 0o644)
}

// loadSnapshot reads a snapshot by session key. A missing file is not an
// error; ok reports whether one was found.
func loadSnapshot(dir, key string) (SessionData, bool, error) {
	raw, err := os.ReadFile(filepath.Join(dir, snapshotFilename(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return SessionData{}, false, nil
		}
		return SessionData{}, false, err
	}

	var data SessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return SessionData{}, false, fmt.Errorf("decode snapshot %s: %w", snapshotFilename(key), err)
	}
	return data, true, nil
}

// ListSnapshots reads every snapshot under dir, newest save first. A missing
// directory yields an empty list. Files that fail to decode are skipped; the
// rest of the directory is still reported.
func ListSnapshots(dir string) ([]SessionData, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}

	var out []SessionData
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var data SessionData
		if err := json.Unmarshal(raw, &data); err != nil {
			continue
		}
		if data.Key == "" {
			// Older snapshots predate the key field; recover it from the
			// file name. Lossy when a key segment itself contains "_".
			name := strings.TrimSuffix(entry.Name(), ".json")
			data.Key = strings.ReplaceAll(name, "_", ":")
		}
		out = append(out, data)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}

// deleteSnapshot removes a session's snapshot file, ignoring absence.
func deleteSnapshot(dir, key string) error {
	err := os.Remove(filepath.Join(dir, snapshotFilename(key)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
