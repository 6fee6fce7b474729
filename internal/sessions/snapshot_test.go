package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewSession(mustIdentity(t, "acme", "100", "22"))
	s.SetProviderSession("prov-9")
	s.RecordUsage(1200, 340)
	s.BeginQuery(nil)
	s.EndQuery()
	s.UpdateContextWindow(5000, 200000)
	s.WorkingDir = "/tmp/workdirs/acme__100__22"

	restored := NewSession(s.Identity())
	RestoreFromData(restored, ToData(s))

	if restored.ProviderSessionID != "prov-9" {
		t.Errorf("ProviderSessionID = %q", restored.ProviderSessionID)
	}
	if restored.TotalInputTokens != 1200 || restored.TotalOutputTokens != 340 {
		t.Errorf("tokens = %d/%d", restored.TotalInputTokens, restored.TotalOutputTokens)
	}
	if restored.TotalQueries != 1 {
		t.Errorf("TotalQueries = %d, want 1", restored.TotalQueries)
	}
	if restored.ContextWindowUsage != 5000 || restored.ContextWindowSize != 200000 {
		t.Errorf("context window = %d/%d", restored.ContextWindowUsage, restored.ContextWindowSize)
	}
	if restored.WorkingDir != s.WorkingDir {
		t.Errorf("WorkingDir = %q", restored.WorkingDir)
	}
	if !restored.SessionStartTime.Equal(s.SessionStartTime) {
		t.Errorf("SessionStartTime = %v, want %v", restored.SessionStartTime, s.SessionStartTime)
	}
}

func TestSnapshotFilename(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"default:100:main", "default_100_main.json"},
		{"acme:slack-C1:1700000000.000100", "acme_slack-C1_1700000000.000100.json"},
		{"cron:scheduler:daily-report", "cron_scheduler_daily-report.json"},
	}
	for _, tt := range tests {
		if got := snapshotFilename(tt.key); got != tt.want {
			t.Errorf("snapshotFilename(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestSnapshotFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewSession(mustIdentity(t, "default", "100", "main"))
	s.RecordUsage(10, 5)
	s.SetProviderSession("prov-1")

	if err := saveSnapshot(dir, s); err != nil {
		t.Fatalf("saveSnapshot() error = %v", err)
	}

	data, found, err := loadSnapshot(dir, s.Key())
	if err != nil || !found {
		t.Fatalf("loadSnapshot() = %v, %v", found, err)
	}
	if data.SessionID != "prov-1" || data.TotalInputTokens != 10 || data.TotalOutputTokens != 5 {
		t.Errorf("loaded data = %+v", data)
	}
	if data.SavedAt.IsZero() {
		t.Error("SavedAt should be set")
	}

	// No stray temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("snapshot dir has %d entries, want 1", len(entries))
	}
}

func TestLoadSnapshotMissing(t *testing.T) {
	_, found, err := loadSnapshot(t.TempDir(), "default:100:main")
	if err != nil {
		t.Errorf("missing snapshot should not be an error, got %v", err)
	}
	if found {
		t.Error("found = true for missing snapshot")
	}
}

func TestLoadSnapshotCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, snapshotFilename("default:100:main"))
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := loadSnapshot(dir, "default:100:main"); err == nil {
		t.Error("corrupt snapshot should surface an error")
	}
}

func TestDeleteSnapshot(t *testing.T) {
	dir := t.TempDir()
	s := NewSession(mustIdentity(t, "default", "100", "main"))
	if err := saveSnapshot(dir, s); err != nil {
		t.Fatal(err)
	}

	if err := deleteSnapshot(dir, s.Key()); err != nil {
		t.Fatalf("deleteSnapshot() error = %v", err)
	}
	if _, found, _ := loadSnapshot(dir, s.Key()); found {
		t.Error("snapshot should be gone")
	}
	// Deleting again is fine.
	if err := deleteSnapshot(dir, s.Key()); err != nil {
		t.Errorf("repeat delete error = %v", err)
	}
}

func TestListSnapshots(t *testing.T) {
	dir := t.TempDir()
	for _, key := range [][3]string{
		{"default", "100", "main"},
		{"acme", "slack-C1", "main"},
	} {
		s := NewSession(mustIdentity(t, key[0], key[1], key[2]))
		s.RecordUsage(10, 5)
		if err := saveSnapshot(dir, s); err != nil {
			t.Fatal(err)
		}
	}
	// A non-snapshot file and a corrupt snapshot are both skipped.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad_key_main.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ListSnapshots(dir)
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListSnapshots() returned %d entries, want 2", len(got))
	}
	keys := map[string]bool{}
	for _, data := range got {
		keys[data.Key] = true
		if data.TotalInputTokens != 10 {
			t.Errorf("snapshot %s TotalInputTokens = %d, want 10", data.Key, data.TotalInputTokens)
		}
	}
	if !keys["default:100:main"] || !keys["acme:slack-C1:main"] {
		t.Errorf("keys = %v", keys)
	}
}

func TestListSnapshotsMissingDir(t *testing.T) {
	got, err := ListSnapshots(filepath.Join(t.TempDir(), "never-created"))
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListSnapshots() = %v, want empty", got)
	}
}

func TestListSnapshotsLegacyKeyFromFilename(t *testing.T) {
	dir := t.TempDir()
	// Snapshots written before the key field carry no key in the JSON.
	raw := []byte(`{"saved_at":"2026-08-24T10:00:00Z","totalQueries":3}`)
	if err := os.WriteFile(filepath.Join(dir, "default_100_main.json"), raw, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ListSnapshots(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	if got[0].Key != "default:100:main" {
		t.Errorf("Key = %q, want recovered from filename", got[0].Key)
	}
}

func TestSnapshotSavedAtSerialization(t *testing.T) {
	dir := t.TempDir()
	s := NewSession(mustIdentity(t, "default", "100", "main"))
	if err := saveSnapshot(dir, s); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, snapshotFilename(s.Key())))
	if err != nil {
		t.Fatal(err)
	}

	var onDisk struct {
		SavedAt string `json:"saved_at"`
	}
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatal(err)
	}
	// RFC 3339 wire format, e.g. "2026-08-24T10:00:00Z".
	if _, err := time.Parse(time.RFC3339Nano, onDisk.SavedAt); err != nil {
		t.Errorf("saved_at %q is not ISO-8601: %v", onDisk.SavedAt, err)
	}
}
