// Package history captures conversation transcripts as newline-delimited
// JSON, partitioned by identity and day. Search and summarization over the
// captured files are external services reached through the Searcher port.
package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/courierhq/courier/internal/identity"
)

// Role identifies who produced a captured message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Record is one transcript line.
type Record struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	TS   time.Time `json:"ts"`
}

// Searcher finds past transcript lines. The concrete search and
// summarization services live outside the runtime; tests substitute
// in-memory doubles.
type Searcher interface {
	Search(ctx context.Context, sessionKey, query string, limit int) ([]Record, error)
}

// Store appends transcript records under
// {base}/chats/{tenant}/{channel}/{thread}/{YYYY-MM-DD}.ndjson.
type Store struct {
	base   string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewStore creates a transcript store rooted at base.
func NewStore(base string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		base:   base,
		logger: logger.With("component", "history"),
		now:    time.Now,
	}
}

// Capture appends one record to the day file for the session's partition,
// creating directories as needed. A zero at falls back to the current time.
func (s *Store) Capture(ctx context.Context, sessionKey string, role Role, text string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := identity.ParseSessionKey(sessionKey)
	if err != nil {
		return fmt.Errorf("history capture: %w", err)
	}
	if at.IsZero() {
		at = s.now()
	}

	dir := filepath.Join(s.base, "chats", id.Tenant, id.Channel, id.Thread)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	line, err := json.Marshal(Record{Role: role, Text: text, TS: at.UTC()})
	if err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}
	line = append(line, '\n')

	path := filepath.Join(dir, at.UTC().Format("2006-01-02")+".ndjson")

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write history record: %w", err)
	}
	return nil
}

// Recent returns up to maxRecords of the conversation's newest records,
// scanning back the given number of day files including today. Missing days
// are skipped; unreadable lines are dropped with a warning.
func (s *Store) Recent(ctx context.Context, sessionKey string, days, maxRecords int) ([]Record, error) {
	if days <= 0 {
		return nil, nil
	}
	if maxRecords <= 0 {
		maxRecords = 20
	}
	id, err := identity.ParseSessionKey(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("history read: %w", err)
	}
	dir := filepath.Join(s.base, "chats", id.Tenant, id.Channel, id.Thread)

	now := s.now().UTC()
	var records []Record
	for offset := days - 1; offset >= 0; offset-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		date := now.AddDate(0, 0, -offset).Format("2006-01-02")
		day, err := s.readDay(filepath.Join(dir, date+".ndjson"))
		if err != nil {
			return nil, err
		}
		records = append(records, day...)
	}
	if len(records) > maxRecords {
		records = records[len(records)-maxRecords:]
	}
	return records, nil
}

func (s *Store) readDay(path string) ([]Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Warn("history line skipped", "file", filepath.Base(path), "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}
	return records, nil
}
