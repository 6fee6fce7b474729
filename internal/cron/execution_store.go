package cron

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ExecutionStatus is the lifecycle state of one scheduler execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
)

// JobExecution is one recorded run of a scheduled job. SessionKey is the
// scheduler-owned session the run executed in.
type JobExecution struct {
	ID          string          `json:"id"`
	JobID       string          `json:"job_id"`
	SessionKey  string          `json:"session_key"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
	Duration    time.Duration   `json:"duration,omitempty"`
	Output      string          `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// ExecutionStore persists scheduler execution history.
type ExecutionStore interface {
	// Create records a new execution, normally in ExecutionRunning state.
	Create(ctx context.Context, exec *JobExecution) error
	// Update replaces the stored record with the same ID.
	Update(ctx context.Context, exec *JobExecution) error
	// Get returns the execution with the given id, or nil when unknown.
	Get(ctx context.Context, id string) (*JobExecution, error)
	// List returns executions newest-first, filtered by job id when jobID is
	// non-empty. A limit <= 0 returns everything.
	List(ctx context.Context, jobID string, limit int) ([]*JobExecution, error)
	// Prune deletes executions that started more than olderThan ago and
	// returns how many were removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MemoryExecutionStore keeps execution history in memory. It is the default
// store when no history path is configured.
type MemoryExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]*JobExecution
}

// NewMemoryExecutionStore creates an in-memory execution store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{executions: make(map[string]*JobExecution)}
}

func (s *MemoryExecutionStore) Create(ctx context.Context, exec *JobExecution) error {
	return s.put(exec)
}

func (s *MemoryExecutionStore) Update(ctx context.Context, exec *JobExecution) error {
	return s.put(exec)
}

func (s *MemoryExecutionStore) put(exec *JobExecution) error {
	if exec == nil {
		return nil
	}
	s.mu.Lock()
	s.executions[exec.ID] = cloneExecution(exec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryExecutionStore) Get(ctx context.Context, id string) (*JobExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, nil
	}
	return cloneExecution(exec), nil
}

func (s *MemoryExecutionStore) List(ctx context.Context, jobID string, limit int) ([]*JobExecution, error) {
	s.mu.RLock()
	result := make([]*JobExecution, 0, len(s.executions))
	for _, exec := range s.executions {
		if jobID != "" && exec.JobID != jobID {
			continue
		}
		result = append(result, cloneExecution(exec))
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryExecutionStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	var pruned int64
	for id, exec := range s.executions {
		if exec.StartedAt.Before(cutoff) {
			delete(s.executions, id)
			pruned++
		}
	}
	return pruned, nil
}

func cloneExecution(exec *JobExecution) *JobExecution {
	if exec == nil {
		return nil
	}
	clone := *exec
	return &clone
}
