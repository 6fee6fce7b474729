// Package cron runs scheduled jobs in sessions isolated from user traffic.
//
// The package has three layers. The runtime boundary (Configure, Execute,
// IsBusy) is process-wide state the gateway wires to the session manager and
// provider orchestrator; everything scheduled flows through it. The queue
// drain loop (Queue, ProcessQueuedJobs, StartQueueDrainTimer) holds due jobs
// until no scheduler-owned session is mid-execution. The Scheduler parses job
// definitions, ticks their schedules, and feeds the queue.
//
// Scheduler sessions are addressed by keys prefixed "cron:", derived with
// BuildSchedulerRoute. User sessions never share that prefix, so scheduled
// work can never steer or be steered by an interactive conversation.
package cron

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ModelContextCron tags provider calls that originate from the scheduler.
const ModelContextCron = "cron"

// SessionKeyPrefix starts every scheduler-owned session key.
const SessionKeyPrefix = "cron:"

// ErrNotConfigured is returned by Execute before Configure has been called.
var ErrNotConfigured = errors.New("cron: runtime not configured")

// IsCronSessionKey reports whether key names a scheduler-owned session.
func IsCronSessionKey(key string) bool {
	return strings.HasPrefix(key, SessionKeyPrefix)
}

// ExecuteRequest is one scheduled prompt submitted to the runtime. SessionKey
// must be a canonical session key; the runtime routes by it and never by
// UserID, which is carried only for audit context.
type ExecuteRequest struct {
	Prompt         string
	SessionKey     string
	UserID         string
	StatusCallback func(status string)
	ModelContext   string
}

// Runtime is the execution boundary the scheduler drains into. IsBusy must
// consider only sessions whose key begins with SessionKeyPrefix, so user
// sessions never block scheduled work.
type Runtime struct {
	IsBusy  func() bool
	Execute func(ctx context.Context, req ExecuteRequest) (string, error)
}

var (
	runtimeMu sync.RWMutex
	runtime   Runtime
)

// Configure installs the process-wide runtime. The last call wins.
func Configure(rt Runtime) {
	runtimeMu.Lock()
	runtime = rt
	runtimeMu.Unlock()
}

// ResetForTests clears the configured runtime and releases the drain timer.
func ResetForTests() {
	runtimeMu.Lock()
	runtime = Runtime{}
	runtimeMu.Unlock()
	StopQueueDrainTimer()
}

// IsBusy reports whether a scheduler-owned session is currently executing.
// It is false until a runtime is configured.
func IsBusy() bool {
	runtimeMu.RLock()
	busy := runtime.IsBusy
	runtimeMu.RUnlock()
	if busy == nil {
		return false
	}
	return busy()
}

// Execute runs one scheduled prompt through the configured runtime. An empty
// ModelContext defaults to ModelContextCron.
func Execute(ctx context.Context, req ExecuteRequest) (string, error) {
	runtimeMu.RLock()
	exec := runtime.Execute
	runtimeMu.RUnlock()
	if exec == nil {
		return "", ErrNotConfigured
	}
	if req.ModelContext == "" {
		req.ModelContext = ModelContextCron
	}
	return exec(ctx, req)
}
