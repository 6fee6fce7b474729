// Package codex implements the fallback echo provider. It performs no network
// calls: every query streams a single text event echoing the prompt, a
// synthetic usage event, and a terminal done event. The runtime falls back to
// it when the primary provider is rate limited, so its only job is to keep the
// event contract intact while being deterministic and instant.
package codex

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/providers"
)

// ProviderID is the registry id for the echo provider.
const ProviderID = "codex"

// usageFactor approximates tokens per word for the synthetic usage event.
const usageFactor = 1.4

// Config controls the echo provider.
type Config struct {
	// Enabled gates the provider. A disabled provider stays registered but
	// rejects every query so callers get a deterministic error instead of a
	// silently missing fallback.
	Enabled bool
}

// Adapter is the echo provider. Safe for concurrent use.
type Adapter struct {
	cfg    Config
	logger *slog.Logger
	active *providers.ActiveQueries

	mu      sync.Mutex
	pending map[string]providers.QueryInput
}

// Option configures the adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger.With("component", "codex-provider")
	}
}

// New creates the echo adapter.
func New(cfg Config, opts ...Option) *Adapter {
	a := &Adapter{
		cfg:     cfg,
		logger:  slog.Default().With("component", "codex-provider"),
		active:  providers.NewActiveQueries(),
		pending: make(map[string]providers.QueryInput),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ProviderID returns the registry id.
func (a *Adapter) ProviderID() string { return ProviderID }

// Capabilities reports what the echo provider supports: nothing beyond the
// base streaming contract.
func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.Capabilities{}
}

// StartQuery validates the query and registers it as active. A disabled
// provider rejects immediately with an invalid request error.
func (a *Adapter) StartQuery(ctx context.Context, input providers.QueryInput) (*providers.QueryHandle, error) {
	if !a.cfg.Enabled {
		return nil, providers.NewError(providers.ErrCodeInvalidRequest, ProviderID, "provider is disabled", nil)
	}

	queryID := uuid.NewString()
	sessionID := input.ProviderSessionID
	if sessionID == "" {
		sessionID = "codex-" + uuid.NewString()
	}

	a.mu.Lock()
	a.pending[queryID] = input
	a.mu.Unlock()
	a.active.Add(queryID)

	a.logger.Debug("echo query started", "query_id", queryID, "session_key", input.SessionKey)

	return &providers.QueryHandle{QueryID: queryID, ProviderSessionID: sessionID}, nil
}

// StreamEvents emits the echo event sequence: session, text, usage (when the
// prompt has any words), done.
func (a *Adapter) StreamEvents(ctx context.Context, handle *providers.QueryHandle, onEvent providers.EventHandler) error {
	defer a.active.Remove(handle.QueryID)

	a.mu.Lock()
	input, ok := a.pending[handle.QueryID]
	delete(a.pending, handle.QueryID)
	a.mu.Unlock()
	if !ok {
		return providers.NewError(providers.ErrCodeInvalidRequest, ProviderID, "unknown query "+handle.QueryID, nil)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !a.active.Arm(handle.QueryID, cancel) {
		return providers.NewError(providers.ErrCodeAbort, ProviderID, "query aborted before streaming", nil)
	}

	if err := onEvent(providers.NewSessionEvent(ProviderID, handle.QueryID, handle.ProviderSessionID)); err != nil {
		return providers.Normalize(ProviderID, err)
	}
	if err := streamCtx.Err(); err != nil {
		_ = onEvent(providers.NewDoneEvent(ProviderID, handle.QueryID, providers.DoneAborted, ""))
		return providers.Normalize(ProviderID, err)
	}

	if err := onEvent(providers.NewTextEvent(ProviderID, handle.QueryID, input.Prompt)); err != nil {
		return providers.Normalize(ProviderID, err)
	}

	if tokens := estimateTokens(input.Prompt); tokens > 0 {
		usage := providers.UsagePayload{InputTokens: tokens, OutputTokens: tokens}
		if err := onEvent(providers.NewUsageEvent(ProviderID, handle.QueryID, usage)); err != nil {
			return providers.Normalize(ProviderID, err)
		}
	}

	if err := onEvent(providers.NewDoneEvent(ProviderID, handle.QueryID, providers.DoneCompleted, "")); err != nil {
		return providers.Normalize(ProviderID, err)
	}
	return nil
}

// AbortQuery cancels an in-flight query. Idempotent.
func (a *Adapter) AbortQuery(handle *providers.QueryHandle) {
	if handle == nil {
		return
	}
	a.active.Abort(handle.QueryID)
}

// ResumeSession reports that echo sessions cannot resume. The caller gets its
// id back, or a fresh one, and starts a new conversation either way.
func (a *Adapter) ResumeSession(ctx context.Context, input providers.ResumeInput) (*providers.ResumeResult, error) {
	sessionID := input.ProviderSessionID
	if sessionID == "" {
		sessionID = "codex-" + uuid.NewString()
	}
	return &providers.ResumeResult{ProviderSessionID: sessionID, Resumed: false}, nil
}

// estimateTokens approximates token consumption from the word count.
func estimateTokens(prompt string) int64 {
	words := len(strings.Fields(prompt))
	if words == 0 {
		return 0
	}
	return int64(math.Ceil(float64(words) * usageFactor))
}
