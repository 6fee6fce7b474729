package providers

import (
	"context"
	"sync"
)

// Capabilities describes what an adapter supports beyond the base contract.
type Capabilities struct {
	// SupportsResume indicates the adapter can continue a provider-side
	// session from a previous providerSessionId.
	SupportsResume bool

	// SupportsMidStreamInjection indicates steering text can be injected
	// into an in-flight query.
	SupportsMidStreamInjection bool

	// SupportsToolStreaming indicates tool-use blocks stream incrementally.
	SupportsToolStreaming bool
}

// QueryInput carries everything an adapter needs to start a query.
type QueryInput struct {
	// Prompt is the user-visible prompt text.
	Prompt string

	// SystemPrompt optionally overrides the adapter default.
	SystemPrompt string

	// Model optionally overrides the adapter default model.
	Model string

	// MaxTokens caps the response length; 0 uses the adapter default.
	MaxTokens int64

	// ProviderSessionID resumes a provider-side session when the adapter
	// supports it. Empty starts a fresh session.
	ProviderSessionID string

	// SessionKey is the canonical session key, passed through for logging.
	SessionKey string
}

// QueryHandle identifies an active query.
type QueryHandle struct {
	// QueryID is runtime-assigned and unique per StartQuery call.
	QueryID string

	// ProviderSessionID is the provider-side session, when known at start.
	ProviderSessionID string
}

// ResumeInput identifies the provider-side session to continue.
type ResumeInput struct {
	ProviderSessionID string
	SessionKey        string
}

// ResumeResult reports whether an existing provider session was continued.
type ResumeResult struct {
	ProviderSessionID string
	Resumed           bool
}

// Adapter is the contract every provider implements. StreamEvents emits the
// normalized taxonomy and must end each query's sequence with exactly one
// done event. AbortQuery is idempotent and safe to call for unknown handles.
type Adapter interface {
	ProviderID() string
	Capabilities() Capabilities
	StartQuery(ctx context.Context, input QueryInput) (*QueryHandle, error)
	StreamEvents(ctx context.Context, handle *QueryHandle, onEvent EventHandler) error
	AbortQuery(handle *QueryHandle)
	ResumeSession(ctx context.Context, input ResumeInput) (*ResumeResult, error)
}

// ActiveQueries tracks in-flight queries and their abort functions. Adapters
// embed one so that registration in StartQuery and release in StreamEvents
// share a single lock discipline.
//
// A query is registered before its stream exists, so abort works in two
// phases: Add marks the query active, Arm attaches the stream's cancel
// function. An abort that lands between the two is remembered and reported
// by Arm.
type ActiveQueries struct {
	mu      sync.Mutex
	queries map[string]*activeQuery
}

type activeQuery struct {
	cancel  context.CancelFunc
	aborted bool
}

// NewActiveQueries creates an empty tracker.
func NewActiveQueries() *ActiveQueries {
	return &ActiveQueries{queries: make(map[string]*activeQuery)}
}

// Add registers a query as active.
func (a *ActiveQueries) Add(queryID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queries[queryID] = &activeQuery{}
}

// Arm attaches the stream's cancel function. It reports false when the query
// was already aborted or released, in which case the caller must not stream.
func (a *ActiveQueries) Arm(queryID string, cancel context.CancelFunc) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	q, ok := a.queries[queryID]
	if !ok || q.aborted {
		return false
	}
	q.cancel = cancel
	return true
}

// Remove releases a query. Safe to call more than once.
func (a *ActiveQueries) Remove(queryID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.queries, queryID)
}

// Abort cancels a query if it is still active. Idempotent and safe for
// unknown ids.
func (a *ActiveQueries) Abort(queryID string) {
	a.mu.Lock()
	q, ok := a.queries[queryID]
	var cancel context.CancelFunc
	if ok {
		q.aborted = true
		cancel = q.cancel
	}
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Len reports the number of active queries.
func (a *ActiveQueries) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queries)
}
