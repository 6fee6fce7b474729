// Package providers defines the shared provider abstraction: the normalized
// event taxonomy every adapter emits, the adapter contract, the ordered
// registry, the error normalizer, and the retry/fallback orchestrator.
//
// Adapters translate provider-native streams into one Event shape so the
// rest of the runtime never sees SDK types. The design principles mirror the
// rest of the codebase:
//   - Single Type discriminator with optional payload pointers
//   - Exactly one payload non-nil for a given Type
//   - Every event stamped with provider id, query id, and time
package providers

import "time"

// EventType identifies the kind of provider event.
type EventType string

const (
	// EventSession announces the provider-side session id, once per query.
	EventSession EventType = "session"

	// EventText carries an incremental text delta.
	EventText EventType = "text"

	// EventTool reports streamed tool use.
	EventTool EventType = "tool"

	// EventUsage reports token consumption. Emitted only when at least one
	// token count is positive.
	EventUsage EventType = "usage"

	// EventContext reports context window consumption.
	EventContext EventType = "context"

	// EventRateLimit signals an upstream rate limit before the stream fails.
	EventRateLimit EventType = "rate_limit"

	// EventDone terminates a query's event sequence. Exactly one per query.
	EventDone EventType = "done"
)

// ToolPhase tracks the lifecycle of a streamed tool-use block.
type ToolPhase string

const (
	ToolPhaseStart ToolPhase = "start"
	ToolPhaseDelta ToolPhase = "delta"
	ToolPhaseStop  ToolPhase = "stop"
)

// DoneReason explains why a query's stream ended.
type DoneReason string

const (
	DoneCompleted DoneReason = "completed"
	DoneAborted   DoneReason = "aborted"
	DoneFailed    DoneReason = "failed"
)

// Event is the normalized provider event shared across all adapters.
type Event struct {
	// Type identifies the kind of event.
	Type EventType `json:"type"`

	// ProviderID names the adapter that emitted the event.
	ProviderID string `json:"providerId"`

	// QueryID identifies the query this event belongs to.
	QueryID string `json:"queryId"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// Exactly one payload should be non-nil for a given Type.
	Session   *SessionPayload   `json:"session,omitempty"`
	Text      *TextPayload      `json:"text,omitempty"`
	Tool      *ToolPayload      `json:"tool,omitempty"`
	Usage     *UsagePayload     `json:"usage,omitempty"`
	Context   *ContextPayload   `json:"context,omitempty"`
	RateLimit *RateLimitPayload `json:"rateLimit,omitempty"`
	Done      *DonePayload      `json:"done,omitempty"`
}

// SessionPayload carries the provider-side session id for resume support.
type SessionPayload struct {
	ProviderSessionID string `json:"providerSessionId"`
}

// TextPayload is an incremental text chunk.
type TextPayload struct {
	Delta string `json:"delta"`
}

// ToolPayload describes one phase of a streamed tool-use block.
type ToolPayload struct {
	Name string `json:"name"`

	// ToolID identifies the specific invocation when the provider supplies one.
	ToolID string `json:"toolId,omitempty"`

	Phase ToolPhase `json:"phase"`

	// Payload is the raw input fragment for delta phases.
	Payload string `json:"payload,omitempty"`
}

// UsagePayload reports token consumption for one usage-bearing frame.
// Usage is additive: session totals accumulate across events.
type UsagePayload struct {
	InputTokens              int64 `json:"inputTokens"`
	OutputTokens             int64 `json:"outputTokens"`
	CacheReadInputTokens     int64 `json:"cacheReadInputTokens,omitempty"`
	CacheCreationInputTokens int64 `json:"cacheCreationInputTokens,omitempty"`
}

// HasTokens reports whether any token count is positive. Adapters must not
// emit usage events when this is false.
func (u *UsagePayload) HasTokens() bool {
	return u.InputTokens > 0 || u.OutputTokens > 0 ||
		u.CacheReadInputTokens > 0 || u.CacheCreationInputTokens > 0
}

// ContextPayload reports context window consumption.
type ContextPayload struct {
	UsedTokens int64 `json:"usedTokens"`
	MaxTokens  int64 `json:"maxTokens"`
}

// RateLimitPayload signals an upstream rate limit.
type RateLimitPayload struct {
	RetryAfterMs int64 `json:"retryAfterMs,omitempty"`
	StatusCode   int   `json:"statusCode,omitempty"`
}

// DonePayload terminates a query's event sequence.
type DonePayload struct {
	Reason       DoneReason `json:"reason"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// EventHandler consumes normalized events. Handlers are invoked serially per
// query; a non-nil error aborts the stream.
type EventHandler func(event Event) error

func newEvent(t EventType, providerID, queryID string) Event {
	return Event{
		Type:       t,
		ProviderID: providerID,
		QueryID:    queryID,
		Timestamp:  time.Now(),
	}
}

// NewSessionEvent builds a session announcement event.
func NewSessionEvent(providerID, queryID, providerSessionID string) Event {
	ev := newEvent(EventSession, providerID, queryID)
	ev.Session = &SessionPayload{ProviderSessionID: providerSessionID}
	return ev
}

// NewTextEvent builds a text delta event.
func NewTextEvent(providerID, queryID, delta string) Event {
	ev := newEvent(EventText, providerID, queryID)
	ev.Text = &TextPayload{Delta: delta}
	return ev
}

// NewToolEvent builds a tool phase event.
func NewToolEvent(providerID, queryID string, payload ToolPayload) Event {
	ev := newEvent(EventTool, providerID, queryID)
	ev.Tool = &payload
	return ev
}

// NewUsageEvent builds a usage event.
func NewUsageEvent(providerID, queryID string, usage UsagePayload) Event {
	ev := newEvent(EventUsage, providerID, queryID)
	ev.Usage = &usage
	return ev
}

// NewContextEvent builds a context window event.
func NewContextEvent(providerID, queryID string, used, max int64) Event {
	ev := newEvent(EventContext, providerID, queryID)
	ev.Context = &ContextPayload{UsedTokens: used, MaxTokens: max}
	return ev
}

// NewRateLimitEvent builds a rate limit event.
func NewRateLimitEvent(providerID, queryID string, retryAfterMs int64, statusCode int) Event {
	ev := newEvent(EventRateLimit, providerID, queryID)
	ev.RateLimit = &RateLimitPayload{RetryAfterMs: retryAfterMs, StatusCode: statusCode}
	return ev
}

// NewDoneEvent builds a terminal done event.
func NewDoneEvent(providerID, queryID string, reason DoneReason, errorMessage string) Event {
	ev := newEvent(EventDone, providerID, queryID)
	ev.Done = &DonePayload{Reason: reason, ErrorMessage: errorMessage}
	return ev
}
