// Package anthropic implements the primary Claude provider on the official
// Anthropic SDK. It translates the Messages API SSE stream into normalized
// provider events: text deltas as they arrive, tool use as start/delta/stop
// phases, usage from the message_start and message_delta frames, and a single
// terminal done event per query.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/providers"
)

// ProviderID is the registry id for the Claude provider.
const ProviderID = "claude"

const (
	defaultModel          = "claude-sonnet-4-20250514"
	defaultMaxTokens      = 4096
	defaultContextWindow  = 200000
	defaultRequestTimeout = 30 * time.Second

	// maxEmptyStreamEvents guards against malformed streams that emit events
	// without ever producing content.
	maxEmptyStreamEvents = 300

	// sessionTTL bounds how long an idle provider session stays resumable.
	sessionTTL = 24 * time.Hour
)

// Config holds Claude provider settings.
type Config struct {
	// APIKey authenticates against the Anthropic API. Required.
	APIKey string

	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string

	// Model is the default model when a query does not name one.
	Model string

	// MaxTokens caps completion length when a query does not set its own.
	MaxTokens int64

	// ContextWindow is the model context size reported in context events.
	ContextWindow int64

	// RequestTimeout bounds each API request.
	RequestTimeout time.Duration
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return providers.NewError(providers.ErrCodeAuth, ProviderID, "api key is required", nil)
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = defaultContextWindow
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return nil
}

// Adapter is the Claude provider. Safe for concurrent use.
type Adapter struct {
	cfg    Config
	client anthropic.Client
	logger *slog.Logger
	active *providers.ActiveQueries

	mu       sync.Mutex
	pending  map[string]providers.QueryInput
	sessions map[string]time.Time
}

// Option configures the adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger.With("component", "claude-provider")
	}
}

// New creates the Claude adapter. It fails when the config has no API key.
func New(cfg Config, opts ...Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.RequestTimeout),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}

	a := &Adapter{
		cfg:      cfg,
		client:   anthropic.NewClient(clientOpts...),
		logger:   slog.Default().With("component", "claude-provider"),
		active:   providers.NewActiveQueries(),
		pending:  make(map[string]providers.QueryInput),
		sessions: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// ProviderID returns the registry id.
func (a *Adapter) ProviderID() string { return ProviderID }

// Capabilities reports full streaming support: resumable sessions, mid-stream
// injection, and phased tool streaming.
func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		SupportsResume:             true,
		SupportsMidStreamInjection: true,
		SupportsToolStreaming:      true,
	}
}

// StartQuery registers the query as active and returns its handle. The API
// call itself happens in StreamEvents.
func (a *Adapter) StartQuery(ctx context.Context, input providers.QueryInput) (*providers.QueryHandle, error) {
	queryID := uuid.NewString()
	sessionID := input.ProviderSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	a.mu.Lock()
	a.pending[queryID] = input
	a.sessions[sessionID] = time.Now()
	a.pruneSessionsLocked()
	a.mu.Unlock()
	a.active.Add(queryID)

	a.logger.Debug("query started",
		"query_id", queryID,
		"session_key", input.SessionKey,
		"model", a.modelFor(input))

	return &providers.QueryHandle{QueryID: queryID, ProviderSessionID: sessionID}, nil
}

// StreamEvents runs the Messages API stream and forwards normalized events to
// onEvent. On failure it emits rate_limit (when applicable) and done{failed}
// before returning the normalized error; on abort it emits done{aborted}.
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

	stream := a.client.Messages.NewStreaming(streamCtx, a.buildParams(input))

	var (
		inputTokens   int64
		cacheRead     int64
		cacheCreation int64
		outputTokens  int64

		currentToolID   string
		currentToolName string
		emptyEvents     int
	)

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			usage := event.AsMessageStart().Message.Usage
			inputTokens = usage.InputTokens
			cacheRead = usage.CacheReadInputTokens
			cacheCreation = usage.CacheCreationInputTokens
			payload := providers.UsagePayload{
				InputTokens:              inputTokens,
				CacheReadInputTokens:     cacheRead,
				CacheCreationInputTokens: cacheCreation,
			}
			if payload.HasTokens() {
				if err := onEvent(providers.NewUsageEvent(ProviderID, handle.QueryID, payload)); err != nil {
					return providers.Normalize(ProviderID, err)
				}
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolID = toolUse.ID
				currentToolName = toolUse.Name
				tool := providers.ToolPayload{
					Name:   currentToolName,
					ToolID: currentToolID,
					Phase:  providers.ToolPhaseStart,
				}
				if err := onEvent(providers.NewToolEvent(ProviderID, handle.QueryID, tool)); err != nil {
					return providers.Normalize(ProviderID, err)
				}
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if err := onEvent(providers.NewTextEvent(ProviderID, handle.QueryID, delta.Text)); err != nil {
						return providers.Normalize(ProviderID, err)
					}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					tool := providers.ToolPayload{
						Name:    currentToolName,
						ToolID:  currentToolID,
						Phase:   providers.ToolPhaseDelta,
						Payload: delta.PartialJSON,
					}
					if err := onEvent(providers.NewToolEvent(ProviderID, handle.QueryID, tool)); err != nil {
						return providers.Normalize(ProviderID, err)
					}
					processed = true
				}
			case "thinking_delta":
				// Thinking has no normalized event type. Consume it so the
				// empty-event guard does not trip on long reasoning runs.
				processed = delta.Thinking != ""
			}

		case "content_block_stop":
			if currentToolID != "" {
				tool := providers.ToolPayload{
					Name:   currentToolName,
					ToolID: currentToolID,
					Phase:  providers.ToolPhaseStop,
				}
				if err := onEvent(providers.NewToolEvent(ProviderID, handle.QueryID, tool)); err != nil {
					return providers.Normalize(ProviderID, err)
				}
				currentToolID = ""
				currentToolName = ""
				processed = true
			}

		case "message_delta":
			usage := event.AsMessageDelta().Usage
			if usage.OutputTokens > 0 {
				outputTokens = usage.OutputTokens
			}
			processed = true

		case "message_stop":
			used := inputTokens + cacheRead + cacheCreation + outputTokens
			return a.finishStream(onEvent, handle.QueryID, outputTokens, used)

		case "error":
			return a.failStream(onEvent, handle.QueryID, errors.New("anthropic stream error event"))
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				return a.failStream(onEvent, handle.QueryID,
					fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEvents))
			}
		}
	}

	if err := stream.Err(); err != nil {
		return a.failStream(onEvent, handle.QueryID, err)
	}

	// Stream ended without message_stop. Treat what arrived as complete so
	// the caller still gets exactly one done event.
	used := inputTokens + cacheRead + cacheCreation + outputTokens
	return a.finishStream(onEvent, handle.QueryID, outputTokens, used)
}

// AbortQuery cancels an in-flight query. Idempotent.
func (a *Adapter) AbortQuery(handle *providers.QueryHandle) {
	if handle == nil {
		return
	}
	a.active.Abort(handle.QueryID)
}

// ResumeSession resumes a known provider session. Unknown or empty ids get a
// fresh session with resumed=false.
func (a *Adapter) ResumeSession(ctx context.Context, input providers.ResumeInput) (*providers.ResumeResult, error) {
	if input.ProviderSessionID != "" {
		a.mu.Lock()
		_, known := a.sessions[input.ProviderSessionID]
		if known {
			a.sessions[input.ProviderSessionID] = time.Now()
		}
		a.mu.Unlock()

		if known {
			a.logger.Debug("session resumed",
				"provider_session_id", input.ProviderSessionID,
				"session_key", input.SessionKey)
			return &providers.ResumeResult{ProviderSessionID: input.ProviderSessionID, Resumed: true}, nil
		}
	}

	sessionID := uuid.NewString()
	a.mu.Lock()
	a.sessions[sessionID] = time.Now()
	a.mu.Unlock()
	return &providers.ResumeResult{ProviderSessionID: sessionID, Resumed: false}, nil
}

func (a *Adapter) buildParams(input providers.QueryInput) anthropic.MessageNewParams {
	maxTokens := a.cfg.MaxTokens
	if input.MaxTokens > 0 {
		maxTokens = input.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.modelFor(input)),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(input.Prompt)),
		},
	}
	if input.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: input.SystemPrompt,
			},
		}
	}
	return params
}

func (a *Adapter) modelFor(input providers.QueryInput) string {
	if input.Model != "" {
		return input.Model
	}
	return a.cfg.Model
}

// finishStream emits the trailing usage, context, and done{completed} events.
func (a *Adapter) finishStream(onEvent providers.EventHandler, queryID string, outputTokens, usedTokens int64) error {
	if outputTokens > 0 {
		usage := providers.UsagePayload{OutputTokens: outputTokens}
		if err := onEvent(providers.NewUsageEvent(ProviderID, queryID, usage)); err != nil {
			return providers.Normalize(ProviderID, err)
		}
	}
	if err := onEvent(providers.NewContextEvent(ProviderID, queryID, usedTokens, a.cfg.ContextWindow)); err != nil {
		return providers.Normalize(ProviderID, err)
	}
	if err := onEvent(providers.NewDoneEvent(ProviderID, queryID, providers.DoneCompleted, "")); err != nil {
		return providers.Normalize(ProviderID, err)
	}
	return nil
}

// failStream normalizes a stream error, emits the required terminal events,
// and returns the normalized error. Rate limits additionally emit a
// rate_limit event before done{failed}; aborts emit done{aborted}.
func (a *Adapter) failStream(onEvent providers.EventHandler, queryID string, raw error) error {
	status := 0
	var apiErr *anthropic.Error
	if errors.As(raw, &apiErr) {
		status = apiErr.StatusCode
	}
	ne := providers.NormalizeWithStatus(ProviderID, status, raw)

	switch providers.GetErrorCode(ne) {
	case providers.ErrCodeAbort:
		_ = onEvent(providers.NewDoneEvent(ProviderID, queryID, providers.DoneAborted, ""))
	case providers.ErrCodeRateLimit:
		_ = onEvent(providers.NewRateLimitEvent(ProviderID, queryID, 0, status))
		_ = onEvent(providers.NewDoneEvent(ProviderID, queryID, providers.DoneFailed, ne.Error()))
	default:
		_ = onEvent(providers.NewDoneEvent(ProviderID, queryID, providers.DoneFailed, ne.Error()))
	}

	a.logger.Warn("stream failed",
		"query_id", queryID,
		"code", providers.GetErrorCode(ne),
		"error", raw)
	return ne
}

// pruneSessionsLocked drops sessions idle past the TTL. Caller holds a.mu.
func (a *Adapter) pruneSessionsLocked() {
	cutoff := time.Now().Add(-sessionTTL)
	for id, last := range a.sessions {
		if last.Before(cutoff) {
			delete(a.sessions, id)
		}
	}
}
