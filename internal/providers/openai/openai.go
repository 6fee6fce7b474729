// Package openai implements a GPT provider on the go-openai client. It maps
// the chat completion stream onto normalized events, converting OpenAI's
// incremental tool-call chunks into start/delta/stop phases. Sessions are not
// resumable: each query is an independent conversation.
package openai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/courierhq/courier/internal/providers"
)

// ProviderID is the registry id for the GPT provider.
const ProviderID = "openai"

const (
	defaultModel          = "gpt-4o"
	defaultMaxTokens      = 4096
	defaultContextWindow  = 128000
	defaultRequestTimeout = 30 * time.Second
)

// Config holds GPT provider settings.
type Config struct {
	// APIKey authenticates against the OpenAI API. Required.
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

// Adapter is the GPT provider. Safe for concurrent use.
type Adapter struct {
	cfg    Config
	client *openai.Client
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
		a.logger = logger.With("component", "openai-provider")
	}
}

// New creates the GPT adapter. It fails when the config has no API key.
func New(cfg Config, opts ...Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}

	a := &Adapter{
		cfg:     cfg,
		client:  openai.NewClientWithConfig(clientCfg),
		logger:  slog.Default().With("component", "openai-provider"),
		active:  providers.NewActiveQueries(),
		pending: make(map[string]providers.QueryInput),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// ProviderID returns the registry id.
func (a *Adapter) ProviderID() string { return ProviderID }

// Capabilities reports tool streaming support. OpenAI chat completions carry
// no session state, so resume and mid-stream injection are unsupported.
func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.Capabilities{SupportsToolStreaming: true}
}

// StartQuery registers the query as active and returns its handle.
func (a *Adapter) StartQuery(ctx context.Context, input providers.QueryInput) (*providers.QueryHandle, error) {
	queryID := uuid.NewString()
	sessionID := input.ProviderSessionID
	if sessionID == "" {
		sessionID = "openai-" + uuid.NewString()
	}

	a.mu.Lock()
	a.pending[queryID] = input
	a.mu.Unlock()
	a.active.Add(queryID)

	a.logger.Debug("query started", "query_id", queryID, "session_key", input.SessionKey)

	return &providers.QueryHandle{QueryID: queryID, ProviderSessionID: sessionID}, nil
}

// toolState tracks one streamed tool call while its chunks arrive.
type toolState struct {
	id      string
	name    string
	started bool
}

// StreamEvents runs the chat completion stream and forwards normalized events.
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

	stream, err := a.client.CreateChatCompletionStream(streamCtx, a.buildRequest(input))
	if err != nil {
		return a.failStream(onEvent, handle.QueryID, err)
	}
	defer stream.Close()

	var (
		promptTokens     int64
		completionTokens int64
		tools            = make(map[int]*toolState)
	)

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return a.failStream(onEvent, handle.QueryID, err)
		}

		// With IncludeUsage set, the final chunk carries totals.
		if response.Usage != nil {
			promptTokens = int64(response.Usage.PromptTokens)
			completionTokens = int64(response.Usage.CompletionTokens)
		}

		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		if delta.Content != "" {
			if err := onEvent(providers.NewTextEvent(ProviderID, handle.QueryID, delta.Content)); err != nil {
				return providers.Normalize(ProviderID, err)
			}
		}

		for _, tc := range delta.ToolCalls {
			// OpenAI tracks parallel calls by index; id and name arrive in
			// the first chunk, argument fragments in the rest.
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			state := tools[index]
			if state == nil {
				state = &toolState{}
				tools[index] = state
			}
			if tc.ID != "" {
				state.id = tc.ID
			}
			if tc.Function.Name != "" {
				state.name = tc.Function.Name
			}

			if !state.started && state.name != "" {
				tool := providers.ToolPayload{Name: state.name, ToolID: state.id, Phase: providers.ToolPhaseStart}
				if err := onEvent(providers.NewToolEvent(ProviderID, handle.QueryID, tool)); err != nil {
					return providers.Normalize(ProviderID, err)
				}
				state.started = true
			}
			if state.started && tc.Function.Arguments != "" {
				tool := providers.ToolPayload{
					Name:    state.name,
					ToolID:  state.id,
					Phase:   providers.ToolPhaseDelta,
					Payload: tc.Function.Arguments,
				}
				if err := onEvent(providers.NewToolEvent(ProviderID, handle.QueryID, tool)); err != nil {
					return providers.Normalize(ProviderID, err)
				}
			}
		}

		if response.Choices[0].FinishReason == "tool_calls" {
			if err := a.closeTools(onEvent, handle.QueryID, tools); err != nil {
				return err
			}
			tools = make(map[int]*toolState)
		}
	}

	// Close any tools the stream left open before finishing.
	if err := a.closeTools(onEvent, handle.QueryID, tools); err != nil {
		return err
	}

	if promptTokens > 0 || completionTokens > 0 {
		usage := providers.UsagePayload{InputTokens: promptTokens, OutputTokens: completionTokens}
		if err := onEvent(providers.NewUsageEvent(ProviderID, handle.QueryID, usage)); err != nil {
			return providers.Normalize(ProviderID, err)
		}
	}
	used := promptTokens + completionTokens
	if err := onEvent(providers.NewContextEvent(ProviderID, handle.QueryID, used, a.cfg.ContextWindow)); err != nil {
		return providers.Normalize(ProviderID, err)
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

// ResumeSession reports that chat completion sessions cannot resume.
func (a *Adapter) ResumeSession(ctx context.Context, input providers.ResumeInput) (*providers.ResumeResult, error) {
	sessionID := input.ProviderSessionID
	if sessionID == "" {
		sessionID = "openai-" + uuid.NewString()
	}
	return &providers.ResumeResult{ProviderSessionID: sessionID, Resumed: false}, nil
}

func (a *Adapter) buildRequest(input providers.QueryInput) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if input.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: input.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: input.Prompt,
	})

	model := a.cfg.Model
	if input.Model != "" {
		model = input.Model
	}
	maxTokens := a.cfg.MaxTokens
	if input.MaxTokens > 0 {
		maxTokens = input.MaxTokens
	}

	return openai.ChatCompletionRequest{
		Model:         model,
		Messages:      messages,
		MaxTokens:     int(maxTokens),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
}

// closeTools emits stop events for every tool call that streamed a start.
func (a *Adapter) closeTools(onEvent providers.EventHandler, queryID string, tools map[int]*toolState) error {
	for _, state := range tools {
		if !state.started {
			continue
		}
		tool := providers.ToolPayload{Name: state.name, ToolID: state.id, Phase: providers.ToolPhaseStop}
		if err := onEvent(providers.NewToolEvent(ProviderID, queryID, tool)); err != nil {
			return providers.Normalize(ProviderID, err)
		}
		state.started = false
	}
	return nil
}

// failStream normalizes a stream error, emits the required terminal events,
// and returns the normalized error.
func (a *Adapter) failStream(onEvent providers.EventHandler, queryID string, raw error) error {
	status := 0
	var apiErr *openai.APIError
	if errors.As(raw, &apiErr) {
		status = apiErr.HTTPStatusCode
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
