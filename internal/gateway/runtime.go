// Package gateway runs the courier agent loop: it drains admitted envelopes
// from the channel boundaries, drives each one through the provider chain
// inside its session, and dispatches the reply back out.
//
// runtime.go owns per-envelope processing; server.go owns assembly and
// lifecycle.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/courierhq/courier/internal/channels"
	"github.com/courierhq/courier/internal/history"
	"github.com/courierhq/courier/internal/observability"
	"github.com/courierhq/courier/internal/outbound"
	"github.com/courierhq/courier/internal/providers"
	"github.com/courierhq/courier/internal/routing"
	"github.com/courierhq/courier/internal/sessions"
)

const (
	// maxProcessingTime bounds one envelope end to end, provider retries and
	// fallback included.
	maxProcessingTime = 10 * time.Minute

	// maxInputSize truncates pathological inbound text before it reaches a
	// provider.
	maxInputSize = 64 * 1024

	// defaultMaxConcurrent bounds simultaneously processed envelopes when
	// the config does not say otherwise.
	defaultMaxConcurrent = 8
)

// Querier runs one orchestrated provider query. *providers.Orchestrator
// implements it; tests substitute scripted doubles.
type Querier interface {
	Execute(ctx context.Context, req providers.Request) (*providers.Result, error)
}

// Sender delivers outbound payloads. *outbound.Dispatcher implements it.
type Sender interface {
	SendText(ctx context.Context, route *routing.AgentRoute, text string) (*outbound.DeliveryReceipt, error)
	SendStatus(ctx context.Context, route *routing.AgentRoute, status outbound.Status, message string) (*outbound.DeliveryReceipt, error)
}

// Capturer appends transcript records. *history.Store implements it. A nil
// Capturer disables capture.
type Capturer interface {
	Capture(ctx context.Context, sessionKey string, role history.Role, text string, at time.Time) error
}

// RuntimeConfig wires the runtime's collaborators.
type RuntimeConfig struct {
	Sessions *sessions.Manager
	Querier  Querier
	Sender   Sender

	// History is optional; nil disables transcript capture.
	History Capturer

	// Channels is optional; when set it labels metrics with the owning
	// boundary's channel type.
	Channels *channels.Registry

	// Primary names the provider tried first. Fallback, when non-empty, is
	// tried after a primary rate limit.
	Primary  string
	Fallback string

	// MaxConcurrent bounds simultaneously processed envelopes.
	MaxConcurrent int

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Logger  *slog.Logger
}

// Runtime processes inbound envelopes. Each envelope runs in its own
// goroutine behind a semaphore; events within one query stay serialized
// because the orchestrator invokes the handler synchronously from the stream.
type Runtime struct {
	sessions *sessions.Manager
	querier  Querier
	sender   Sender
	history  Capturer
	channels *channels.Registry
	primary  string
	fallback string
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	// processHook replaces process in tests that only exercise the drain
	// loop.
	processHook func(ctx context.Context, env *channels.InboundEnvelope)
}

// NewRuntime creates a runtime over the given collaborators.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("gateway: session manager is required")
	}
	if cfg.Querier == nil {
		return nil, errors.New("gateway: querier is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("gateway: sender is required")
	}
	if cfg.Primary == "" {
		return nil, errors.New("gateway: primary provider is required")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		// Endpoint-less tracer, records nothing.
		tracer, _, _ = observability.NewTracer(observability.TraceConfig{})
	}
	return &Runtime{
		sessions: cfg.Sessions,
		querier:  cfg.Querier,
		sender:   cfg.Sender,
		history:  cfg.History,
		channels: cfg.Channels,
		primary:  cfg.Primary,
		fallback: cfg.Fallback,
		metrics:  cfg.Metrics,
		tracer:   tracer,
		logger:   logger.With("component", "gateway"),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// Run drains envelopes until the stream closes or the context ends. Each
// envelope is processed on its own goroutine; the semaphore bounds how many
// run at once. Run returns once the stream is drained, not once in-flight
// envelopes finish; use Wait for that.
func (r *Runtime) Run(ctx context.Context, envelopes <-chan *channels.InboundEnvelope) {
	process := r.processHook
	if process == nil {
		process = r.process
	}

	for {
		select {
		case env, ok := <-envelopes:
			if !ok {
				return
			}
			if env == nil {
				continue
			}
			select {
			case r.sem <- struct{}{}:
				r.wg.Add(1)
				go func(env *channels.InboundEnvelope) {
					defer func() {
						<-r.sem
						r.wg.Done()
					}()
					process(ctx, env)
				}(env)
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Wait blocks until all in-flight envelopes finish or the context ends.
func (r *Runtime) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process runs one envelope through the full pipeline: route, session claim,
// steering, history, provider chain, outbound reply.
func (r *Runtime) process(ctx context.Context, env *channels.InboundEnvelope) {
	ctx, cancelTimeout := context.WithTimeout(ctx, maxProcessingTime)
	defer cancelTimeout()

	channelType := r.channelType(env.Identity.Channel)
	ctx, span := r.tracer.TraceEnvelope(ctx, channelType, env.Identity.SessionKey())
	defer span.End()

	logger := r.logger.With(
		"channel", channelType,
		"session", env.Identity.SessionKey(),
		"envelope", env.ID,
	)
	if r.metrics != nil {
		r.metrics.RecordInbound(channelType, true)
	}

	text := env.Text
	if len(text) > maxInputSize {
		logger.Warn("truncating oversized inbound text", "size", len(text), "max", maxInputSize)
		text = text[:maxInputSize]
	}

	route, err := routeFor(env)
	if err != nil {
		observability.RecordError(span, err)
		logger.Error("route derivation failed", "error", err)
		return
	}

	session := r.sessions.GetOrCreate(env.Identity.Identity)
	if r.metrics != nil {
		r.metrics.ActiveSessions.Set(float64(r.sessions.Count()))
	}

	qctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !session.TryBeginQuery(cancel) {
		r.steer(session, env, text, logger)
		return
	}
	defer session.EndQuery()

	receivedAt := env.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.UnixMilli(env.Identity.Timestamp)
	}
	r.capture(ctx, session.Key(), history.RoleUser, text, receivedAt, logger)

	prompt := text
	if steering := session.ConsumeSteering(); steering != "" {
		prompt = steering + "\n---\n" + prompt
	}

	reply, err := r.executeQuery(qctx, session, prompt, logger)
	if err != nil {
		r.reportFailure(ctx, route, channelType, err, logger)
		return
	}
	if reply == "" {
		logger.Info("query produced no text, skipping dispatch")
		return
	}

	dctx, dispatchSpan := r.tracer.TraceDispatch(ctx, channelType, string(outbound.KindText))
	_, sendErr := r.sender.SendText(dctx, route, reply)
	observability.RecordError(dispatchSpan, sendErr)
	dispatchSpan.End()
	if sendErr != nil {
		observability.RecordError(span, sendErr)
		logger.Error("outbound dispatch failed", "error", sendErr)
		return
	}
	if r.metrics != nil {
		r.metrics.RecordOutbound(channelType, string(outbound.KindText))
	}
	r.capture(ctx, session.Key(), history.RoleAssistant, reply, time.Now(), logger)
}

// steer buffers a message that arrived while the session's query was
// in-flight. Interrupts additionally abort the running query so the next
// message is answered against the corrected intent.
func (r *Runtime) steer(session *sessions.Session, env *channels.InboundEnvelope, text string, logger *slog.Logger) {
	ts := env.ReceivedAt
	if ts.IsZero() {
		ts = time.UnixMilli(env.Identity.Timestamp)
	}
	dropped := session.AddSteering(text, ts)
	if len(dropped) > 0 {
		logger.Warn("steering buffer overflow", "dropped", len(dropped))
	}

	if env.IsInterrupt {
		if session.Abort() {
			logger.Info("interrupt aborted running query")
		}
		return
	}
	logger.Debug("buffered steering message", "pending", session.SteeringCount())
}

// executeQuery runs the provider chain for one prompt and returns the
// accumulated reply text. Session counters are updated from the event stream
// as it arrives.
func (r *Runtime) executeQuery(ctx context.Context, session *sessions.Session, prompt string, logger *slog.Logger) (string, error) {
	ctx, span := r.tracer.TraceQuery(ctx, r.primary)
	defer span.End()

	collector := &eventCollector{session: session, logger: logger}

	start := time.Now()
	result, err := r.querier.Execute(ctx, providers.Request{
		PrimaryProviderID:  r.primary,
		FallbackProviderID: r.fallback,
		Input: providers.QueryInput{
			Prompt:            prompt,
			ProviderSessionID: session.Stats().ProviderSessionID,
			SessionKey:        session.Key(),
		},
		OnEvent: collector.handle,
	})
	elapsed := time.Since(start)

	collector.settle(r.metrics)

	if err != nil {
		observability.RecordError(span, err)
		provider := collector.providerID
		if provider == "" {
			provider = r.primary
		}
		if r.metrics != nil {
			r.metrics.RecordQuery(provider, "error", elapsed.Seconds())
		}
		return "", err
	}

	if r.metrics != nil {
		r.metrics.RecordQuery(result.ProviderID, "ok", elapsed.Seconds())
	}
	logger.Info("query finished",
		"provider", result.ProviderID,
		"attempts", result.Attempts,
		"duration", elapsed,
		"reason", collector.doneReason)

	if collector.doneReason == providers.DoneAborted {
		return "", nil
	}
	return collector.text.String(), nil
}

// reportFailure renders the terminal status payload for an exhausted provider
// chain. Aborts are user-initiated and stay silent.
func (r *Runtime) reportFailure(ctx context.Context, route *routing.AgentRoute, channelType string, err error, logger *slog.Logger) {
	var perr *providers.Error
	if errors.As(err, &perr) && perr.Code == providers.ErrCodeAbort {
		logger.Info("query aborted")
		return
	}
	logger.Error("provider chain exhausted", "error", err)

	if _, serr := r.sender.SendStatus(ctx, route, outbound.StatusError, failureMessage(err)); serr != nil {
		logger.Error("failed to deliver error status", "error", serr)
		return
	}
	if r.metrics != nil {
		r.metrics.RecordOutbound(channelType, string(outbound.KindStatus))
	}
}

// capture appends a transcript record; capture failures are logged, never
// fatal.
func (r *Runtime) capture(ctx context.Context, sessionKey string, role history.Role, text string, at time.Time, logger *slog.Logger) {
	if r.history == nil {
		return
	}
	if err := r.history.Capture(ctx, sessionKey, role, text, at); err != nil {
		logger.Warn("history capture failed", "role", role, "error", err)
	}
}

func (r *Runtime) channelType(channelID string) string {
	if r.channels != nil {
		if t := r.channels.TypeOf(channelID); t != "" {
			return t
		}
	}
	return "unknown"
}

// routeFor derives the reply route for an admitted envelope. Delivery
// addresses the identity triple, so the peer mirrors the conversation shape:
// the thread when one is addressed, with the conversation as its parent,
// otherwise the conversation root.
func routeFor(env *channels.InboundEnvelope) (*routing.AgentRoute, error) {
	id := env.Identity
	opts := routing.Options{
		Peer: routing.Peer{Kind: routing.PeerChannel, ID: id.Channel},
	}
	if id.Thread != channels.MainThread {
		parent := opts.Peer
		opts.ParentPeer = &parent
		opts.Peer = routing.Peer{Kind: routing.PeerChannel, ID: id.Thread}
	}
	return routing.Derive(id.Identity, opts)
}

// eventCollector accumulates one query's serialized event stream. Retries and
// fallback replay through the same collector, so partial primary output may
// precede the answering provider's output; the last done event wins.
type eventCollector struct {
	session *sessions.Session
	logger  *slog.Logger

	text         strings.Builder
	inputTokens  int64
	outputTokens int64
	providerID   string
	doneReason   providers.DoneReason
}

func (c *eventCollector) handle(ev providers.Event) error {
	if ev.ProviderID != "" {
		c.providerID = ev.ProviderID
	}

	switch ev.Type {
	case providers.EventSession:
		if ev.Session != nil && ev.Session.ProviderSessionID != "" {
			c.session.SetProviderSession(ev.Session.ProviderSessionID)
		}
	case providers.EventText:
		if ev.Text != nil {
			c.text.WriteString(ev.Text.Delta)
		}
	case providers.EventTool:
		if ev.Tool != nil {
			c.logger.Debug("tool event", "tool", ev.Tool.Name, "phase", ev.Tool.Phase)
		}
	case providers.EventUsage:
		if ev.Usage != nil {
			c.inputTokens += ev.Usage.InputTokens
			c.outputTokens += ev.Usage.OutputTokens
		}
	case providers.EventContext:
		if ev.Context != nil {
			c.session.UpdateContextWindow(int(ev.Context.UsedTokens), int(ev.Context.MaxTokens))
		}
	case providers.EventRateLimit:
		if ev.RateLimit != nil {
			c.logger.Warn("provider rate limited",
				"provider", ev.ProviderID,
				"retryAfterMs", ev.RateLimit.RetryAfterMs,
				"statusCode", ev.RateLimit.StatusCode)
		}
	case providers.EventDone:
		if ev.Done != nil {
			c.doneReason = ev.Done.Reason
			if ev.Done.ErrorMessage != "" {
				c.logger.Debug("stream ended", "reason", ev.Done.Reason, "error", ev.Done.ErrorMessage)
			}
		}
	}
	return nil
}

// settle flushes accumulated usage into the session and metrics. Usage counts
// even when the stream ended aborted: tokens already spent stay on the books.
func (c *eventCollector) settle(metrics *observability.Metrics) {
	if c.inputTokens == 0 && c.outputTokens == 0 {
		return
	}
	c.session.RecordUsage(c.inputTokens, c.outputTokens)
	if metrics != nil {
		metrics.RecordUsage(c.providerID, c.inputTokens, c.outputTokens)
	}
}

// failureMessage maps an exhausted provider chain to the user-visible status
// text.
func failureMessage(err error) string {
	var perr *providers.Error
	if !errors.As(err, &perr) {
		return "The agent hit an unexpected error. Please try again."
	}
	switch perr.Code {
	case providers.ErrCodeRateLimit:
		return "The model is rate limited right now. Please try again shortly."
	case providers.ErrCodeAuth:
		return "The model rejected this deployment's credentials. An operator needs to check the provider configuration."
	case providers.ErrCodeContextLimit:
		return "This conversation no longer fits the model's context window. Start a new thread to continue."
	case providers.ErrCodeNetwork:
		return "The model could not be reached. Please try again shortly."
	default:
		return fmt.Sprintf("The query failed (%s). Please try again.", perr.Code)
	}
}
