package channels

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/identity"
	"github.com/courierhq/courier/internal/outbound"
)

// DefaultTenant scopes events from platforms without a tenant concept.
const DefaultTenant = "default"

// MainThread is the canonical thread id for a conversation root. Boundaries
// map their platform's no-thread case to it.
const MainThread = "main"

const envelopeBuffer = 64

// BaseConfig configures the shared boundary core.
type BaseConfig struct {
	// ChannelType names the platform.
	ChannelType string

	// DefaultTenant applies when a raw event carries no tenant. Defaults to
	// DefaultTenant.
	DefaultTenant string

	// Capabilities describes the platform.
	Capabilities Capabilities

	// AllowedTenants gates admission when non-empty.
	AllowedTenants []string

	// AllowedUsers gates admission when non-empty.
	AllowedUsers []string

	// InboundRate is the inbound admission budget in events per second.
	// Zero disables inbound rate limiting.
	InboundRate  float64
	InboundBurst int

	// SendRate paces outbound sends in messages per second. Zero disables
	// send pacing.
	SendRate  float64
	SendBurst int

	// Port performs platform sends. Nil without Skeleton makes deliveries
	// fail with CHANNEL_UNAVAILABLE.
	Port OutboundPort

	// Skeleton enables dry-run deliveries: text gets a placeholder receipt
	// instead of a platform send.
	Skeleton bool

	Logger *slog.Logger
}

// BaseBoundary implements the pieces of Boundary that are identical across
// platforms: the admission pipeline, outbound delivery through a port, the
// envelope stream, status, and metrics. Channel adapters embed it and add
// platform event translation plus Start/Stop.
type BaseBoundary struct {
	channelType   string
	defaultTenant string
	caps          Capabilities
	logger        *slog.Logger

	allowedTenants map[string]struct{}
	allowedUsers   map[string]struct{}
	inboundLimiter *RateLimiter
	sendLimiter    *RateLimiter
	ordering       *OrderingGuard
	metrics        *Metrics
	chunker        *MessageChunker

	port     OutboundPort
	portMu   sync.RWMutex
	skeleton bool

	envelopes chan *InboundEnvelope
	closeOnce sync.Once

	status   Status
	statusMu sync.RWMutex
}

// NewBaseBoundary creates the shared boundary core.
func NewBaseBoundary(cfg BaseConfig) *BaseBoundary {
	if cfg.DefaultTenant == "" {
		cfg.DefaultTenant = DefaultTenant
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &BaseBoundary{
		channelType:   cfg.ChannelType,
		defaultTenant: cfg.DefaultTenant,
		caps:          cfg.Capabilities,
		logger:        logger.With("component", cfg.ChannelType+"-channel"),
		ordering:      NewOrderingGuard(),
		metrics:       NewMetrics(cfg.ChannelType),
		chunker:       ChunkerFromCapabilities(cfg.Capabilities),
		port:          cfg.Port,
		skeleton:      cfg.Skeleton,
		envelopes:     make(chan *InboundEnvelope, envelopeBuffer),
		status:        Status{Connected: false},
	}

	if len(cfg.AllowedTenants) > 0 {
		b.allowedTenants = make(map[string]struct{}, len(cfg.AllowedTenants))
		for _, t := range cfg.AllowedTenants {
			b.allowedTenants[t] = struct{}{}
		}
	}
	if len(cfg.AllowedUsers) > 0 {
		b.allowedUsers = make(map[string]struct{}, len(cfg.AllowedUsers))
		for _, u := range cfg.AllowedUsers {
			b.allowedUsers[u] = struct{}{}
		}
	}
	if cfg.InboundRate > 0 {
		burst := cfg.InboundBurst
		if burst <= 0 {
			burst = int(math.Ceil(cfg.InboundRate))
		}
		b.inboundLimiter = NewRateLimiter(cfg.InboundRate, burst)
	}
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst <= 0 {
			burst = int(math.Ceil(cfg.SendRate))
		}
		b.sendLimiter = NewRateLimiter(cfg.SendRate, burst)
	}

	return b
}

// ChannelType names the platform.
func (b *BaseBoundary) ChannelType() string { return b.channelType }

// Capabilities reports what the platform supports.
func (b *BaseBoundary) Capabilities() Capabilities { return b.caps }

// DefaultTenantID returns the tenant applied to unscoped events.
func (b *BaseBoundary) DefaultTenantID() string { return b.defaultTenant }

// Logger returns the boundary logger.
func (b *BaseBoundary) Logger() *slog.Logger { return b.logger }

// SetPort installs the outbound port. Boundaries whose platform client only
// exists after Start use it to wire sends once connected; until then live
// deliveries fail with CHANNEL_UNAVAILABLE.
func (b *BaseBoundary) SetPort(port OutboundPort) {
	b.portMu.Lock()
	defer b.portMu.Unlock()
	b.port = port
}

func (b *BaseBoundary) currentPort() OutboundPort {
	b.portMu.RLock()
	defer b.portMu.RUnlock()
	return b.port
}

// NormalizeInbound runs the admission pipeline: completeness, authorization,
// rate limit, identity derivation, ordering. Rejections come back as channel
// errors carrying the reason code.
func (b *BaseBoundary) NormalizeInbound(raw RawEvent) (*InboundEnvelope, error) {
	start := time.Now()
	env, err := b.normalize(raw)
	b.metrics.RecordNormalizeLatency(time.Since(start))

	if err != nil {
		b.metrics.RecordRejected(GetErrorCode(err))
		b.logger.Debug("inbound rejected",
			"code", GetErrorCode(err),
			"channel_id", raw.ChannelID,
			"thread_id", raw.ThreadID)
		return nil, err
	}

	b.metrics.RecordAdmitted()
	if env.InterruptBypassApplied {
		b.metrics.RecordInterruptBypass()
	}
	return env, nil
}

func (b *BaseBoundary) normalize(raw RawEvent) (*InboundEnvelope, error) {
	switch {
	case raw.ChannelID == "":
		return nil, ErrInvalidPayload(b.channelType, "missing channel id", nil)
	case raw.ThreadID == "":
		return nil, ErrInvalidPayload(b.channelType, "missing thread id", nil)
	case raw.UserID == "":
		return nil, ErrInvalidPayload(b.channelType, "missing user id", nil)
	case raw.MessageID == "":
		return nil, ErrInvalidPayload(b.channelType, "missing message id", nil)
	case raw.Text == "":
		return nil, ErrInvalidPayload(b.channelType, "missing message text", nil)
	case raw.Timestamp <= 0:
		return nil, ErrInvalidPayload(b.channelType, "missing timestamp", nil)
	}

	tenant := raw.TenantID
	if tenant == "" {
		tenant = b.defaultTenant
	}

	if b.allowedTenants != nil {
		if _, ok := b.allowedTenants[tenant]; !ok {
			return nil, ErrUnauthorized(b.channelType, fmt.Sprintf("tenant %q not allowed", tenant))
		}
	}
	if b.allowedUsers != nil {
		if _, ok := b.allowedUsers[raw.UserID]; !ok {
			return nil, ErrUnauthorized(b.channelType, fmt.Sprintf("user %q not allowed", raw.UserID))
		}
	}

	if b.inboundLimiter != nil && !b.inboundLimiter.Allow() {
		retry := int(math.Ceil(b.inboundLimiter.RetryAfter().Seconds()))
		if retry < 1 {
			retry = 1
		}
		return nil, ErrRateLimited(b.channelType, "inbound rate limit exceeded", retry)
	}

	ident, err := identity.New(tenant, raw.ChannelID, raw.ThreadID)
	if err != nil {
		return nil, ErrInvalidPayload(b.channelType, "invalid identity fields", err)
	}

	isInterrupt := strings.HasPrefix(raw.Text, "!")
	bypass, err := b.ordering.Admit(b.channelType, raw.ChannelID, raw.ThreadID, raw.Timestamp, isInterrupt)
	if err != nil {
		return nil, err
	}

	return &InboundEnvelope{
		ID: uuid.NewString(),
		Identity: identity.MessageIdentity{
			Identity:  ident,
			UserID:    raw.UserID,
			MessageID: raw.MessageID,
			Timestamp: raw.Timestamp,
		},
		Text:                   raw.Text,
		IsInterrupt:            isInterrupt,
		InterruptBypassApplied: bypass,
		Metadata:               raw.Metadata,
		ReceivedAt:             time.Now(),
	}, nil
}

// Deliver sends an already-targeted payload through the port, applying the
// outbound normalizer, skeleton rules, send pacing, and chunking. Channel
// adapters call it from DeliverOutbound after resolving the platform channel
// id and thread hint.
func (b *BaseBoundary) Deliver(ctx context.Context, payload *outbound.Payload, platformChannelID, threadHint string) (*outbound.DeliveryReceipt, error) {
	if err := payload.Validate(); err != nil {
		b.metrics.RecordDeliveryFailed()
		return nil, ErrInvalidPayload(b.channelType, "invalid outbound payload", err)
	}

	normalized := outbound.Normalize(payload)
	switch normalized.Kind {
	case outbound.KindText:
		return b.deliverText(ctx, normalized.Text.Text, platformChannelID, threadHint)
	case outbound.KindReaction:
		if !b.caps.SupportsReactions {
			b.metrics.RecordDeliveryFailed()
			return nil, ErrInvalidPayload(b.channelType, "reactions not supported", nil)
		}
		return b.deliverReaction(ctx, normalized.Reaction, platformChannelID)
	default:
		b.metrics.RecordDeliveryFailed()
		return nil, ErrInvalidPayload(b.channelType, fmt.Sprintf("undeliverable payload kind %q", normalized.Kind), nil)
	}
}

func (b *BaseBoundary) deliverText(ctx context.Context, text, platformChannelID, threadHint string) (*outbound.DeliveryReceipt, error) {
	port := b.currentPort()
	if port == nil {
		if b.skeleton {
			b.metrics.RecordDelivered()
			b.logger.Debug("skeleton delivery", "channel_id", platformChannelID, "bytes", len(text))
			return &outbound.DeliveryReceipt{
				MessageID:   "skeleton-" + uuid.NewString(),
				DeliveredAt: time.Now(),
			}, nil
		}
		b.metrics.RecordDeliveryFailed()
		return nil, ErrUnavailable(b.channelType, "no outbound port configured")
	}

	chunks := b.chunker.Chunk(text)
	if len(chunks) == 0 {
		chunks = []string{text}
	}

	var lastID string
	for _, chunk := range chunks {
		if b.sendLimiter != nil {
			if err := b.sendLimiter.Wait(ctx); err != nil {
				b.metrics.RecordDeliveryFailed()
				return nil, ErrInternal(b.channelType, "send pacing interrupted", err)
			}
		}

		start := time.Now()
		id, err := port.SendText(ctx, platformChannelID, chunk, threadHint)
		b.metrics.RecordSendLatency(time.Since(start))
		if err != nil {
			b.metrics.RecordDeliveryFailed()
			return nil, ErrInternal(b.channelType, "text send failed", err)
		}
		lastID = id
	}

	b.metrics.RecordDelivered()
	return &outbound.DeliveryReceipt{MessageID: lastID, DeliveredAt: time.Now()}, nil
}

func (b *BaseBoundary) deliverReaction(ctx context.Context, reaction *outbound.ReactionPayload, platformChannelID string) (*outbound.DeliveryReceipt, error) {
	port := b.currentPort()
	if port == nil {
		if b.skeleton {
			b.metrics.RecordDelivered()
			return &outbound.DeliveryReceipt{
				MessageID:   reaction.TargetMessageID,
				DeliveredAt: time.Now(),
			}, nil
		}
		b.metrics.RecordDeliveryFailed()
		return nil, ErrUnavailable(b.channelType, "no outbound port configured")
	}

	start := time.Now()
	err := port.SendReaction(ctx, platformChannelID, reaction.TargetMessageID, reaction.Reaction)
	b.metrics.RecordSendLatency(time.Since(start))
	if err != nil {
		b.metrics.RecordDeliveryFailed()
		return nil, ErrInternal(b.channelType, "reaction send failed", err)
	}

	b.metrics.RecordDelivered()
	return &outbound.DeliveryReceipt{MessageID: reaction.TargetMessageID, DeliveredAt: time.Now()}, nil
}

// Publish pushes an admitted envelope onto the stream.
func (b *BaseBoundary) Publish(ctx context.Context, env *InboundEnvelope) error {
	select {
	case b.envelopes <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Envelopes streams admitted envelopes.
func (b *BaseBoundary) Envelopes() <-chan *InboundEnvelope {
	return b.envelopes
}

// CloseEnvelopes closes the envelope stream. Safe to call more than once.
func (b *BaseBoundary) CloseEnvelopes() {
	b.closeOnce.Do(func() {
		close(b.envelopes)
	})
}

// Status returns the connection status.
func (b *BaseBoundary) Status() Status {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	return b.status
}

// SetStatus updates the connection status and last ping time.
func (b *BaseBoundary) SetStatus(connected bool, errMsg string) {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()
	b.status = Status{
		Connected: connected,
		Error:     errMsg,
		LastPing:  time.Now().Unix(),
	}
}

// Metrics returns a snapshot of boundary metrics.
func (b *BaseBoundary) Metrics() MetricsSnapshot {
	return b.metrics.Snapshot()
}

// RecordConnectionOpened counts an opened platform connection.
func (b *BaseBoundary) RecordConnectionOpened() {
	b.metrics.RecordConnectionOpened()
}

// RecordConnectionClosed counts a closed platform connection.
func (b *BaseBoundary) RecordConnectionClosed() {
	b.metrics.RecordConnectionClosed()
}

// RecordReconnectAttempt counts a reconnect attempt.
func (b *BaseBoundary) RecordReconnectAttempt() {
	b.metrics.RecordReconnectAttempt()
}
