// Package discord implements the Discord channel boundary over the discordgo
// gateway. Message-create events are reduced to raw events and admitted
// through the shared pipeline; outbound text goes through the channel message
// API and reactions through the reaction API. Like Slack, the boundary can
// run in skeleton mode for dry-run deployments.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/courierhq/courier/internal/channels"
	"github.com/courierhq/courier/internal/outbound"
)

// ChannelType is the canonical name of this boundary.
const ChannelType = "discord"

// channelIDPrefix namespaces Discord channel ids in the canonical identity.
const channelIDPrefix = "discord-"

// maxMessageLength is Discord's hard cap on message content.
const maxMessageLength = 2000

// discordSession is the slice of the discordgo session the boundary uses.
// It exists so tests can substitute a fake for the real gateway session.
type discordSession interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emoji string, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// Config holds Discord boundary configuration.
type Config struct {
	// Token is the bot token from the Discord developer portal. Required in
	// live mode.
	Token string

	// Skeleton runs the boundary without a Discord connection. Deliveries
	// return placeholder receipts.
	Skeleton bool

	// MaxReconnectAttempts bounds connection attempts before giving up.
	MaxReconnectAttempts int

	// ReconnectBackoff caps the exponential backoff between attempts.
	ReconnectBackoff time.Duration

	// SendRate paces outbound sends in messages per second.
	SendRate  float64
	SendBurst int

	// InboundRate caps admitted inbound events per second. Zero disables
	// inbound rate limiting.
	InboundRate  float64
	InboundBurst int

	// AllowedUsers gates admission when non-empty.
	AllowedUsers []string

	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if !c.Skeleton && c.Token == "" {
		return errors.New("discord: token is required")
	}

	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}

	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = 60 * time.Second
	}

	if c.SendRate == 0 {
		c.SendRate = 5
	}

	if c.SendBurst == 0 {
		c.SendBurst = 10
	}

	return nil
}

// Boundary is the Discord channel boundary.
type Boundary struct {
	*channels.BaseBoundary

	config  Config
	session discordSession

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnectCount int
	reconnectMu    sync.Mutex
}

// Option configures the boundary.
type Option func(*Boundary)

// WithSession injects a session instead of dialing Discord. Used by tests.
func WithSession(session discordSession) Option {
	return func(b *Boundary) {
		b.session = session
	}
}

// New creates a Discord boundary.
func New(cfg Config, opts ...Option) (*Boundary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Boundary{
		BaseBoundary: channels.NewBaseBoundary(channels.BaseConfig{
			ChannelType: ChannelType,
			Capabilities: channels.Capabilities{
				SupportsThreads:   true,
				SupportsReactions: true,
				MaxMessageLength:  maxMessageLength,
			},
			AllowedUsers: cfg.AllowedUsers,
			InboundRate:  cfg.InboundRate,
			InboundBurst: cfg.InboundBurst,
			SendRate:     cfg.SendRate,
			SendBurst:    cfg.SendBurst,
			Skeleton:     cfg.Skeleton,
			Logger:       cfg.Logger,
		}),
		config: cfg,
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.session != nil && !cfg.Skeleton {
		b.SetPort(&sessionPort{session: b.session})
	}

	return b, nil
}

// Owns reports whether a canonical channel id belongs to Discord.
func (b *Boundary) Owns(channelID string) bool {
	return strings.HasPrefix(channelID, channelIDPrefix)
}

// Start opens the gateway connection and begins receiving events. In
// skeleton mode there is nothing to open.
func (b *Boundary) Start(ctx context.Context) error {
	b.runCtx, b.cancel = context.WithCancel(ctx)

	if b.config.Skeleton {
		b.Logger().Info("starting discord boundary in skeleton mode")
		b.SetStatus(true, "")
		return nil
	}

	b.Logger().Info("starting discord boundary")

	if b.session == nil {
		session, err := discordgo.New("Bot " + b.config.Token)
		if err != nil {
			return channels.ErrUnavailable(ChannelType, fmt.Sprintf("failed to create session: %v", err))
		}
		b.session = session
	}

	b.session.AddHandler(b.handleMessageCreate)
	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(b.handleDisconnect)

	if err := b.connectWithRetry(b.runCtx); err != nil {
		return channels.ErrUnavailable(ChannelType, fmt.Sprintf("failed to connect: %v", err))
	}

	b.SetPort(&sessionPort{session: b.session})
	b.SetStatus(true, "")
	b.RecordConnectionOpened()

	b.Logger().Info("discord boundary started")
	return nil
}

// Stop shuts the boundary down and closes the gateway session.
func (b *Boundary) Stop(ctx context.Context) error {
	b.Logger().Info("stopping discord boundary")

	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.Logger().Warn("stop timeout, forcing shutdown")
	}

	if !b.config.Skeleton && b.session != nil {
		if err := b.session.Close(); err != nil {
			b.SetStatus(false, err.Error())
			return channels.ErrInternal(ChannelType, "failed to close session", err)
		}
		b.RecordConnectionClosed()
	}

	b.CloseEnvelopes()
	b.SetStatus(false, "")
	b.Logger().Info("discord boundary stopped gracefully")
	return nil
}

func (b *Boundary) connectWithRetry(ctx context.Context) error {
	var err error
	maxAttempts := b.config.MaxReconnectAttempts

	for attempt := 0; attempt < maxAttempts; attempt++ {
		b.Logger().Info("connecting to discord",
			"attempt", attempt+1,
			"max_attempts", maxAttempts)

		err = b.session.Open()
		if err == nil {
			return nil
		}

		b.RecordReconnectAttempt()

		backoff := calculateBackoff(attempt, b.config.ReconnectBackoff)
		b.Logger().Warn("connection failed, retrying",
			"error", err,
			"attempt", attempt+1,
			"backoff_ms", backoff.Milliseconds())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, err)
}

// handleMessageCreate reduces a gateway message event to a raw event and
// admits it. Bot authors are ignored.
func (b *Boundary) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	env, err := b.NormalizeInbound(rawEventFromMessage(m.Message))
	if err != nil {
		return
	}

	if err := b.Publish(b.runCtx, env); err != nil {
		b.Logger().Warn("dropping admitted envelope", "error", err, "channel_id", m.ChannelID)
	}
}

func (b *Boundary) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.reconnectMu.Lock()
	b.reconnectCount = 0
	b.reconnectMu.Unlock()

	b.SetStatus(true, "")
	b.Logger().Info("discord connection ready",
		"user", r.User.Username,
		"guilds", len(r.Guilds))
}

func (b *Boundary) handleDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	b.SetStatus(false, "disconnected from discord")
	b.Logger().Warn("disconnected from discord")

	b.wg.Add(1)
	go b.reconnect()
}

func (b *Boundary) reconnect() {
	defer b.wg.Done()

	if b.runCtx.Err() != nil {
		return
	}

	b.reconnectMu.Lock()
	b.reconnectCount++
	attempt := b.reconnectCount
	b.reconnectMu.Unlock()

	maxAttempts := b.config.MaxReconnectAttempts
	if maxAttempts > 0 && attempt > maxAttempts {
		b.Logger().Error("max reconnection attempts reached", "attempts", attempt-1)
		b.SetStatus(false, fmt.Sprintf("max reconnection attempts (%d) reached", maxAttempts))
		return
	}

	b.RecordReconnectAttempt()
	b.Logger().Info("attempting reconnection", "attempt", attempt, "max", maxAttempts)

	backoff := calculateBackoff(attempt, b.config.ReconnectBackoff)
	select {
	case <-b.runCtx.Done():
		return
	case <-time.After(backoff):
	}

	if err := b.session.Open(); err != nil {
		b.SetStatus(false, fmt.Sprintf("reconnection attempt %d failed: %v", attempt, err))
		b.Logger().Error("reconnection failed", "error", err, "attempt", attempt)
		return
	}

	b.reconnectMu.Lock()
	b.reconnectCount = 0
	b.reconnectMu.Unlock()
	b.SetStatus(true, "")
	b.Logger().Info("reconnection successful")
}

// rawEventFromMessage maps a Discord message onto canonical raw event
// fields. Channel ids get the discord- prefix. A message that spawned a
// thread carries the thread id; everything else lands on the main thread. A
// message posted inside a thread channel is its own conversation, because
// the gateway event does not carry the parent channel.
func rawEventFromMessage(m *discordgo.Message) channels.RawEvent {
	threadID := channels.MainThread
	if m.Thread != nil {
		threadID = m.Thread.ID
	}

	userID := ""
	username := ""
	if m.Author != nil {
		userID = m.Author.ID
		username = m.Author.Username
	}

	var ts int64
	if !m.Timestamp.IsZero() {
		ts = m.Timestamp.UnixMilli()
	}

	return channels.RawEvent{
		ChannelID: channelIDPrefix + m.ChannelID,
		ThreadID:  threadID,
		UserID:    userID,
		MessageID: m.ID,
		Text:      m.Content,
		Timestamp: ts,
		Metadata: map[string]any{
			"discord_channel_id": m.ChannelID,
			"discord_guild_id":   m.GuildID,
			"discord_username":   username,
		},
	}
}

// DeliverOutbound sends a payload to the channel named by the route. A
// non-main thread id targets the thread's channel directly.
func (b *Boundary) DeliverOutbound(ctx context.Context, payload *outbound.Payload) (*outbound.DeliveryReceipt, error) {
	channelID := strings.TrimPrefix(payload.Route.Identity.Channel, channelIDPrefix)
	threadHint := payload.Route.Identity.Thread
	if threadHint == channels.MainThread {
		threadHint = ""
	}
	return b.Deliver(ctx, payload, channelID, threadHint)
}

// sessionPort adapts a discordSession to the outbound port contract. Thread
// replies post to the thread's channel id.
type sessionPort struct {
	session discordSession
}

func (p *sessionPort) SendText(ctx context.Context, channelID, text, threadHint string) (string, error) {
	target := channelID
	if threadHint != "" {
		target = threadHint
	}

	sent, err := p.session.ChannelMessageSend(target, text)
	if err != nil {
		return "", err
	}
	return sent.ID, nil
}

func (p *sessionPort) SendReaction(ctx context.Context, channelID, messageID, reaction string) error {
	return p.session.MessageReactionAdd(channelID, messageID, reaction)
}

func calculateBackoff(attempt int, maxWait time.Duration) time.Duration {
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > maxWait {
		backoff = maxWait
	}
	return backoff
}
