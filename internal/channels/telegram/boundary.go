// Package telegram implements the Telegram channel boundary on top of the
// go-telegram bot SDK. Inbound updates arrive over long polling or a webhook,
// are reduced to raw events, and run through the shared admission pipeline.
// Outbound text goes through the bot's sendMessage, targeting forum topics
// when the thread id names one.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/courierhq/courier/internal/channels"
	"github.com/courierhq/courier/internal/outbound"
)

// ChannelType is the canonical name of this boundary.
const ChannelType = "telegram"

// generalTopicID is Telegram's implicit forum topic for the chat root. It
// maps to the canonical main thread.
const generalTopicID = 1

// maxMessageLength is Telegram's hard cap on message text.
const maxMessageLength = 4096

// Mode selects how updates are received.
type Mode string

const (
	// ModeLongPolling pulls updates from Telegram. The default.
	ModeLongPolling Mode = "long_polling"

	// ModeWebhook receives updates on an HTTPS endpoint.
	ModeWebhook Mode = "webhook"
)

// Config holds Telegram boundary configuration.
type Config struct {
	// Token is the bot token from @BotFather. Required.
	Token string

	// Mode determines whether to use long polling or a webhook.
	Mode Mode

	// WebhookURL is the HTTPS URL for webhook mode.
	WebhookURL string

	// MaxReconnectAttempts bounds reconnection before the boundary gives up.
	MaxReconnectAttempts int

	// ReconnectDelay is the pause between reconnection attempts.
	ReconnectDelay time.Duration

	// SendRate paces outbound sends in messages per second. Telegram's
	// documented limit is about 30.
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
	if c.Token == "" {
		return errors.New("telegram: token is required")
	}

	if c.Mode == "" {
		c.Mode = ModeLongPolling
	}

	if c.Mode == ModeWebhook && c.WebhookURL == "" {
		return errors.New("telegram: webhook_url is required for webhook mode")
	}

	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}

	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}

	if c.SendRate == 0 {
		c.SendRate = 30
	}

	if c.SendBurst == 0 {
		c.SendBurst = 20
	}

	return nil
}

// Boundary is the Telegram channel boundary.
type Boundary struct {
	*channels.BaseBoundary

	config Config
	client BotClient

	cancel context.CancelFunc
	wg     sync.WaitGroup

	degraded   bool
	degradedMu sync.RWMutex
}

// Option configures the boundary.
type Option func(*Boundary)

// WithBotClient injects a bot client instead of dialing Telegram. Used by
// tests.
func WithBotClient(client BotClient) Option {
	return func(b *Boundary) {
		b.client = client
	}
}

// New creates a Telegram boundary. The bot connection is established on
// Start; until then outbound deliveries fail with CHANNEL_UNAVAILABLE.
func New(cfg Config, opts ...Option) (*Boundary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Boundary{
		BaseBoundary: channels.NewBaseBoundary(channels.BaseConfig{
			ChannelType: ChannelType,
			Capabilities: channels.Capabilities{
				SupportsThreads:        true,
				SupportsReactions:      false,
				SupportsChoiceKeyboard: true,
				MaxMessageLength:       maxMessageLength,
			},
			AllowedUsers: cfg.AllowedUsers,
			InboundRate:  cfg.InboundRate,
			InboundBurst: cfg.InboundBurst,
			SendRate:     cfg.SendRate,
			SendBurst:    cfg.SendBurst,
			Logger:       cfg.Logger,
		}),
		config: cfg,
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.client != nil {
		b.SetPort(&botPort{client: b.client})
	}

	return b, nil
}

// Owns reports whether a canonical channel id belongs to Telegram. Telegram
// chat ids are plain base-10 integers, negative for groups.
func (b *Boundary) Owns(channelID string) bool {
	if channelID == "" {
		return false
	}
	_, err := strconv.ParseInt(channelID, 10, 64)
	return err == nil
}

// Start connects the bot and begins receiving updates.
func (b *Boundary) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	b.Logger().Info("starting telegram boundary", "mode", b.config.Mode)

	if b.client == nil {
		tgBot, err := bot.New(b.config.Token)
		if err != nil {
			b.SetStatus(false, fmt.Sprintf("failed to create bot: %v", err))
			return channels.ErrUnavailable(ChannelType, fmt.Sprintf("failed to create bot: %v", err))
		}
		b.client = newRealBotClient(tgBot)
	}

	b.SetPort(&botPort{client: b.client})
	b.RecordConnectionOpened()

	b.wg.Add(1)
	go b.runWithReconnection(ctx)

	b.Logger().Info("telegram boundary started")
	return nil
}

// runWithReconnection drives the update loop, reconnecting on failure until
// the attempt budget runs out.
func (b *Boundary) runWithReconnection(ctx context.Context) {
	defer b.wg.Done()
	defer b.CloseEnvelopes()

	attempts := 0
	maxAttempts := b.config.MaxReconnectAttempts

	for {
		select {
		case <-ctx.Done():
			b.SetStatus(false, "")
			b.Logger().Info("telegram boundary stopped")
			return
		default:
		}

		if err := b.run(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				b.SetStatus(false, "")
				return
			}

			attempts++
			b.RecordReconnectAttempt()

			b.SetStatus(false, fmt.Sprintf("bot error (attempt %d/%d)", attempts, maxAttempts))
			b.Logger().Error("telegram bot error",
				"error", err,
				"attempt", attempts,
				"max_attempts", maxAttempts)

			if attempts >= maxAttempts {
				b.Logger().Error("max reconnection attempts reached, stopping boundary")
				return
			}

			b.setDegraded(true)

			select {
			case <-ctx.Done():
				b.SetStatus(false, "")
				return
			case <-time.After(b.config.ReconnectDelay):
				b.Logger().Info("attempting to reconnect")
			}
			continue
		}

		b.setDegraded(false)
		b.SetStatus(false, "")
		return
	}
}

func (b *Boundary) run(ctx context.Context) error {
	b.SetStatus(true, "")

	if b.config.Mode == ModeWebhook {
		return b.runWebhook(ctx)
	}
	return b.runLongPolling(ctx)
}

func (b *Boundary) runLongPolling(ctx context.Context) error {
	b.Logger().Info("starting long polling")

	b.client.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, b.handleUpdate)
	b.client.Start(ctx)

	return nil
}

func (b *Boundary) runWebhook(ctx context.Context) error {
	b.Logger().Info("starting webhook mode", "url", b.config.WebhookURL)

	_, err := b.client.SetWebhook(ctx, &bot.SetWebhookParams{
		URL: b.config.WebhookURL,
	})
	if err != nil {
		return channels.ErrUnavailable(ChannelType, fmt.Sprintf("failed to set webhook: %v", err))
	}

	b.client.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, b.handleUpdate)
	go b.client.StartWebhook(ctx)

	<-ctx.Done()
	return nil
}

// handleUpdate reduces a Telegram update to a raw event and admits it.
// Rejections are logged and counted by the pipeline; they never stop the
// update loop.
func (b *Boundary) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	raw := rawEventFromMessage(update.Message)
	env, err := b.NormalizeInbound(raw)
	if err != nil {
		return
	}

	if err := b.Publish(ctx, env); err != nil {
		b.Logger().Warn("dropping admitted envelope", "error", err, "chat_id", raw.ChannelID)
	}
}

// rawEventFromMessage maps a Telegram message onto canonical raw event
// fields. Chat and user ids render base-10; forum topics become thread ids,
// with the general topic and plain chats both mapping to the main thread.
func rawEventFromMessage(msg *models.Message) channels.RawEvent {
	threadID := channels.MainThread
	if msg.IsTopicMessage && msg.MessageThreadID > generalTopicID {
		threadID = strconv.Itoa(msg.MessageThreadID)
	}

	userID := ""
	username := ""
	if msg.From != nil {
		userID = strconv.FormatInt(msg.From.ID, 10)
		username = msg.From.Username
	}

	return channels.RawEvent{
		ChannelID: strconv.FormatInt(msg.Chat.ID, 10),
		ThreadID:  threadID,
		UserID:    userID,
		MessageID: strconv.Itoa(msg.ID),
		Text:      msg.Text,
		Timestamp: int64(msg.Date) * 1000,
		Metadata: map[string]any{
			"chat_id":  msg.Chat.ID,
			"username": username,
		},
	}
}

// DeliverOutbound sends a payload to the chat named by the route. The thread
// id doubles as the forum topic hint; the main thread targets the chat root.
func (b *Boundary) DeliverOutbound(ctx context.Context, payload *outbound.Payload) (*outbound.DeliveryReceipt, error) {
	channelID := payload.Route.Identity.Channel
	threadHint := payload.Route.Identity.Thread
	if threadHint == channels.MainThread {
		threadHint = ""
	}
	return b.Deliver(ctx, payload, channelID, threadHint)
}

// Stop shuts the boundary down, waiting for the update loop to drain.
func (b *Boundary) Stop(ctx context.Context) error {
	b.Logger().Info("stopping telegram boundary")

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
		b.RecordConnectionClosed()
		b.Logger().Info("telegram boundary stopped gracefully")
		return nil
	case <-ctx.Done():
		return channels.ErrInternal(ChannelType, "stop timeout", ctx.Err())
	}
}

func (b *Boundary) setDegraded(degraded bool) {
	b.degradedMu.Lock()
	defer b.degradedMu.Unlock()
	b.degraded = degraded
}

// Degraded reports whether the boundary is running between reconnect
// attempts.
func (b *Boundary) Degraded() bool {
	b.degradedMu.RLock()
	defer b.degradedMu.RUnlock()
	return b.degraded
}
