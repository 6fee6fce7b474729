// Package slack implements the Slack channel boundary over Socket Mode.
// Events API callbacks are reduced to raw events and admitted through the
// shared pipeline; outbound text posts through chat.postMessage with thread
// targeting, and reactions through reactions.add.
//
// The boundary also runs in skeleton mode: no tokens, no socket, text
// deliveries return placeholder receipts. That mode exists for dry-run
// deployments where the runtime should behave as if Slack were wired.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/courierhq/courier/internal/channels"
	"github.com/courierhq/courier/internal/outbound"
)

// ChannelType is the canonical name of this boundary.
const ChannelType = "slack"

// channelIDPrefix namespaces Slack conversation ids in the canonical
// identity, keeping them distinct from Telegram's numeric chat ids.
const channelIDPrefix = "slack-"

// maxMessageLength is a conservative cap under Slack's 40k character limit,
// kept low so chunks stay readable in thread view.
const maxMessageLength = 4000

// Config holds Slack boundary configuration.
type Config struct {
	// BotToken is the xoxb- token for Web API calls. Required in live mode.
	BotToken string

	// AppToken is the xapp- token for Socket Mode. Required in live mode.
	AppToken string

	// AllowedTenants gates admission when non-empty.
	AllowedTenants []string

	// Skeleton runs the boundary without a Slack connection. Deliveries
	// return placeholder receipts.
	Skeleton bool

	// SendRate paces outbound sends in messages per second. Slack allows
	// roughly one chat.postMessage per second per channel.
	SendRate  float64
	SendBurst int

	// InboundRate caps admitted inbound events per second. Zero disables
	// inbound rate limiting.
	InboundRate  float64
	InboundBurst int

	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if !c.Skeleton {
		if c.BotToken == "" {
			return errors.New("slack: bot token is required")
		}
		if c.AppToken == "" {
			return errors.New("slack: app token is required")
		}
	}

	if c.SendRate == 0 {
		c.SendRate = 1
	}
	if c.SendBurst == 0 {
		c.SendBurst = 5
	}

	return nil
}

// Boundary is the Slack channel boundary.
type Boundary struct {
	*channels.BaseBoundary

	config Config
	api    APIClient
	socket SocketClient

	cancel context.CancelFunc
	wg     sync.WaitGroup

	botUserID   string
	botUserIDMu sync.RWMutex
}

// Option configures the boundary.
type Option func(*Boundary)

// WithClients injects API and socket clients instead of dialing Slack. Used
// by tests.
func WithClients(api APIClient, socket SocketClient) Option {
	return func(b *Boundary) {
		b.api = api
		b.socket = socket
	}
}

// New creates a Slack boundary.
func New(cfg Config, opts ...Option) (*Boundary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Boundary{
		BaseBoundary: channels.NewBaseBoundary(channels.BaseConfig{
			ChannelType: ChannelType,
			Capabilities: channels.Capabilities{
				SupportsThreads:        true,
				SupportsReactions:      true,
				SupportsChoiceKeyboard: true,
				MaxMessageLength:       maxMessageLength,
			},
			AllowedTenants: cfg.AllowedTenants,
			InboundRate:    cfg.InboundRate,
			InboundBurst:   cfg.InboundBurst,
			SendRate:       cfg.SendRate,
			SendBurst:      cfg.SendBurst,
			Skeleton:       cfg.Skeleton,
			Logger:         cfg.Logger,
		}),
		config: cfg,
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.api != nil && !cfg.Skeleton {
		b.SetPort(&slackPort{api: b.api})
	}

	return b, nil
}

// Owns reports whether a canonical channel id belongs to Slack.
func (b *Boundary) Owns(channelID string) bool {
	return strings.HasPrefix(channelID, channelIDPrefix)
}

// Start connects Socket Mode and begins receiving events. In skeleton mode
// there is nothing to connect; the boundary just reports itself up.
func (b *Boundary) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	if b.config.Skeleton {
		b.Logger().Info("starting slack boundary in skeleton mode")
		b.SetStatus(true, "")
		return nil
	}

	b.Logger().Info("starting slack boundary")

	if b.api == nil {
		client := slack.New(b.config.BotToken, slack.OptionAppLevelToken(b.config.AppToken))
		socketClient := socketmode.New(client, socketmode.OptionDebug(false))
		b.api = client
		b.socket = newRealSocketClient(socketClient)
	}

	authResp, err := b.api.AuthTestContext(ctx)
	if err != nil {
		b.SetStatus(false, fmt.Sprintf("auth failed: %v", err))
		return channels.ErrUnavailable(ChannelType, fmt.Sprintf("failed to authenticate: %v", err))
	}
	b.botUserIDMu.Lock()
	b.botUserID = authResp.UserID
	b.botUserIDMu.Unlock()

	b.SetPort(&slackPort{api: b.api})
	b.RecordConnectionOpened()

	b.wg.Add(1)
	go b.handleEvents(ctx)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.socket.Run(); err != nil {
			b.SetStatus(false, fmt.Sprintf("socket mode error: %v", err))
			b.Logger().Error("socket mode error", "error", err)
		}
	}()

	b.SetStatus(true, "")
	b.Logger().Info("slack boundary started", "bot_user_id", authResp.UserID)
	return nil
}

// Stop shuts the boundary down.
func (b *Boundary) Stop(ctx context.Context) error {
	b.Logger().Info("stopping slack boundary")

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
		b.CloseEnvelopes()
		if !b.config.Skeleton {
			b.RecordConnectionClosed()
		}
		b.SetStatus(false, "")
		return nil
	case <-ctx.Done():
		return channels.ErrInternal(ChannelType, "stop timeout", ctx.Err())
	}
}

// handleEvents processes incoming Socket Mode events.
func (b *Boundary) handleEvents(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-b.socket.Events():
			if !ok {
				return
			}

			switch event.Type {
			case socketmode.EventTypeConnecting:
				b.Logger().Debug("connecting to socket mode")

			case socketmode.EventTypeConnectionError:
				b.Logger().Warn("socket mode connection error", "data", event.Data)
				b.SetStatus(false, "connection error")
				b.RecordReconnectAttempt()

			case socketmode.EventTypeConnected:
				b.Logger().Info("connected to socket mode")
				b.SetStatus(true, "")

			case socketmode.EventTypeEventsAPI:
				b.handleEventsAPI(ctx, event)

			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				if event.Request != nil {
					b.socket.Ack(*event.Request)
				}
			}
		}
	}
}

// handleEventsAPI processes Events API callbacks.
func (b *Boundary) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		b.Logger().Warn("unexpected events api payload", "data", event.Data)
		if event.Request != nil {
			b.socket.Ack(*event.Request)
		}
		return
	}

	if event.Request != nil {
		b.socket.Ack(*event.Request)
	}

	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		b.handleMessage(ctx, &slackevents.MessageEvent{
			Type:            "message",
			User:            ev.User,
			Text:            ev.Text,
			Channel:         ev.Channel,
			TimeStamp:       ev.TimeStamp,
			ThreadTimeStamp: ev.ThreadTimeStamp,
		})

	case *slackevents.MessageEvent:
		if ev.BotID != "" {
			return
		}
		if ev.SubType != "" {
			return
		}
		b.handleMessage(ctx, ev)
	}
}

// handleMessage reduces a message event to a raw event and admits it. Only
// DMs, mentions, and thread replies are processed.
func (b *Boundary) handleMessage(ctx context.Context, event *slackevents.MessageEvent) {
	b.botUserIDMu.RLock()
	botUserID := b.botUserID
	b.botUserIDMu.RUnlock()

	isDM := strings.HasPrefix(event.Channel, "D")
	isMention := botUserID != "" && strings.Contains(event.Text, "<@"+botUserID+">")

	if !isDM && !isMention && event.ThreadTimeStamp == "" {
		return
	}

	env, err := b.NormalizeInbound(rawEventFromMessage(event))
	if err != nil {
		return
	}

	if err := b.Publish(ctx, env); err != nil {
		b.Logger().Warn("dropping admitted envelope", "error", err, "channel", event.Channel)
	}
}

// rawEventFromMessage maps a Slack message event onto canonical raw event
// fields. Conversation ids get the slack- prefix; a message outside a thread
// lands on the main thread.
func rawEventFromMessage(event *slackevents.MessageEvent) channels.RawEvent {
	threadID := channels.MainThread
	if event.ThreadTimeStamp != "" {
		threadID = event.ThreadTimeStamp
	}

	var ts int64
	if parsed, err := parseSlackTimestamp(event.TimeStamp); err == nil {
		ts = parsed.UnixMilli()
	}

	return channels.RawEvent{
		ChannelID: channelIDPrefix + event.Channel,
		ThreadID:  threadID,
		UserID:    event.User,
		MessageID: event.TimeStamp,
		Text:      stripMentions(event.Text),
		Timestamp: ts,
		Metadata: map[string]any{
			"slack_channel":   event.Channel,
			"slack_ts":        event.TimeStamp,
			"slack_thread_ts": event.ThreadTimeStamp,
		},
	}
}

// DeliverOutbound sends a payload to the conversation named by the route.
// The thread id doubles as the thread timestamp hint; the main thread posts
// to the conversation root.
func (b *Boundary) DeliverOutbound(ctx context.Context, payload *outbound.Payload) (*outbound.DeliveryReceipt, error) {
	channelID := strings.TrimPrefix(payload.Route.Identity.Channel, channelIDPrefix)
	threadHint := payload.Route.Identity.Thread
	if threadHint == channels.MainThread {
		threadHint = ""
	}
	return b.Deliver(ctx, payload, channelID, threadHint)
}

// stripMentions removes <@USERID> mention tags from message text.
func stripMentions(text string) string {
	for {
		start := strings.Index(text, "<@")
		if start == -1 {
			break
		}
		end := strings.Index(text[start:], ">")
		if end == -1 {
			break
		}
		text = text[:start] + text[start+end+1:]
	}
	return strings.TrimSpace(text)
}

// parseSlackTimestamp converts a Slack "1234567890.123456" timestamp to
// time.Time.
func parseSlackTimestamp(ts string) (time.Time, error) {
	parts := strings.Split(ts, ".")
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("invalid timestamp format: %s", ts)
	}

	var sec, usec int64
	if _, err := fmt.Sscanf(ts, "%d.%d", &sec, &usec); err != nil {
		return time.Time{}, err
	}

	return time.Unix(sec, usec*1000), nil
}
