package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// BotClient is the slice of the Telegram bot API the boundary uses. It
// exists so tests can substitute a fake for the real SDK client.
type BotClient interface {
	// SendMessage sends a text message to a chat.
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)

	// SetWebhook configures a webhook for receiving updates.
	SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error)

	// RegisterHandler registers a handler for a specific update type.
	RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, handler bot.HandlerFunc)

	// Start begins long polling. Blocks until the context is cancelled.
	Start(ctx context.Context)

	// StartWebhook starts the webhook server. Blocks until the context is
	// cancelled.
	StartWebhook(ctx context.Context)
}

// realBotClient wraps a *bot.Bot to implement BotClient.
type realBotClient struct {
	bot *bot.Bot
}

func newRealBotClient(b *bot.Bot) BotClient {
	return &realBotClient{bot: b}
}

func (r *realBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	return r.bot.SendMessage(ctx, params)
}

func (r *realBotClient) SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error) {
	return r.bot.SetWebhook(ctx, params)
}

func (r *realBotClient) RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, handler bot.HandlerFunc) {
	r.bot.RegisterHandler(handlerType, pattern, matchType, handler)
}

func (r *realBotClient) Start(ctx context.Context) {
	r.bot.Start(ctx)
}

func (r *realBotClient) StartWebhook(ctx context.Context) {
	r.bot.StartWebhook(ctx)
}

var errReactionsUnsupported = errors.New("telegram: reactions not supported")

// botPort adapts a BotClient to the outbound port contract. The channel id
// is the base-10 chat id; a non-empty thread hint names a forum topic.
type botPort struct {
	client BotClient
}

func (p *botPort) SendText(ctx context.Context, channelID, text, threadHint string) (string, error) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("telegram: invalid chat id %q: %w", channelID, err)
	}

	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}
	if threadHint != "" {
		topicID, err := strconv.Atoi(threadHint)
		if err != nil {
			return "", fmt.Errorf("telegram: invalid topic id %q: %w", threadHint, err)
		}
		params.MessageThreadID = topicID
	}

	sent, err := p.client.SendMessage(ctx, params)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(sent.ID), nil
}

// SendReaction is unreachable through the boundary: the capability set
// declares reactions unsupported, so the delivery path rejects them first.
func (p *botPort) SendReaction(ctx context.Context, channelID, messageID, reaction string) error {
	return errReactionsUnsupported
}
