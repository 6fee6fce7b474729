package slack

import (
	"context"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// APIClient is the slice of the Slack Web API the boundary uses. It exists
// so tests can substitute a fake for the real client.
type APIClient interface {
	// AuthTestContext verifies the bot token and returns the bot identity.
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)

	// PostMessageContext posts a message and returns (channel, timestamp).
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)

	// AddReactionContext attaches an emoji reaction to a message.
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
}

var _ APIClient = (*slack.Client)(nil)

// SocketClient is the slice of the Socket Mode client the boundary uses.
type SocketClient interface {
	// Run drives the Socket Mode connection. Blocks until it fails or the
	// client's context ends.
	Run() error

	// Ack acknowledges a Socket Mode request.
	Ack(req socketmode.Request, payload ...interface{})

	// Events streams Socket Mode events.
	Events() <-chan socketmode.Event
}

// realSocketClient wraps a *socketmode.Client, exposing its events channel
// behind the SocketClient interface.
type realSocketClient struct {
	client *socketmode.Client
}

func newRealSocketClient(client *socketmode.Client) SocketClient {
	return &realSocketClient{client: client}
}

func (r *realSocketClient) Run() error {
	return r.client.Run()
}

func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

func (r *realSocketClient) Events() <-chan socketmode.Event {
	return r.client.Events
}

// slackPort adapts an APIClient to the outbound port contract. The channel
// id is the bare Slack conversation id; a non-empty thread hint is the
// thread timestamp to reply under.
type slackPort struct {
	api APIClient
}

func (p *slackPort) SendText(ctx context.Context, channelID, text, threadHint string) (string, error) {
	options := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadHint != "" {
		options = append(options, slack.MsgOptionTS(threadHint))
	}

	_, timestamp, err := p.api.PostMessageContext(ctx, channelID, options...)
	if err != nil {
		return "", err
	}
	return timestamp, nil
}

func (p *slackPort) SendReaction(ctx context.Context, channelID, messageID, reaction string) error {
	return p.api.AddReactionContext(ctx, reaction, slack.ItemRef{
		Channel:   channelID,
		Timestamp: messageID,
	})
}
