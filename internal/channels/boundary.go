// Package channels implements the channel boundary: the layer that turns
// heterogeneous platform events into one inbound envelope and delivers
// normalized outbound payloads back. Every boundary enforces the same
// admission pipeline, in order: payload completeness, authorization, inbound
// rate limiting, and timestamp-monotonic ordering with an interrupt bypass.
package channels

import (
	"context"

	"github.com/courierhq/courier/internal/outbound"
)

// Capabilities describes what a channel platform supports.
type Capabilities struct {
	// SupportsThreads indicates the platform has addressable threads.
	SupportsThreads bool `json:"supportsThreads"`

	// SupportsReactions indicates reaction payloads can be delivered.
	SupportsReactions bool `json:"supportsReactions"`

	// SupportsChoiceKeyboard indicates the platform can render native choice
	// prompts. Boundaries without it receive choices as numbered text.
	SupportsChoiceKeyboard bool `json:"supportsChoiceKeyboard"`

	// MaxMessageLength caps outbound text length; longer messages are split
	// into chunks. Zero means no platform limit.
	MaxMessageLength int `json:"maxMessageLength,omitempty"`
}

// Status is the connection state of a boundary.
type Status struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	LastPing  int64  `json:"last_ping,omitempty"` // Unix timestamp
}

// OutboundPort is the minimal channel-specific send surface. Each boundary
// wires one against its platform SDK; tests substitute recorders.
type OutboundPort interface {
	// SendText delivers text to a platform conversation and returns the
	// platform-assigned message id. threadHint targets a thread when the
	// platform supports one; empty means the conversation root.
	SendText(ctx context.Context, channelID, text, threadHint string) (string, error)

	// SendReaction attaches a reaction to an existing message.
	SendReaction(ctx context.Context, channelID, messageID, reaction string) error
}

// Boundary is the contract every channel implements.
type Boundary interface {
	// ChannelType names the platform (telegram, slack, discord, scheduler).
	ChannelType() string

	// Capabilities reports what the platform supports.
	Capabilities() Capabilities

	// Owns reports whether a canonical channel id belongs to this boundary.
	// The registry uses it to route outbound payloads.
	Owns(channelID string) bool

	// NormalizeInbound runs the admission pipeline on a raw platform event.
	// It is synchronous; an error means the event was rejected.
	NormalizeInbound(raw RawEvent) (*InboundEnvelope, error)

	// DeliverOutbound sends a payload through the platform.
	DeliverOutbound(ctx context.Context, payload *outbound.Payload) (*outbound.DeliveryReceipt, error)

	// Start begins listening for platform events.
	Start(ctx context.Context) error

	// Stop shuts the boundary down and closes the envelope stream.
	Stop(ctx context.Context) error

	// Envelopes streams admitted inbound envelopes. Closed on Stop.
	Envelopes() <-chan *InboundEnvelope

	// Status reports connection state.
	Status() Status

	// Metrics returns a snapshot of boundary metrics.
	Metrics() MetricsSnapshot
}
