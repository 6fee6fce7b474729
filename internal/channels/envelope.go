package channels

import (
	"time"

	"github.com/courierhq/courier/internal/identity"
)

// RawEvent is a platform message already reduced to canonical fields. Each
// boundary builds one from its SDK's update type before running the shared
// normalization pipeline.
type RawEvent struct {
	// TenantID scopes the event. Empty means the boundary's default tenant.
	TenantID string

	// ChannelID is the platform conversation id in canonical form, for
	// example "100" for a Telegram chat or "slack-C024BE91L" for Slack.
	ChannelID string

	// ThreadID is the canonical thread id. Boundaries map their platform's
	// no-thread case to "main" before normalization.
	ThreadID string

	// UserID identifies the sender.
	UserID string

	// MessageID identifies the message on the platform.
	MessageID string

	// Text is the message body.
	Text string

	// Timestamp is the platform timestamp in unix milliseconds.
	Timestamp int64

	// Metadata carries channel-specific fields the runtime treats as opaque.
	Metadata map[string]any
}

// InboundEnvelope is the common envelope every admitted inbound event is
// normalized into.
type InboundEnvelope struct {
	// ID uniquely identifies the envelope within this process.
	ID string `json:"id"`

	// Identity is the derived message identity.
	Identity identity.MessageIdentity `json:"identity"`

	// Text is the message body, unmodified.
	Text string `json:"text"`

	// IsInterrupt marks messages whose text begins with "!".
	IsInterrupt bool `json:"isInterrupt,omitempty"`

	// InterruptBypassApplied marks interrupt messages admitted past the
	// ordering guard despite an older timestamp.
	InterruptBypassApplied bool `json:"interruptBypassApplied,omitempty"`

	// Metadata carries channel-specific fields the runtime treats as opaque.
	Metadata map[string]any `json:"metadata,omitempty"`

	// ReceivedAt is when the boundary admitted the event.
	ReceivedAt time.Time `json:"receivedAt"`
}
