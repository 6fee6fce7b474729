// Package identity defines the canonical session identity shared by every
// runtime boundary.
//
// An identity is the triple (tenant, channel, thread). Two derived string
// forms exist: the session key "tenant:channel:thread" used for in-memory
// routing, and the storage partition key "tenant/channel/thread" used for
// on-disk layout. Both derivations are bijective with the validated triple,
// so a key can always be parsed back into the identity that produced it.
package identity

import "strings"

// Separator characters are reserved so the derived key forms stay parseable.
const (
	sessionKeySeparator = ":"
	partitionSeparator  = "/"
)

// Identity is the canonical (tenant, channel, thread) triple. Values are
// immutable after construction; compare with ==.
type Identity struct {
	Tenant  string
	Channel string
	Thread  string
}

// MessageIdentity extends Identity with the per-message fields boundaries
// attach during inbound normalization.
type MessageIdentity struct {
	Identity

	// UserID is the platform-level author of the message.
	UserID string

	// MessageID is the platform-level message identifier.
	MessageID string

	// Timestamp is the message time in Unix milliseconds.
	Timestamp int64
}

// New validates the triple and returns an Identity. Each field is trimmed of
// surrounding whitespace, must be non-empty afterwards, and must not contain
// ':', '/', or '\'.
func New(tenant, channel, thread string) (Identity, error) {
	t, err := validateField("tenant", tenant)
	if err != nil {
		return Identity{}, err
	}
	c, err := validateField("channel", channel)
	if err != nil {
		return Identity{}, err
	}
	th, err := validateField("thread", thread)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Tenant: t, Channel: c, Thread: th}, nil
}

func validateField(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", errEmpty(name)
	}
	for _, sep := range []rune{':', '/', '\\'} {
		if strings.ContainsRune(trimmed, sep) {
			return "", errSeparator(name, sep)
		}
	}
	return trimmed, nil
}

// SessionKey derives the routing key "tenant:channel:thread".
func (id Identity) SessionKey() string {
	return id.Tenant + sessionKeySeparator + id.Channel + sessionKeySeparator + id.Thread
}

// PartitionKey derives the storage key "tenant/channel/thread".
func (id Identity) PartitionKey() string {
	return id.Tenant + partitionSeparator + id.Channel + partitionSeparator + id.Thread
}

// ParseSessionKey parses a "tenant:channel:thread" key back into an Identity.
// The key must have exactly three non-empty segments; segments are then
// validated the same way New validates them.
func ParseSessionKey(key string) (Identity, error) {
	parts, ok := splitKey(key, sessionKeySeparator)
	if !ok {
		return Identity{}, &Error{
			Code:    ErrCodeSessionKeyFormat,
			Field:   "sessionKey",
			Message: "expected tenant:channel:thread",
		}
	}
	return New(parts[0], parts[1], parts[2])
}

// ParsePartitionKey parses a "tenant/channel/thread" key back into an Identity.
func ParsePartitionKey(key string) (Identity, error) {
	parts, ok := splitKey(key, partitionSeparator)
	if !ok {
		return Identity{}, &Error{
			Code:    ErrCodePartitionFormat,
			Field:   "partitionKey",
			Message: "expected tenant/channel/thread",
		}
	}
	return New(parts[0], parts[1], parts[2])
}

func splitKey(key, sep string) ([]string, bool) {
	parts := strings.Split(key, sep)
	if len(parts) != 3 {
		return nil, false
	}
	for _, p := range parts {
		if p == "" {
			return nil, false
		}
	}
	return parts, true
}
