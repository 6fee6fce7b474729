// Package routing derives the per-message AgentRoute that downstream
// components use to address sessions, storage partitions, and reply targets.
//
// A route is derived exactly once, at the channel boundary, and flows through
// the pipeline unchanged. Everything after the boundary routes by the
// canonical session key, never by raw platform identifiers.
package routing

import "github.com/courierhq/courier/internal/identity"

// PeerKind classifies the conversation target on the platform side.
type PeerKind string

const (
	PeerDM      PeerKind = "dm"
	PeerGroup   PeerKind = "group"
	PeerChannel PeerKind = "channel"
)

// Peer identifies the platform conversation a reply should target.
type Peer struct {
	Kind PeerKind
	ID   string
}

// AgentRoute carries the resolved addressing for one inbound message.
type AgentRoute struct {
	// Identity is the validated canonical triple.
	Identity identity.Identity

	// SessionKey is Identity.SessionKey(), precomputed because every
	// downstream component keys on it.
	SessionKey string

	// PartitionKey is Identity.PartitionKey().
	PartitionKey string

	// AccountID scopes the route to a platform account (bot token identity).
	AccountID string

	// Peer is the reply target.
	Peer Peer

	// ParentPeer is set when the peer is a thread inside a larger container
	// (for example a Slack thread inside a channel).
	ParentPeer *Peer

	// ProviderID optionally pins the route to a specific provider adapter.
	ProviderID string
}

// Options carries the boundary-supplied route inputs beyond the identity.
type Options struct {
	AccountID  string
	Peer       Peer
	ParentPeer *Peer
	ProviderID string
}

// DefaultAccountID is used when the boundary does not distinguish accounts.
const DefaultAccountID = "default"

// Derive builds the AgentRoute for a validated identity. The peer must carry
// a known kind and a non-empty id; the account id defaults when empty.
func Derive(id identity.Identity, opts Options) (*AgentRoute, error) {
	switch opts.Peer.Kind {
	case PeerDM, PeerGroup, PeerChannel:
	default:
		return nil, NewError(ErrCodeInvalidInput, "unknown peer kind: "+string(opts.Peer.Kind), nil)
	}
	if opts.Peer.ID == "" {
		return nil, NewError(ErrCodeInvalidInput, "peer id must not be empty", nil)
	}
	if opts.ParentPeer != nil && opts.ParentPeer.ID == "" {
		return nil, NewError(ErrCodeInvalidInput, "parent peer id must not be empty", nil)
	}

	accountID := opts.AccountID
	if accountID == "" {
		accountID = DefaultAccountID
	}

	return &AgentRoute{
		Identity:     id,
		SessionKey:   id.SessionKey(),
		PartitionKey: id.PartitionKey(),
		AccountID:    accountID,
		Peer:         opts.Peer,
		ParentPeer:   opts.ParentPeer,
		ProviderID:   opts.ProviderID,
	}, nil
}
