package outbound

import (
	"context"
	"log/slog"

	"github.com/courierhq/courier/internal/routing"
)

// Deliverer is the outbound half of a channel boundary.
type Deliverer interface {
	DeliverOutbound(ctx context.Context, payload *Payload) (*DeliveryReceipt, error)
}

// Resolver finds the boundary owning a channel. The channel registry
// implements this.
type Resolver interface {
	Deliverer(channel string) (Deliverer, error)
}

// Dispatcher is the single outbound entry point. Every payload, whatever its
// kind, is normalized and delivered through the route's channel boundary.
type Dispatcher struct {
	resolver Resolver
	logger   *slog.Logger
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger.With("component", "outbound-dispatcher")
	}
}

// NewDispatcher creates a dispatcher that resolves boundaries through r.
func NewDispatcher(r Resolver, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		resolver: r,
		logger:   slog.Default().With("component", "outbound-dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch validates, normalizes, and delivers a payload.
func (d *Dispatcher) Dispatch(ctx context.Context, payload *Payload) (*DeliveryReceipt, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	deliverer, err := d.resolver.Deliverer(payload.Route.Identity.Channel)
	if err != nil {
		return nil, err
	}

	receipt, err := deliverer.DeliverOutbound(ctx, Normalize(payload))
	if err != nil {
		d.logger.Warn("delivery failed",
			"kind", payload.Kind,
			"session_key", payload.Route.SessionKey,
			"error", err)
		return nil, err
	}

	d.logger.Debug("delivered",
		"kind", payload.Kind,
		"session_key", payload.Route.SessionKey,
		"message_id", receipt.MessageID)
	return receipt, nil
}

// SendText delivers a text payload.
func (d *Dispatcher) SendText(ctx context.Context, route *routing.AgentRoute, text string) (*DeliveryReceipt, error) {
	return d.Dispatch(ctx, NewText(route, text))
}

// SendStatus delivers a status payload.
func (d *Dispatcher) SendStatus(ctx context.Context, route *routing.AgentRoute, status Status, message string) (*DeliveryReceipt, error) {
	return d.Dispatch(ctx, NewStatus(route, status, message))
}

// SendChoice delivers a choice payload.
func (d *Dispatcher) SendChoice(ctx context.Context, route *routing.AgentRoute, question string, choices []ChoiceOption) (*DeliveryReceipt, error) {
	return d.Dispatch(ctx, NewChoice(route, question, choices))
}

// SendReaction delivers a reaction payload.
func (d *Dispatcher) SendReaction(ctx context.Context, route *routing.AgentRoute, targetMessageID, reaction string) (*DeliveryReceipt, error) {
	return d.Dispatch(ctx, NewReaction(route, targetMessageID, reaction))
}
