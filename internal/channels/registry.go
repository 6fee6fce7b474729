package channels

import (
	"context"
	"sync"

	"github.com/courierhq/courier/internal/outbound"
)

// Registry holds the active channel boundaries. It resolves outbound
// deliveries to the boundary owning a canonical channel id and fans inbound
// envelopes from every boundary into one stream.
type Registry struct {
	mu         sync.RWMutex
	boundaries map[string]Boundary
	order      []string
}

var _ outbound.Resolver = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		boundaries: make(map[string]Boundary),
	}
}

// Register adds a boundary, keyed by its channel type. Re-registering a type
// replaces the boundary but keeps its position.
func (r *Registry) Register(b Boundary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channelType := b.ChannelType()
	if _, exists := r.boundaries[channelType]; !exists {
		r.order = append(r.order, channelType)
	}
	r.boundaries[channelType] = b
}

// Get returns a boundary by channel type.
func (r *Registry) Get(channelType string) (Boundary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.boundaries[channelType]
	return b, ok
}

// All returns the registered boundaries in registration order.
func (r *Registry) All() []Boundary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Boundary, 0, len(r.order))
	for _, channelType := range r.order {
		all = append(all, r.boundaries[channelType])
	}
	return all
}

// Deliverer resolves the boundary owning a canonical channel id. Boundaries
// are asked in registration order; the first to claim the id wins.
func (r *Registry) Deliverer(channelID string) (outbound.Deliverer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, channelType := range r.order {
		if b := r.boundaries[channelType]; b.Owns(channelID) {
			return b, nil
		}
	}
	return nil, ErrUnavailable("registry", "no boundary owns channel "+channelID)
}

// TypeOf returns the channel type of the boundary owning a canonical channel
// id, or "" when no boundary claims it.
func (r *Registry) TypeOf(channelID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, channelType := range r.order {
		if r.boundaries[channelType].Owns(channelID) {
			return channelType
		}
	}
	return ""
}

// StartAll starts every boundary in registration order, stopping at the
// first failure.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, b := range r.All() {
		if err := b.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every boundary, returning the last error.
func (r *Registry) StopAll(ctx context.Context) error {
	var lastErr error
	for _, b := range r.All() {
		if err := b.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// AggregateEnvelopes fans envelopes from every boundary into one stream. The
// stream drains until the context ends or all boundary streams close.
func (r *Registry) AggregateEnvelopes(ctx context.Context) <-chan *InboundEnvelope {
	out := make(chan *InboundEnvelope)

	var wg sync.WaitGroup
	for _, b := range r.All() {
		wg.Add(1)
		go func(b Boundary) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case env, ok := <-b.Envelopes():
					if !ok {
						return
					}
					select {
					case out <- env:
					case <-ctx.Done():
						return
					}
				}
			}
		}(b)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// Statuses reports the connection status of every boundary by channel type.
func (r *Registry) Statuses() map[string]Status {
	statuses := make(map[string]Status)
	for _, b := range r.All() {
		statuses[b.ChannelType()] = b.Status()
	}
	return statuses
}
