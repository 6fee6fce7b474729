package channels

import (
	"fmt"
	"sync"
)

// OrderingGuard enforces timestamp-monotonic admission per conversation. It
// remembers the maximum observed timestamp for each (channelID, threadID)
// pair and rejects anything older, with one escape hatch: interrupt messages
// are admitted anyway, flagged, and do not advance the maximum.
type OrderingGuard struct {
	mu      sync.Mutex
	maxSeen map[string]int64
}

// NewOrderingGuard creates an empty guard.
func NewOrderingGuard() *OrderingGuard {
	return &OrderingGuard{maxSeen: make(map[string]int64)}
}

// Admit applies the ordering rule for one inbound event. It reports whether
// the interrupt bypass was used. A nil error means the event was admitted.
func (g *OrderingGuard) Admit(channel, channelID, threadID string, timestamp int64, isInterrupt bool) (bool, error) {
	key := channelID + "/" + threadID

	g.mu.Lock()
	defer g.mu.Unlock()

	max, seen := g.maxSeen[key]
	if seen && timestamp < max {
		if isInterrupt {
			// Admitted out of order; the watermark stays where it was.
			return true, nil
		}
		return false, ErrInvalidPayload(channel,
			fmt.Sprintf("out-of-order message: timestamp %d behind watermark %d", timestamp, max), nil)
	}

	if !seen || timestamp > max {
		g.maxSeen[key] = timestamp
	}
	return false, nil
}

// Watermark returns the maximum admitted timestamp for a conversation, and
// whether one exists.
func (g *OrderingGuard) Watermark(channelID, threadID string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	max, ok := g.maxSeen[channelID+"/"+threadID]
	return max, ok
}
