package channels

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks boundary activity: admission outcomes, deliveries, and
// latency distributions. All counters are safe for concurrent use.
type Metrics struct {
	// Admission counters
	envelopesAdmitted atomic.Uint64
	envelopesRejected atomic.Uint64
	interruptBypasses atomic.Uint64

	// Delivery counters
	delivered      atomic.Uint64
	deliveryFailed atomic.Uint64

	// Error counters by code
	errorsByCode map[ErrorCode]*atomic.Uint64
	errorsMu     sync.RWMutex

	// Latency tracking
	normalizeLatency *LatencyHistogram
	sendLatency      *LatencyHistogram

	// Connection events
	connectionsOpened atomic.Uint64
	connectionsClosed atomic.Uint64
	reconnectAttempts atomic.Uint64

	channelType string
	startTime   time.Time
}

// NewMetrics creates a Metrics instance for one boundary.
func NewMetrics(channelType string) *Metrics {
	return &Metrics{
		errorsByCode:     make(map[ErrorCode]*atomic.Uint64),
		normalizeLatency: NewLatencyHistogram(),
		sendLatency:      NewLatencyHistogram(),
		channelType:      channelType,
		startTime:        time.Now(),
	}
}

// RecordAdmitted counts an admitted envelope.
func (m *Metrics) RecordAdmitted() {
	m.envelopesAdmitted.Add(1)
}

// RecordRejected counts a rejected inbound event under its error code.
func (m *Metrics) RecordRejected(code ErrorCode) {
	m.envelopesRejected.Add(1)
	m.RecordError(code)
}

// RecordInterruptBypass counts an ordering bypass granted to an interrupt.
func (m *Metrics) RecordInterruptBypass() {
	m.interruptBypasses.Add(1)
}

// RecordDelivered counts a successful outbound delivery.
func (m *Metrics) RecordDelivered() {
	m.delivered.Add(1)
}

// RecordDeliveryFailed counts a failed outbound delivery.
func (m *Metrics) RecordDeliveryFailed() {
	m.deliveryFailed.Add(1)
}

// RecordError increments the error counter for a code.
func (m *Metrics) RecordError(code ErrorCode) {
	m.errorsMu.Lock()
	counter, exists := m.errorsByCode[code]
	if !exists {
		counter = &atomic.Uint64{}
		m.errorsByCode[code] = counter
	}
	m.errorsMu.Unlock()

	counter.Add(1)
}

// RecordNormalizeLatency records how long inbound normalization took.
func (m *Metrics) RecordNormalizeLatency(duration time.Duration) {
	m.normalizeLatency.Record(duration)
}

// RecordSendLatency records how long an outbound send took.
func (m *Metrics) RecordSendLatency(duration time.Duration) {
	m.sendLatency.Record(duration)
}

// RecordConnectionOpened counts an opened platform connection.
func (m *Metrics) RecordConnectionOpened() {
	m.connectionsOpened.Add(1)
}

// RecordConnectionClosed counts a closed platform connection.
func (m *Metrics) RecordConnectionClosed() {
	m.connectionsClosed.Add(1)
}

// RecordReconnectAttempt counts a reconnect attempt.
func (m *Metrics) RecordReconnectAttempt() {
	m.reconnectAttempts.Add(1)
}

// Snapshot returns a point-in-time view of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.errorsMu.RLock()
	errors := make(map[ErrorCode]uint64, len(m.errorsByCode))
	for code, counter := range m.errorsByCode {
		errors[code] = counter.Load()
	}
	m.errorsMu.RUnlock()

	return MetricsSnapshot{
		ChannelType:       m.channelType,
		EnvelopesAdmitted: m.envelopesAdmitted.Load(),
		EnvelopesRejected: m.envelopesRejected.Load(),
		InterruptBypasses: m.interruptBypasses.Load(),
		Delivered:         m.delivered.Load(),
		DeliveryFailed:    m.deliveryFailed.Load(),
		ErrorsByCode:      errors,
		NormalizeLatency:  m.normalizeLatency.Snapshot(),
		SendLatency:       m.sendLatency.Snapshot(),
		ConnectionsOpened: m.connectionsOpened.Load(),
		ConnectionsClosed: m.connectionsClosed.Load(),
		ReconnectAttempts: m.reconnectAttempts.Load(),
		Uptime:            time.Since(m.startTime),
	}
}

// MetricsSnapshot is a point-in-time view of boundary metrics.
type MetricsSnapshot struct {
	ChannelType       string
	EnvelopesAdmitted uint64
	EnvelopesRejected uint64
	InterruptBypasses uint64
	Delivered         uint64
	DeliveryFailed    uint64
	ErrorsByCode      map[ErrorCode]uint64
	NormalizeLatency  LatencySnapshot
	SendLatency       LatencySnapshot
	ConnectionsOpened uint64
	ConnectionsClosed uint64
	ReconnectAttempts uint64
	Uptime            time.Duration
}

// LatencyHistogram keeps a ring of recent samples for percentile estimates.
type LatencyHistogram struct {
	mu      sync.RWMutex
	samples []time.Duration
	head    int
	count   int
	max     int
}

// NewLatencyHistogram creates a histogram over the last 1000 samples.
func NewLatencyHistogram() *LatencyHistogram {
	const defaultMaxSamples = 1000
	return &LatencyHistogram{
		samples: make([]time.Duration, defaultMaxSamples),
		max:     defaultMaxSamples,
	}
}

// Record adds a latency sample.
func (h *LatencyHistogram) Record(duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.max == 0 {
		return
	}

	h.samples[h.head] = duration
	h.head = (h.head + 1) % h.max
	if h.count < h.max {
		h.count++
	}
}

// Snapshot computes latency statistics over the retained samples.
func (h *LatencyHistogram) Snapshot() LatencySnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return LatencySnapshot{}
	}

	sorted := make([]time.Duration, h.count)
	if h.count < h.max {
		copy(sorted, h.samples[:h.count])
	} else {
		for i := 0; i < h.count; i++ {
			sorted[i] = h.samples[(h.head+i)%h.max]
		}
	}

	// Insertion sort is fine at this sample count.
	for i := 1; i < len(sorted); i++ {
		key := sorted[i]
		j := i - 1
		for j >= 0 && sorted[j] > key {
			sorted[j+1] = sorted[j]
			j--
		}
		sorted[j+1] = key
	}

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return LatencySnapshot{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
	}
}

// LatencySnapshot summarizes a latency distribution.
type LatencySnapshot struct {
	Count int
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}
