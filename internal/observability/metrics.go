package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-level Prometheus view of the runtime. Boundaries keep
// their own in-process counters; the gateway records the cross-cutting totals
// here so they show up on the /metrics endpoint.
type Metrics struct {
	// InboundEnvelopes counts inbound platform events by admission outcome.
	// Labels: channel, outcome (admitted|rejected)
	InboundEnvelopes *prometheus.CounterVec

	// OutboundPayloads counts dispatched payloads.
	// Labels: channel, kind (text|status|choice|reaction)
	OutboundPayloads *prometheus.CounterVec

	// ProviderQueries counts model queries by final status.
	// Labels: provider, status (ok|error)
	ProviderQueries *prometheus.CounterVec

	// ProviderRetries counts same-provider retry attempts.
	ProviderRetries prometheus.Counter

	// ProviderFallbacks counts failovers to the fallback provider.
	ProviderFallbacks prometheus.Counter

	// ProviderTokens accumulates reported token usage.
	// Labels: provider, direction (input|output)
	ProviderTokens *prometheus.CounterVec

	// QueryDuration measures end-to-end query latency in seconds, including
	// retries and fallback. Labels: provider
	QueryDuration *prometheus.HistogramVec

	// ActiveSessions tracks the session manager's live session count.
	ActiveSessions prometheus.Gauge

	// CronQueueDepth tracks jobs waiting in the scheduler queue.
	CronQueueDepth prometheus.Gauge

	// CronExecutions counts drained job runs. Labels: status (succeeded|failed)
	CronExecutions *prometheus.CounterVec
}

// NewMetrics registers all runtime metrics with reg. Pass a fresh
// prometheus.NewRegistry() in tests; the server wires its own registry into
// the /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		InboundEnvelopes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_inbound_envelopes_total",
				Help: "Inbound platform events by channel and admission outcome",
			},
			[]string{"channel", "outcome"},
		),

		OutboundPayloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_outbound_payloads_total",
				Help: "Outbound payloads dispatched by channel and payload kind",
			},
			[]string{"channel", "kind"},
		),

		ProviderQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_provider_queries_total",
				Help: "Model queries by serving provider and final status",
			},
			[]string{"provider", "status"},
		),

		ProviderRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "courier_provider_retries_total",
				Help: "Same-provider retry attempts across all queries",
			},
		),

		ProviderFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "courier_provider_fallbacks_total",
				Help: "Failovers from the primary to the fallback provider",
			},
		),

		ProviderTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_provider_tokens_total",
				Help: "Token usage reported by providers",
			},
			[]string{"provider", "direction"},
		),

		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "courier_provider_query_duration_seconds",
				Help:    "End-to-end query latency including retries and fallback",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "courier_active_sessions",
				Help: "Sessions currently tracked by the session manager",
			},
		),

		CronQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "courier_cron_queue_depth",
				Help: "Jobs waiting in the scheduler queue",
			},
		),

		CronExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_cron_executions_total",
				Help: "Drained scheduler job runs by outcome",
			},
			[]string{"status"},
		),
	}
}

// RecordInbound counts one admission decision for a channel.
func (m *Metrics) RecordInbound(channel string, admitted bool) {
	outcome := "admitted"
	if !admitted {
		outcome = "rejected"
	}
	m.InboundEnvelopes.WithLabelValues(channel, outcome).Inc()
}

// RecordOutbound counts one dispatched payload.
func (m *Metrics) RecordOutbound(channel, kind string) {
	m.OutboundPayloads.WithLabelValues(channel, kind).Inc()
}

// RecordQuery records a finished query: the provider that served it, whether
// it succeeded, and how long the whole attempt chain took.
func (m *Metrics) RecordQuery(provider, status string, seconds float64) {
	m.ProviderQueries.WithLabelValues(provider, status).Inc()
	m.QueryDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordUsage accumulates reported token counts for a provider.
func (m *Metrics) RecordUsage(provider string, inputTokens, outputTokens int64) {
	if inputTokens > 0 {
		m.ProviderTokens.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.ProviderTokens.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

// RecordCronExecution counts one drained job run.
func (m *Metrics) RecordCronExecution(failed bool) {
	status := "succeeded"
	if failed {
		status = "failed"
	}
	m.CronExecutions.WithLabelValues(status).Inc()
}
