package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordInbound("telegram", true)
	m.RecordOutbound("telegram", "text")
	m.RecordQuery("claude", "ok", 1.5)
	m.ProviderRetries.Inc()
	m.ProviderFallbacks.Inc()
	m.RecordUsage("claude", 100, 50)
	m.ActiveSessions.Set(3)
	m.CronQueueDepth.Set(1)
	m.RecordCronExecution(false)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	want := map[string]bool{
		"courier_inbound_envelopes_total":         false,
		"courier_outbound_payloads_total":         false,
		"courier_provider_queries_total":          false,
		"courier_provider_retries_total":          false,
		"courier_provider_fallbacks_total":        false,
		"courier_provider_tokens_total":           false,
		"courier_provider_query_duration_seconds": false,
		"courier_active_sessions":                 false,
		"courier_cron_queue_depth":                false,
		"courier_cron_executions_total":           false,
	}
	for _, fam := range families {
		if _, ok := want[fam.GetName()]; ok {
			want[fam.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %s not gathered", name)
		}
	}
}

func TestRecordInboundOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordInbound("telegram", true)
	m.RecordInbound("telegram", true)
	m.RecordInbound("slack", false)

	expected := `
		# HELP courier_inbound_envelopes_total Inbound platform events by channel and admission outcome
		# TYPE courier_inbound_envelopes_total counter
		courier_inbound_envelopes_total{channel="slack",outcome="rejected"} 1
		courier_inbound_envelopes_total{channel="telegram",outcome="admitted"} 2
	`
	if err := testutil.CollectAndCompare(m.InboundEnvelopes, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected inbound counts: %v", err)
	}
}

func TestRecordQueryCountsAndObserves(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordQuery("claude", "ok", 2.0)
	m.RecordQuery("claude", "error", 0.5)
	m.RecordQuery("codex", "ok", 1.0)

	if got := testutil.CollectAndCount(m.ProviderQueries); got != 3 {
		t.Errorf("provider query label combinations = %d, want 3", got)
	}
	if got := testutil.CollectAndCount(m.QueryDuration); got != 2 {
		t.Errorf("query duration series = %d, want 2", got)
	}
}

func TestRecordUsageSkipsZeroTokens(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordUsage("claude", 0, 0)
	if got := testutil.CollectAndCount(m.ProviderTokens); got != 0 {
		t.Errorf("zero usage created %d series, want 0", got)
	}

	m.RecordUsage("claude", 120, 0)
	expected := `
		# HELP courier_provider_tokens_total Token usage reported by providers
		# TYPE courier_provider_tokens_total counter
		courier_provider_tokens_total{direction="input",provider="claude"} 120
	`
	if err := testutil.CollectAndCompare(m.ProviderTokens, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected token counts: %v", err)
	}
}

func TestRecordCronExecution(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCronExecution(false)
	m.RecordCronExecution(false)
	m.RecordCronExecution(true)

	expected := `
		# HELP courier_cron_executions_total Drained scheduler job runs by outcome
		# TYPE courier_cron_executions_total counter
		courier_cron_executions_total{status="failed"} 1
		courier_cron_executions_total{status="succeeded"} 2
	`
	if err := testutil.CollectAndCompare(m.CronExecutions, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected cron execution counts: %v", err)
	}
}
