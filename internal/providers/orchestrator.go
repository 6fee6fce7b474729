package providers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RetryPolicy controls per-provider retry behavior.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseBackoff is the initial backoff; attempt n sleeps BaseBackoff * 2^n.
	BaseBackoff time.Duration
}

// Default retry policies. The primary gets one retry with a 200ms base; the
// fallback is meant to answer immediately, so it gets none.
var (
	DefaultPrimaryPolicy  = RetryPolicy{MaxRetries: 1, BaseBackoff: 200 * time.Millisecond}
	DefaultFallbackPolicy = RetryPolicy{MaxRetries: 0, BaseBackoff: 100 * time.Millisecond}
)

// SleepFunc pauses between retries. It returns ctx.Err() when the context
// ends mid-sleep, which aborts the chain.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Request describes one orchestrated query.
type Request struct {
	// PrimaryProviderID is tried first.
	PrimaryProviderID string

	// FallbackProviderID is tried when the primary exhausts its retries
	// with a rate limit. Empty disables fallback.
	FallbackProviderID string

	// Input is passed to every adapter in the chain unchanged.
	Input QueryInput

	// OnEvent receives the normalized event stream. Partial primary output
	// may precede fallback output; the stream stays serialized per query.
	OnEvent EventHandler
}

// Result reports which provider answered and how many attempts it took.
type Result struct {
	ProviderID string
	Attempts   int
}

// Metrics is a snapshot of orchestrator counters.
type Metrics struct {
	TotalQueries   int64
	TotalRetries   int64
	TotalFallbacks int64
	Failures       map[string]int64
}

// Orchestrator drives queries through the provider chain with per-provider
// retry policies and rate-limit fallback.
type Orchestrator struct {
	registry *Registry
	policies map[string]RetryPolicy
	sleep    SleepFunc
	logger   *slog.Logger

	retryCounter    prometheus.Counter
	fallbackCounter prometheus.Counter

	mu      sync.Mutex
	metrics Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the backoff sleep function. Tests inject a recorder.
func WithSleep(sleep SleepFunc) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger.With("component", "provider-orchestrator")
	}
}

// WithRetryPolicy overrides the policy for one provider id.
func WithRetryPolicy(providerID string, policy RetryPolicy) Option {
	return func(o *Orchestrator) {
		o.policies[providerID] = policy
	}
}

// WithCounters mirrors retry and fallback totals into Prometheus counters.
// Either may be nil.
func WithCounters(retries, fallbacks prometheus.Counter) Option {
	return func(o *Orchestrator) {
		o.retryCounter = retries
		o.fallbackCounter = fallbacks
	}
}

// NewOrchestrator creates an orchestrator over the given registry.
func NewOrchestrator(registry *Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		policies: make(map[string]RetryPolicy),
		sleep:    sleepWithContext,
		logger:   slog.Default().With("component", "provider-orchestrator"),
		metrics:  Metrics{Failures: make(map[string]int64)},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PolicyFor returns the retry policy for a provider id. Unconfigured ids get
// the primary default.
func (o *Orchestrator) PolicyFor(providerID string) RetryPolicy {
	if policy, ok := o.policies[providerID]; ok {
		return policy
	}
	return DefaultPrimaryPolicy
}

// Execute runs the query through the provider chain. Each invocation yields
// exactly one complete event stream to req.OnEvent; Result.Attempts counts
// the attempts against the provider that ultimately answered.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Result, error) {
	o.mu.Lock()
	o.metrics.TotalQueries++
	o.mu.Unlock()

	chain := []string{req.PrimaryProviderID}
	if req.FallbackProviderID != "" {
		chain = append(chain, req.FallbackProviderID)
	}

	var lastErr *Error

	for chainIdx, providerID := range chain {
		adapter, err := o.registry.Get(providerID)
		if err != nil {
			return nil, err
		}
		policy := o.PolicyFor(providerID)

		if chainIdx > 0 {
			o.mu.Lock()
			o.metrics.TotalFallbacks++
			o.mu.Unlock()
			if o.fallbackCounter != nil {
				o.fallbackCounter.Inc()
			}
			o.logger.Info("falling back", "from", chain[chainIdx-1], "to", providerID)
		}

		advance := false
		for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
			err := o.tryOnce(ctx, adapter, req)
			if err == nil {
				return &Result{ProviderID: providerID, Attempts: attempt + 1}, nil
			}

			ne := Normalize(providerID, err)
			lastErr = ne

			o.mu.Lock()
			o.metrics.Failures[providerID]++
			o.mu.Unlock()

			if ne.Retryable() && attempt < policy.MaxRetries {
				backoff := policy.BaseBackoff * time.Duration(1<<attempt)
				o.logger.Warn("provider attempt failed, retrying",
					"provider", providerID,
					"attempt", attempt+1,
					"code", ne.Code,
					"backoff", backoff)
				o.mu.Lock()
				o.metrics.TotalRetries++
				o.mu.Unlock()
				if o.retryCounter != nil {
					o.retryCounter.Inc()
				}
				if err := o.sleep(ctx, backoff); err != nil {
					return nil, Normalize(providerID, err)
				}
				continue
			}

			if ne.Code == ErrCodeRateLimit && req.FallbackProviderID != "" {
				advance = true
				break
			}

			return nil, ne
		}

		if !advance {
			break
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, NewError(ErrCodeInternal, req.PrimaryProviderID, "provider chain exhausted", nil)
}

// tryOnce runs a single start+stream attempt. The handle is always released
// through AbortQuery, which is idempotent, so a successful stream pays one
// harmless no-op call.
func (o *Orchestrator) tryOnce(ctx context.Context, adapter Adapter, req Request) error {
	handle, err := adapter.StartQuery(ctx, req.Input)
	if err != nil {
		return err
	}
	defer adapter.AbortQuery(handle)

	return adapter.StreamEvents(ctx, handle, req.OnEvent)
}

// Metrics returns a snapshot of the orchestrator counters.
func (o *Orchestrator) Metrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()

	failures := make(map[string]int64, len(o.metrics.Failures))
	for k, v := range o.metrics.Failures {
		failures[k] = v
	}
	return Metrics{
		TotalQueries:   o.metrics.TotalQueries,
		TotalRetries:   o.metrics.TotalRetries,
		TotalFallbacks: o.metrics.TotalFallbacks,
		Failures:       failures,
	}
}
