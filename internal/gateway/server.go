package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/courierhq/courier/internal/channels"
	"github.com/courierhq/courier/internal/channels/discord"
	"github.com/courierhq/courier/internal/channels/slack"
	"github.com/courierhq/courier/internal/channels/telegram"
	"github.com/courierhq/courier/internal/config"
	"github.com/courierhq/courier/internal/cron"
	"github.com/courierhq/courier/internal/history"
	"github.com/courierhq/courier/internal/identity"
	"github.com/courierhq/courier/internal/observability"
	"github.com/courierhq/courier/internal/outbound"
	"github.com/courierhq/courier/internal/providers"
	"github.com/courierhq/courier/internal/providers/anthropic"
	"github.com/courierhq/courier/internal/providers/codex"
	"github.com/courierhq/courier/internal/providers/openai"
	"github.com/courierhq/courier/internal/sessions"
)

// gaugeInterval is how often the session and queue gauges are refreshed.
const gaugeInterval = 15 * time.Second

// Server assembles the full courier runtime from a config: channel
// boundaries, provider adapters, session manager, scheduler, and the
// envelope-processing runtime, plus the metrics endpoint.
type Server struct {
	config *config.Config
	logger *slog.Logger

	metrics       *observability.Metrics
	promRegistry  *prometheus.Registry
	tracer        *observability.Tracer
	shutdownTrace func(context.Context) error

	channels  *channels.Registry
	providers *providers.Registry
	sessions  *sessions.Manager
	history   *history.Store
	scheduler *cron.Scheduler

	orchestrator *providers.Orchestrator
	dispatcher   *outbound.Dispatcher
	runtime      *Runtime

	httpServer *http.Server

	mu      sync.Mutex
	cancel  context.CancelFunc
	runDone chan struct{}
	started bool
}

// NewServer assembles a server from the config. A nil logger builds one from
// the config's logging section.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("gateway: config is required")
	}
	if logger == nil {
		logger = observability.NewLogger(cfg.Logging)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promRegistry)

	tracer, shutdownTrace, err := observability.NewTracer(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("gateway: tracer: %w", err)
	}

	s := &Server{
		config:        cfg,
		logger:        logger,
		metrics:       metrics,
		promRegistry:  promRegistry,
		tracer:        tracer,
		shutdownTrace: shutdownTrace,
		channels:      channels.NewRegistry(),
		providers:     providers.NewRegistry(),
	}

	if err := s.buildBoundaries(); err != nil {
		return nil, err
	}
	if err := s.buildProviders(); err != nil {
		return nil, err
	}

	s.sessions = sessions.NewManager(sessions.ManagerConfig{
		SnapshotDir: cfg.Sessions.SnapshotDir,
		WorkdirRoot: cfg.Sessions.WorkdirRoot,
		WorkdirBase: cfg.Sessions.WorkdirBase,
		Logger:      logger,
	})

	if cfg.History.Enabled {
		s.history = history.NewStore(cfg.History.Dir, logger)
	}

	orchestratorOpts := []providers.Option{
		providers.WithLogger(logger),
		providers.WithCounters(metrics.ProviderRetries, metrics.ProviderFallbacks),
		providers.WithRetryPolicy(cfg.Providers.Primary, providers.DefaultPrimaryPolicy),
	}
	if fallback := cfg.Providers.FallbackID(); fallback != "" {
		orchestratorOpts = append(orchestratorOpts,
			providers.WithRetryPolicy(fallback, providers.DefaultFallbackPolicy))
	}
	s.orchestrator = providers.NewOrchestrator(s.providers, orchestratorOpts...)

	s.dispatcher = outbound.NewDispatcher(s.channels, outbound.WithLogger(logger))

	var capturer Capturer
	if s.history != nil {
		capturer = s.history
	}
	runtime, err := NewRuntime(RuntimeConfig{
		Sessions:      s.sessions,
		Querier:       s.orchestrator,
		Sender:        s.dispatcher,
		History:       capturer,
		Channels:      s.channels,
		Primary:       cfg.Providers.Primary,
		Fallback:      cfg.Providers.FallbackID(),
		MaxConcurrent: cfg.Server.MaxConcurrent,
		Metrics:       metrics,
		Tracer:        tracer,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	s.runtime = runtime

	if cfg.Cron.Enabled {
		scheduler, err := cron.NewScheduler(cfg.Cron, cron.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("gateway: scheduler: %w", err)
		}
		s.scheduler = scheduler
	}

	return s, nil
}

// buildBoundaries registers a boundary for every enabled channel.
func (s *Server) buildBoundaries() error {
	cfg := s.config.Channels

	if cfg.Telegram.Enabled {
		b, err := telegram.New(telegram.Config{
			Token:        cfg.Telegram.BotToken,
			AllowedUsers: cfg.Telegram.AllowedUsers,
			Logger:       s.logger,
		})
		if err != nil {
			return fmt.Errorf("gateway: telegram boundary: %w", err)
		}
		s.channels.Register(b)
	}

	if cfg.Discord.Enabled {
		b, err := discord.New(discord.Config{
			Token:        cfg.Discord.BotToken,
			Skeleton:     cfg.Discord.Skeleton,
			AllowedUsers: cfg.Discord.AllowedUsers,
			Logger:       s.logger,
		})
		if err != nil {
			return fmt.Errorf("gateway: discord boundary: %w", err)
		}
		s.channels.Register(b)
	}

	if cfg.Slack.Enabled {
		b, err := slack.New(slack.Config{
			BotToken:       cfg.Slack.BotToken,
			AppToken:       cfg.Slack.AppToken,
			AllowedTenants: cfg.Slack.AllowedTenants,
			Skeleton:       cfg.Slack.Skeleton,
			Logger:         s.logger,
		})
		if err != nil {
			return fmt.Errorf("gateway: slack boundary: %w", err)
		}
		s.channels.Register(b)
	}

	return nil
}

// buildProviders registers an adapter for every enabled provider.
func (s *Server) buildProviders() error {
	cfg := s.config.Providers

	if cfg.Claude.Enabled {
		adapter, err := anthropic.New(anthropic.Config{
			APIKey:         cfg.Claude.APIKey,
			Model:          cfg.Claude.Model,
			MaxTokens:      cfg.Claude.MaxTokens,
			RequestTimeout: cfg.Claude.RequestTimeout,
		}, anthropic.WithLogger(s.logger))
		if err != nil {
			return fmt.Errorf("gateway: claude adapter: %w", err)
		}
		s.providers.Register(adapter)
	}

	if cfg.OpenAI.Enabled {
		adapter, err := openai.New(openai.Config{
			APIKey:         cfg.OpenAI.APIKey,
			Model:          cfg.OpenAI.Model,
			MaxTokens:      cfg.OpenAI.MaxTokens,
			RequestTimeout: cfg.OpenAI.RequestTimeout,
		}, openai.WithLogger(s.logger))
		if err != nil {
			return fmt.Errorf("gateway: openai adapter: %w", err)
		}
		s.providers.Register(adapter)
	}

	if cfg.Codex.Enabled {
		s.providers.Register(codex.New(codex.Config{Enabled: true}, codex.WithLogger(s.logger)))
	}

	return nil
}

// Start brings the server up: sessions, channels, scheduler, metrics
// endpoint, and the envelope drain loop. It returns once everything is
// running.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("gateway: already started")
	}
	s.started = true
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.sessions.Start()

	if err := s.channels.StartAll(runCtx); err != nil {
		s.sessions.Stop()
		cancel()
		return fmt.Errorf("failed to start channels: %w", err)
	}

	if s.scheduler != nil {
		cron.Configure(cron.Runtime{
			IsBusy:  s.cronBusy,
			Execute: s.executeScheduled,
		})
		if err := s.scheduler.Start(runCtx); err != nil {
			s.logger.Error("failed to start scheduler", "error", err)
			_ = s.channels.StopAll(runCtx)
			s.sessions.Stop()
			cancel()
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	if err := s.startMetricsServer(); err != nil {
		// Unwind: the tick loop exits on cancel, so cancel before the
		// scheduler stop that waits on it.
		cancel()
		if s.scheduler != nil {
			_ = s.scheduler.Stop(ctx)
		}
		_ = s.channels.StopAll(ctx)
		s.sessions.Stop()
		return err
	}

	s.runDone = make(chan struct{})
	envelopes := s.channels.AggregateEnvelopes(runCtx)
	go func() {
		defer close(s.runDone)
		s.runtime.Run(runCtx, envelopes)
	}()
	go s.refreshGauges(runCtx)

	s.logger.Info("courier gateway started",
		"channels", len(s.channels.All()),
		"providers", s.providers.Len(),
		"primary", s.config.Providers.Primary,
		"fallback", s.config.Providers.FallbackID(),
		"cron", s.scheduler != nil)
	return nil
}

// Stop shuts the server down in dependency order: boundaries first so no new
// envelopes arrive, then in-flight processing, then the scheduler, sessions,
// and the metrics endpoint. Subsystem stop failures are logged, not
// propagated; the first context error wins.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	if err := s.channels.StopAll(ctx); err != nil {
		s.logger.Error("error stopping channels", "error", err)
	}

	drain := s.config.Server.ShutdownTimeout
	if drain <= 0 {
		drain = 10 * time.Second
	}
	waitCtx, cancelWait := context.WithTimeout(ctx, drain)
	defer cancelWait()
	if err := s.runtime.Wait(waitCtx); err != nil {
		s.logger.Warn("shutdown proceeding with envelopes still in flight", "error", err)
	}

	if s.cancel != nil {
		s.cancel()
	}
	if s.runDone != nil {
		select {
		case <-s.runDone:
		case <-ctx.Done():
		}
	}

	if s.scheduler != nil {
		if err := s.scheduler.Stop(ctx); err != nil {
			s.logger.Error("error stopping scheduler", "error", err)
		}
		if store, ok := s.scheduler.History().(*cron.SQLiteExecutionStore); ok {
			if err := store.Close(); err != nil {
				s.logger.Error("error closing execution store", "error", err)
			}
		}
	}

	s.sessions.Stop()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("error stopping metrics server", "error", err)
		}
	}

	if s.shutdownTrace != nil {
		if err := s.shutdownTrace(ctx); err != nil {
			s.logger.Error("error flushing traces", "error", err)
		}
	}

	s.logger.Info("courier gateway stopped")
	return ctx.Err()
}

// Sessions exposes the session manager for CLI surfaces.
func (s *Server) Sessions() *sessions.Manager { return s.sessions }

// Scheduler exposes the cron scheduler, nil when disabled.
func (s *Server) Scheduler() *cron.Scheduler { return s.scheduler }

// Channels exposes the channel registry.
func (s *Server) Channels() *channels.Registry { return s.channels }

// cronBusy reports whether any scheduler-owned session is mid-query. User
// sessions never count, so interactive load cannot starve scheduled work.
func (s *Server) cronBusy() bool {
	for _, key := range s.sessions.RunningKeys() {
		if cron.IsCronSessionKey(key) {
			return true
		}
	}
	return false
}

// executeScheduled runs one scheduled prompt through the provider chain in
// its cron session. The reply is returned to the scheduler for its execution
// record; nothing is dispatched to a platform.
func (s *Server) executeScheduled(ctx context.Context, req cron.ExecuteRequest) (string, error) {
	if !cron.IsCronSessionKey(req.SessionKey) {
		return "", fmt.Errorf("gateway: scheduled session key %q lacks the %q prefix", req.SessionKey, cron.SessionKeyPrefix)
	}
	id, err := identity.ParseSessionKey(req.SessionKey)
	if err != nil {
		return "", err
	}

	session := s.sessions.GetOrCreate(id)
	qctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !session.TryBeginQuery(cancel) {
		return "", fmt.Errorf("gateway: scheduled session %s already running", req.SessionKey)
	}
	defer session.EndQuery()

	logger := s.logger.With("component", "gateway", "session", req.SessionKey, "context", req.ModelContext)
	if req.StatusCallback != nil {
		req.StatusCallback("running")
	}

	start := time.Now()
	s.runtime.capture(ctx, req.SessionKey, history.RoleUser, req.Prompt, start, logger)

	reply, err := s.runtime.executeQuery(qctx, session, req.Prompt, logger)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordCronExecution(true)
		}
		return "", err
	}
	if s.metrics != nil {
		s.metrics.RecordCronExecution(false)
	}
	s.runtime.capture(ctx, req.SessionKey, history.RoleAssistant, reply, time.Now(), logger)
	return reply, nil
}

// startMetricsServer serves /metrics and /healthz when a metrics port is
// configured.
func (s *Server) startMetricsServer() error {
	port := s.config.Server.MetricsPort
	if port == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, s.sessions.Count())
	})

	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()

	s.logger.Info("metrics server listening", "addr", addr)
	return nil
}

// refreshGauges keeps the slow-moving gauges current.
func (s *Server) refreshGauges(ctx context.Context) {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.ActiveSessions.Set(float64(s.sessions.Count()))
			if s.scheduler != nil {
				s.metrics.CronQueueDepth.Set(float64(s.scheduler.Queue().Len()))
			}
		}
	}
}
