package cron

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTickInterval = time.Second
	defaultRetention    = 30 * 24 * time.Hour
	pruneInterval       = 6 * time.Hour
)

// Config configures the scheduler.
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// TickInterval is how often schedules are checked for due jobs.
	TickInterval time.Duration `yaml:"tick_interval,omitempty" json:"tick_interval,omitempty"`

	// DrainInterval is how often the queue attempts to drain into the
	// runtime.
	DrainInterval time.Duration `yaml:"drain_interval,omitempty" json:"drain_interval,omitempty"`

	// HistoryPath is the SQLite file for execution history. Empty keeps
	// history in memory only.
	HistoryPath string `yaml:"history_path,omitempty" json:"history_path,omitempty"`

	// Retention bounds how long execution history is kept.
	Retention time.Duration `yaml:"retention,omitempty" json:"retention,omitempty"`

	Jobs []JobConfig `yaml:"jobs" json:"jobs"`
}

// JobConfig defines a scheduled prompt job. Prompt is sent verbatim;
// Template, when set, is rendered with Data plus now/date/time and wins over
// Prompt.
type JobConfig struct {
	ID       string         `yaml:"id" json:"id"`
	Name     string         `yaml:"name" json:"name"`
	Enabled  bool           `yaml:"enabled" json:"enabled"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	Prompt   string         `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Template string         `yaml:"template,omitempty" json:"template,omitempty"`
	Data     map[string]any `yaml:"data,omitempty" json:"data,omitempty"`
}

// Job is a validated scheduled job with its runtime bookkeeping.
type Job struct {
	ID        string
	Name      string
	Enabled   bool
	Schedule  Schedule
	Prompt    string
	Template  string
	Data      map[string]any
	NextRun   time.Time
	LastRun   time.Time
	LastError string
}

// Scheduler ticks job schedules and feeds due jobs into the drain queue.
type Scheduler struct {
	logger        *slog.Logger
	store         ExecutionStore
	queue         *Queue
	now           func() time.Time
	tickInterval  time.Duration
	drainInterval time.Duration
	retention     time.Duration

	mu      sync.Mutex
	jobs    []*Job
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.With("component", "cron")
		}
	}
}

// WithExecutionStore configures where execution history is recorded.
func WithExecutionStore(store ExecutionStore) Option {
	return func(s *Scheduler) {
		if store != nil {
			s.store = store
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the schedule check interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// WithDrainInterval overrides the queue drain interval.
func WithDrainInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.drainInterval = interval
		}
	}
}

// NewScheduler creates a scheduler from config. Invalid jobs are skipped
// with a warning rather than failing the whole scheduler.
func NewScheduler(cfg Config, opts ...Option) (*Scheduler, error) {
	scheduler := &Scheduler{
		logger:        slog.Default().With("component", "cron"),
		store:         NewMemoryExecutionStore(),
		queue:         &Queue{},
		now:           time.Now,
		tickInterval:  defaultTickInterval,
		drainInterval: defaultDrainInterval,
		retention:     defaultRetention,
	}
	if cfg.TickInterval > 0 {
		scheduler.tickInterval = cfg.TickInterval
	}
	if cfg.DrainInterval > 0 {
		scheduler.drainInterval = cfg.DrainInterval
	}
	if cfg.Retention > 0 {
		scheduler.retention = cfg.Retention
	}
	if cfg.HistoryPath != "" {
		store, err := NewSQLiteExecutionStore(cfg.HistoryPath)
		if err != nil {
			return nil, err
		}
		scheduler.store = store
	}
	for _, opt := range opts {
		opt(scheduler)
	}

	jobs := make([]*Job, 0, len(cfg.Jobs))
	now := scheduler.now()
	for _, entry := range cfg.Jobs {
		if !entry.Enabled {
			scheduler.logger.Debug("cron job disabled", "id", entry.ID)
			continue
		}
		job, err := buildJob(entry, now)
		if err != nil {
			scheduler.logger.Warn("cron job skipped", "id", entry.ID, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	scheduler.jobs = jobs
	return scheduler, nil
}

func buildJob(cfg JobConfig, now time.Time) (*Job, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("job id required")
	}
	if strings.TrimSpace(cfg.Prompt) == "" && strings.TrimSpace(cfg.Template) == "" {
		return nil, fmt.Errorf("job prompt required")
	}
	schedule, err := NewSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	next, ok, err := schedule.Next(now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no next run scheduled")
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = cfg.ID
	}
	return &Job{
		ID:       cfg.ID,
		Name:     name,
		Enabled:  true,
		Schedule: schedule,
		Prompt:   cfg.Prompt,
		Template: cfg.Template,
		Data:     cfg.Data,
		NextRun:  next,
	}, nil
}

// Start begins the tick loop and claims the queue drain timer. It runs until
// the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	StartQueueDrainTimer(DrainTimerOptions{
		Interval: s.drainInterval,
		OnDrain:  func() error { return s.DrainOnce(ctx) },
		OnError: func(err error) {
			s.logger.Warn("cron drain failed", "error", err)
		},
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pruneHistory(ctx)
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		pruneTicker := time.NewTicker(pruneInterval)
		defer pruneTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.EnqueueDue(ctx)
			case <-pruneTicker.C:
				s.pruneHistory(ctx)
			}
		}
	}()
	return nil
}

// Stop releases the drain timer and waits for the tick loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	StopQueueDrainTimer()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueDue moves every due job into the drain queue and advances its
// schedule. It returns the number of jobs enqueued.
func (s *Scheduler) EnqueueDue(ctx context.Context) int {
	if s == nil {
		return 0
	}
	now := s.now()
	count := 0

	s.mu.Lock()
	jobs := make([]*Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, job := range jobs {
		s.mu.Lock()
		if !job.Enabled || job.NextRun.IsZero() || now.Before(job.NextRun) {
			s.mu.Unlock()
			continue
		}
		job.LastRun = now
		schedule := job.Schedule
		queued := &QueuedJob{
			JobID:      job.ID,
			Name:       job.Name,
			Schedule:   schedule,
			EnqueuedAt: now,
		}
		prompt, err := s.renderPrompt(job)
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("cron prompt render failed", "id", job.ID, "error", err)
			s.setJobResult(job.ID, err)
		} else {
			queued.Prompt = prompt
			s.queue.Enqueue(queued)
			count++
		}

		next, ok, nextErr := schedule.Next(now)
		s.mu.Lock()
		if nextErr != nil {
			job.LastError = nextErr.Error()
			job.NextRun = time.Time{}
			job.Enabled = false
		} else if ok {
			job.NextRun = next
		} else {
			job.NextRun = time.Time{}
			job.Enabled = false
		}
		s.mu.Unlock()
	}
	if count > 0 {
		s.logger.Debug("cron jobs enqueued", "count", count, "queued", s.queue.Len())
	}
	return count
}

// DrainOnce performs one queue drain pass through the runtime boundary.
func (s *Scheduler) DrainOnce(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return ProcessQueuedJobs(ProcessParams{
		State:  s.queue,
		IsBusy: IsBusy,
		ExecuteJob: func(job *QueuedJob) error {
			return s.executeQueued(ctx, job)
		},
		OnQueueNotEmpty: func(remaining int) {
			s.logger.Debug("cron queue waiting", "remaining", remaining)
		},
		OnQueueEmpty: func() {},
	})
}

func (s *Scheduler) executeQueued(ctx context.Context, job *QueuedJob) error {
	route := BuildSchedulerRoute(job.Name)
	exec := &JobExecution{
		ID:         uuid.NewString(),
		JobID:      job.JobID,
		SessionKey: route.SessionKey(),
		Status:     ExecutionRunning,
		StartedAt:  s.now(),
	}
	if err := s.store.Create(ctx, exec); err != nil {
		s.logger.Warn("cron execution record failed", "id", job.JobID, "error", err)
	}

	output, err := Execute(ctx, ExecuteRequest{
		Prompt:     job.Prompt,
		SessionKey: exec.SessionKey,
		StatusCallback: func(status string) {
			s.logger.Debug("cron job status", "id", job.JobID, "status", status)
		},
		ModelContext: ModelContextCron,
	})

	completed := s.now()
	exec.CompletedAt = completed
	exec.Duration = completed.Sub(exec.StartedAt)
	if err != nil {
		exec.Status = ExecutionFailed
		exec.Error = err.Error()
		s.logger.Warn("cron job failed", "id", job.JobID, "session", exec.SessionKey, "error", err)
	} else {
		exec.Status = ExecutionSucceeded
		exec.Output = output
	}
	if uerr := s.store.Update(ctx, exec); uerr != nil {
		s.logger.Warn("cron execution record failed", "id", job.JobID, "error", uerr)
	}
	s.setJobResult(job.JobID, err)
	return err
}

// RunJob executes a job immediately, bypassing the queue, and advances its
// schedule. Unknown ids return an error.
func (s *Scheduler) RunJob(ctx context.Context, id string) error {
	if s == nil {
		return nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("job id required")
	}

	now := s.now()
	var target *Job
	s.mu.Lock()
	for _, job := range s.jobs {
		if job.ID == id {
			target = job
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return fmt.Errorf("job not found: %s", id)
	}
	target.LastRun = now
	schedule := target.Schedule
	queued := &QueuedJob{
		JobID:      target.ID,
		Name:       target.Name,
		Schedule:   schedule,
		EnqueuedAt: now,
	}
	prompt, renderErr := s.renderPrompt(target)
	s.mu.Unlock()

	var err error
	if renderErr != nil {
		err = renderErr
		s.setJobResult(id, renderErr)
	} else {
		queued.Prompt = prompt
		err = s.executeQueued(ctx, queued)
	}

	next, ok, nextErr := schedule.Next(now)
	s.mu.Lock()
	if nextErr != nil {
		target.LastError = nextErr.Error()
		target.NextRun = time.Time{}
		target.Enabled = false
	} else if ok {
		target.NextRun = next
	} else {
		target.NextRun = time.Time{}
		target.Enabled = false
	}
	s.mu.Unlock()
	return err
}

// Jobs returns a snapshot of the configured jobs.
func (s *Scheduler) Jobs() []*Job {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		copyJob := *job
		if job.Data != nil {
			data := make(map[string]any, len(job.Data))
			for k, v := range job.Data {
				data[k] = v
			}
			copyJob.Data = data
		}
		out = append(out, &copyJob)
	}
	return out
}

// Queue exposes the drain queue, primarily for status reporting.
func (s *Scheduler) Queue() *Queue {
	return s.queue
}

// History exposes the execution store for status reporting.
func (s *Scheduler) History() ExecutionStore {
	return s.store
}

func (s *Scheduler) setJobResult(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.ID != id {
			continue
		}
		if err != nil {
			job.LastError = err.Error()
		} else {
			job.LastError = ""
		}
		return
	}
}

func (s *Scheduler) pruneHistory(ctx context.Context) {
	pruned, err := s.store.Prune(ctx, s.retention)
	if err != nil {
		s.logger.Warn("cron history prune failed", "error", err)
		return
	}
	if pruned > 0 {
		s.logger.Debug("cron history pruned", "removed", pruned)
	}
}

// renderPrompt renders the job's template with Data plus now/date/time, or
// returns the static prompt when no template is set.
func (s *Scheduler) renderPrompt(job *Job) (string, error) {
	templateText := strings.TrimSpace(job.Template)
	if templateText == "" {
		return job.Prompt, nil
	}
	now := s.now()
	data := make(map[string]any, len(job.Data)+3)
	for k, v := range job.Data {
		data[k] = v
	}
	data["now"] = now
	data["date"] = now.Format("2006-01-02")
	data["time"] = now.Format("15:04")

	tmpl, err := template.New("cron").Option("missingkey=zero").Parse(templateText)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}
