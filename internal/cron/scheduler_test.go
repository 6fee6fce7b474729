package cron

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, cfg Config, opts ...Option) *Scheduler {
	t.Helper()
	s, err := NewScheduler(cfg, opts...)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	return s
}

func everyJob(id, name string, every time.Duration) JobConfig {
	return JobConfig{
		ID:       id,
		Name:     name,
		Enabled:  true,
		Schedule: ScheduleConfig{Every: every},
		Prompt:   "run " + id,
	}
}

func TestNewSchedulerSkipsInvalidJobs(t *testing.T) {
	cfg := Config{Jobs: []JobConfig{
		{Name: "no id", Enabled: true, Schedule: ScheduleConfig{Every: time.Minute}, Prompt: "x"},
		{ID: "no-prompt", Enabled: true, Schedule: ScheduleConfig{Every: time.Minute}},
		{ID: "bad-schedule", Enabled: true, Schedule: ScheduleConfig{Cron: "nope"}, Prompt: "x"},
		{ID: "disabled", Schedule: ScheduleConfig{Every: time.Minute}, Prompt: "x"},
		everyJob("keeper", "Keeper", time.Minute),
	}}
	s := newTestScheduler(t, cfg)

	jobs := s.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("Jobs() len = %d, want 1", len(jobs))
	}
	if jobs[0].ID != "keeper" {
		t.Errorf("kept job = %q, want %q", jobs[0].ID, "keeper")
	}
	if jobs[0].NextRun.IsZero() {
		t.Error("kept job has zero NextRun")
	}
}

func TestSchedulerEnqueueDue(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	current := base
	s := newTestScheduler(t,
		Config{Jobs: []JobConfig{everyJob("report", "Report", time.Minute)}},
		WithNow(func() time.Time { return current }),
	)

	if got := s.EnqueueDue(context.Background()); got != 0 {
		t.Errorf("EnqueueDue before due = %d, want 0", got)
	}

	current = base.Add(61 * time.Second)
	if got := s.EnqueueDue(context.Background()); got != 1 {
		t.Errorf("EnqueueDue at due = %d, want 1", got)
	}
	if s.Queue().Len() != 1 {
		t.Errorf("queue len = %d, want 1", s.Queue().Len())
	}

	// The schedule advanced, so the same instant is no longer due.
	if got := s.EnqueueDue(context.Background()); got != 0 {
		t.Errorf("EnqueueDue repeat = %d, want 0", got)
	}

	job := s.Jobs()[0]
	if !job.LastRun.Equal(current) {
		t.Errorf("LastRun = %v, want %v", job.LastRun, current)
	}
	if want := current.Add(time.Minute); !job.NextRun.Equal(want) {
		t.Errorf("NextRun = %v, want %v", job.NextRun, want)
	}
}

func TestSchedulerDrainExecutes(t *testing.T) {
	t.Cleanup(ResetForTests)

	var (
		mu       sync.Mutex
		requests []ExecuteRequest
	)
	Configure(Runtime{
		IsBusy: func() bool { return false },
		Execute: func(ctx context.Context, req ExecuteRequest) (string, error) {
			mu.Lock()
			requests = append(requests, req)
			mu.Unlock()
			return "done", nil
		},
	})

	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	current := base
	s := newTestScheduler(t,
		Config{Jobs: []JobConfig{everyJob("daily-summary", "Daily Summary", time.Minute)}},
		WithNow(func() time.Time { return current }),
	)

	current = base.Add(2 * time.Minute)
	s.EnqueueDue(context.Background())
	if err := s.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}

	if len(requests) != 1 {
		t.Fatalf("runtime saw %d requests, want 1", len(requests))
	}
	req := requests[0]
	if req.SessionKey != "cron:scheduler:daily-summary" {
		t.Errorf("session key = %q, want %q", req.SessionKey, "cron:scheduler:daily-summary")
	}
	if req.Prompt != "run daily-summary" {
		t.Errorf("prompt = %q, want %q", req.Prompt, "run daily-summary")
	}
	if req.ModelContext != ModelContextCron {
		t.Errorf("model context = %q, want %q", req.ModelContext, ModelContextCron)
	}

	execs, err := s.History().List(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("history rows = %d, want 1", len(execs))
	}
	exec := execs[0]
	if exec.Status != ExecutionSucceeded {
		t.Errorf("status = %q, want %q", exec.Status, ExecutionSucceeded)
	}
	if exec.Output != "done" {
		t.Errorf("output = %q, want %q", exec.Output, "done")
	}
	if exec.SessionKey != "cron:scheduler:daily-summary" {
		t.Errorf("recorded session key = %q", exec.SessionKey)
	}
	if exec.JobID != "daily-summary" {
		t.Errorf("recorded job id = %q", exec.JobID)
	}
}

func TestSchedulerDrainWaitsWhenBusy(t *testing.T) {
	t.Cleanup(ResetForTests)

	busy := true
	var executed int
	Configure(Runtime{
		IsBusy: func() bool { return busy },
		Execute: func(ctx context.Context, req ExecuteRequest) (string, error) {
			executed++
			return "", nil
		},
	})

	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	current := base
	s := newTestScheduler(t,
		Config{Jobs: []JobConfig{everyJob("sync", "Sync", time.Minute)}},
		WithNow(func() time.Time { return current }),
	)

	current = base.Add(2 * time.Minute)
	s.EnqueueDue(context.Background())

	if err := s.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce() while busy error = %v", err)
	}
	if executed != 0 {
		t.Errorf("executed %d jobs while busy, want 0", executed)
	}
	if s.Queue().Len() != 1 {
		t.Errorf("queue len while busy = %d, want 1", s.Queue().Len())
	}

	busy = false
	if err := s.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}
	if executed != 1 {
		t.Errorf("executed = %d, want 1", executed)
	}
	if s.Queue().Len() != 0 {
		t.Errorf("queue len after drain = %d, want 0", s.Queue().Len())
	}
}

func TestSchedulerExecuteFailureRecorded(t *testing.T) {
	t.Cleanup(ResetForTests)

	wantErr := errors.New("model unavailable")
	Configure(Runtime{
		IsBusy: func() bool { return false },
		Execute: func(ctx context.Context, req ExecuteRequest) (string, error) {
			return "", wantErr
		},
	})

	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	current := base
	s := newTestScheduler(t,
		Config{Jobs: []JobConfig{everyJob("flaky", "Flaky", time.Minute)}},
		WithNow(func() time.Time { return current }),
	)

	current = base.Add(2 * time.Minute)
	s.EnqueueDue(context.Background())
	if err := s.DrainOnce(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("DrainOnce() error = %v, want %v", err, wantErr)
	}

	execs, err := s.History().List(context.Background(), "flaky", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("history rows = %d, want 1", len(execs))
	}
	if execs[0].Status != ExecutionFailed {
		t.Errorf("status = %q, want %q", execs[0].Status, ExecutionFailed)
	}
	if !strings.Contains(execs[0].Error, "model unavailable") {
		t.Errorf("recorded error = %q, want mention of failure", execs[0].Error)
	}
	if got := s.Jobs()[0].LastError; !strings.Contains(got, "model unavailable") {
		t.Errorf("job LastError = %q, want mention of failure", got)
	}
}

func TestSchedulerTemplateRendering(t *testing.T) {
	t.Cleanup(ResetForTests)

	var prompt string
	Configure(Runtime{
		IsBusy: func() bool { return false },
		Execute: func(ctx context.Context, req ExecuteRequest) (string, error) {
			prompt = req.Prompt
			return "", nil
		},
	})

	base := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	current := base
	s := newTestScheduler(t,
		Config{Jobs: []JobConfig{{
			ID:       "standup",
			Name:     "Standup",
			Enabled:  true,
			Schedule: ScheduleConfig{Every: time.Minute},
			Template: "Report for {{.date}} ({{.team}})",
			Data:     map[string]any{"team": "core"},
		}}},
		WithNow(func() time.Time { return current }),
	)

	current = base.Add(2 * time.Minute)
	s.EnqueueDue(context.Background())
	if err := s.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}
	if want := "Report for 2026-03-04 (core)"; prompt != want {
		t.Errorf("prompt = %q, want %q", prompt, want)
	}
}

func TestSchedulerRunJob(t *testing.T) {
	t.Cleanup(ResetForTests)

	var executed int
	Configure(Runtime{
		IsBusy: func() bool { return false },
		Execute: func(ctx context.Context, req ExecuteRequest) (string, error) {
			executed++
			return "ok", nil
		},
	})

	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(t,
		Config{Jobs: []JobConfig{everyJob("manual", "Manual", time.Hour)}},
		WithNow(func() time.Time { return base }),
	)

	if err := s.RunJob(context.Background(), "manual"); err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if executed != 1 {
		t.Errorf("executed = %d, want 1", executed)
	}
	if s.Queue().Len() != 0 {
		t.Errorf("RunJob went through the queue: len = %d", s.Queue().Len())
	}

	job := s.Jobs()[0]
	if !job.LastRun.Equal(base) {
		t.Errorf("LastRun = %v, want %v", job.LastRun, base)
	}
	if want := base.Add(time.Hour); !job.NextRun.Equal(want) {
		t.Errorf("NextRun = %v, want %v", job.NextRun, want)
	}

	if err := s.RunJob(context.Background(), "missing"); err == nil {
		t.Error("RunJob() with unknown id succeeded, want error")
	}
}

func TestSchedulerAtJobRetires(t *testing.T) {
	t.Cleanup(ResetForTests)

	Configure(Runtime{
		IsBusy:  func() bool { return false },
		Execute: func(ctx context.Context, req ExecuteRequest) (string, error) { return "", nil },
	})

	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	current := base
	s := newTestScheduler(t,
		Config{Jobs: []JobConfig{{
			ID:       "once",
			Name:     "Once",
			Enabled:  true,
			Schedule: ScheduleConfig{At: "2026-01-02T10:00:30Z"},
			Prompt:   "go",
		}}},
		WithNow(func() time.Time { return current }),
	)

	current = base.Add(time.Minute)
	if got := s.EnqueueDue(context.Background()); got != 1 {
		t.Fatalf("EnqueueDue = %d, want 1", got)
	}

	job := s.Jobs()[0]
	if job.Enabled {
		t.Error("one-shot job still enabled after firing")
	}
	if !job.NextRun.IsZero() {
		t.Errorf("one-shot job NextRun = %v, want zero", job.NextRun)
	}

	current = current.Add(time.Minute)
	if got := s.EnqueueDue(context.Background()); got != 0 {
		t.Errorf("retired job enqueued again: %d", got)
	}
}

func TestSchedulerExecutionsStayIsolated(t *testing.T) {
	t.Cleanup(ResetForTests)

	var (
		mu   sync.Mutex
		keys []string
	)
	Configure(Runtime{
		IsBusy: func() bool { return false },
		Execute: func(ctx context.Context, req ExecuteRequest) (string, error) {
			mu.Lock()
			keys = append(keys, req.SessionKey)
			mu.Unlock()
			return "", nil
		},
	})

	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	current := base
	s := newTestScheduler(t,
		Config{Jobs: []JobConfig{
			everyJob("a", "Morning Brief", time.Minute),
			everyJob("b", "Inbox Sweep", time.Minute),
		}},
		WithNow(func() time.Time { return current }),
	)

	current = base.Add(2 * time.Minute)
	s.EnqueueDue(context.Background())
	for s.Queue().Len() > 0 {
		if err := s.DrainOnce(context.Background()); err != nil {
			t.Fatalf("DrainOnce() error = %v", err)
		}
	}

	if len(keys) != 2 {
		t.Fatalf("executed %d jobs, want 2", len(keys))
	}
	for _, key := range keys {
		if !IsCronSessionKey(key) {
			t.Errorf("execution session key %q not scheduler-owned", key)
		}
	}
	if keys[0] == keys[1] {
		t.Errorf("distinct jobs shared session key %q", keys[0])
	}
}
