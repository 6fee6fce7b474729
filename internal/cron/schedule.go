package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind discriminates the three supported schedule forms.
type ScheduleKind string

const (
	// ScheduleCron runs on a cron expression, optionally in a timezone.
	ScheduleCron ScheduleKind = "cron"
	// ScheduleEvery runs on a fixed interval.
	ScheduleEvery ScheduleKind = "every"
	// ScheduleAt runs once at an absolute time.
	ScheduleAt ScheduleKind = "at"
)

// ScheduleConfig is the schedule block of a job definition. Exactly one of
// Cron, Every, or At must be set; At wins over Every wins over Cron when
// several are present.
type ScheduleConfig struct {
	Cron     string        `yaml:"cron,omitempty" json:"cron,omitempty"`
	Every    time.Duration `yaml:"every,omitempty" json:"every,omitempty"`
	At       string        `yaml:"at,omitempty" json:"at,omitempty"`
	Timezone string        `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// Schedule is a parsed, validated job schedule.
type Schedule struct {
	Kind     ScheduleKind
	CronExpr string
	Every    time.Duration
	At       time.Time
	Timezone string
}

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// NewSchedule parses a schedule config into a Schedule.
func NewSchedule(cfg ScheduleConfig) (Schedule, error) {
	if strings.TrimSpace(cfg.Cron) == "" && cfg.Every == 0 && strings.TrimSpace(cfg.At) == "" {
		return Schedule{}, fmt.Errorf("schedule is required")
	}
	sched := Schedule{
		CronExpr: strings.TrimSpace(cfg.Cron),
		Every:    cfg.Every,
		Timezone: strings.TrimSpace(cfg.Timezone),
	}
	if strings.TrimSpace(cfg.At) != "" {
		at, err := parseAt(cfg.At, sched.Timezone)
		if err != nil {
			return Schedule{}, err
		}
		sched.At = at
		sched.Kind = ScheduleAt
		return sched, nil
	}
	if sched.Every > 0 {
		sched.Kind = ScheduleEvery
		return sched, nil
	}
	if sched.CronExpr != "" {
		if _, err := cronParser.Parse(sched.CronExpr); err != nil {
			return Schedule{}, fmt.Errorf("invalid cron expression: %w", err)
		}
		sched.Kind = ScheduleCron
		return sched, nil
	}
	return Schedule{}, fmt.Errorf("invalid schedule")
}

// String renders the schedule for logs and CLI listings.
func (s Schedule) String() string {
	switch s.Kind {
	case ScheduleAt:
		return fmt.Sprintf("at %s", s.At.Format(time.RFC3339))
	case ScheduleEvery:
		return fmt.Sprintf("every %s", s.Every)
	case ScheduleCron:
		if s.Timezone != "" {
			return fmt.Sprintf("cron %q (%s)", s.CronExpr, s.Timezone)
		}
		return fmt.Sprintf("cron %q", s.CronExpr)
	default:
		return string(s.Kind)
	}
}

// Next returns the next run time strictly after now. The boolean is false
// when the schedule has no further runs, which permanently retires the job.
func (s Schedule) Next(now time.Time) (time.Time, bool, error) {
	switch s.Kind {
	case ScheduleAt:
		if s.At.IsZero() {
			return time.Time{}, false, fmt.Errorf("at schedule missing timestamp")
		}
		if now.After(s.At) {
			return time.Time{}, false, nil
		}
		return s.At, true, nil
	case ScheduleEvery:
		if s.Every <= 0 {
			return time.Time{}, false, fmt.Errorf("every schedule missing duration")
		}
		return now.Add(s.Every), true, nil
	case ScheduleCron:
		if s.CronExpr == "" {
			return time.Time{}, false, fmt.Errorf("cron schedule missing expression")
		}
		loc := now.Location()
		if s.Timezone != "" {
			if tz, err := time.LoadLocation(s.Timezone); err == nil {
				loc = tz
			}
		}
		schedule, err := cronParser.Parse(s.CronExpr)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse cron expression: %w", err)
		}
		next := schedule.Next(now.In(loc))
		return next, !next.IsZero(), nil
	default:
		return time.Time{}, false, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

func parseAt(value, tz string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("at schedule value required")
	}
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			if parsed, err := time.ParseInLocation(time.RFC3339, value, loc); err == nil {
				return parsed, nil
			}
			if parsed, err := time.ParseInLocation("2006-01-02 15:04", value, loc); err == nil {
				return parsed, nil
			}
		}
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed, nil
	}
	if parsed, err := time.Parse("2006-01-02 15:04", value); err == nil {
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("invalid at schedule: %s", value)
}
