package cron

import "testing"

func TestBuildSchedulerRoute(t *testing.T) {
	tests := []struct {
		name       string
		jobName    string
		wantThread string
	}{
		{"simple", "Daily Summary", "daily-summary"},
		{"already slug", "weekly-report", "weekly-report"},
		{"punctuation collapsed", "Standup!! (Mon/Wed)", "standup-mon-wed"},
		{"surrounding junk trimmed", "  **Release Notes**  ", "release-notes"},
		{"digits kept", "Backup 2x Daily", "backup-2x-daily"},
		{"empty name", "", "job"},
		{"no alphanumerics", "***", "job"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := BuildSchedulerRoute(tt.jobName)
			if route.Tenant != "cron" {
				t.Errorf("tenant = %q, want %q", route.Tenant, "cron")
			}
			if route.Channel != "scheduler" {
				t.Errorf("channel = %q, want %q", route.Channel, "scheduler")
			}
			if route.Thread != tt.wantThread {
				t.Errorf("thread = %q, want %q", route.Thread, tt.wantThread)
			}
			key := route.SessionKey()
			if !IsCronSessionKey(key) {
				t.Errorf("session key %q missing scheduler prefix", key)
			}
		})
	}
}

func TestBuildSchedulerRouteSessionKey(t *testing.T) {
	got := BuildSchedulerRoute("Daily Summary").SessionKey()
	if got != "cron:scheduler:daily-summary" {
		t.Errorf("SessionKey() = %q, want %q", got, "cron:scheduler:daily-summary")
	}
}
