package cron

import (
	"strings"

	"github.com/courierhq/courier/internal/identity"
)

const (
	routeTenant  = "cron"
	routeChannel = "scheduler"
)

// BuildSchedulerRoute derives the isolated identity for a named scheduler
// job: tenant "cron", channel "scheduler", thread slug(name). Two jobs with
// the same name share a session; distinct names never collide with user
// sessions because no channel boundary admits the "cron" tenant.
func BuildSchedulerRoute(name string) identity.Identity {
	return identity.Identity{
		Tenant:  routeTenant,
		Channel: routeChannel,
		Thread:  slug(name),
	}
}

// slug lowercases name and collapses every run of non-alphanumerics into a
// single "-", trimming leading and trailing dashes. A name with no
// alphanumerics at all becomes "job".
func slug(name string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(name) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte('-')
		}
		pending = false
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "job"
	}
	return b.String()
}
