package cron

import (
	"sync"
	"time"
)

const defaultDrainInterval = 30 * time.Second

// DrainTimerOptions configures the process-wide queue drain timer. OnDrain
// runs once per interval; a non-nil error it returns is handed to OnError.
type DrainTimerOptions struct {
	Interval time.Duration
	OnDrain  func() error
	OnError  func(error)
}

var (
	drainMu   sync.Mutex
	drainStop chan struct{}
)

// StartQueueDrainTimer starts the periodic drain loop. The timer is a
// single-writer resource: the first call starts it and later calls are no-ops
// until StopQueueDrainTimer releases it. It reports whether this call
// started the timer.
func StartQueueDrainTimer(opts DrainTimerOptions) bool {
	drainMu.Lock()
	defer drainMu.Unlock()
	if drainStop != nil {
		return false
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultDrainInterval
	}
	stop := make(chan struct{})
	drainStop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if opts.OnDrain == nil {
					continue
				}
				if err := opts.OnDrain(); err != nil && opts.OnError != nil {
					opts.OnError(err)
				}
			}
		}
	}()
	return true
}

// StopQueueDrainTimer stops the drain loop if one is running. It is safe to
// call repeatedly.
func StopQueueDrainTimer() {
	drainMu.Lock()
	defer drainMu.Unlock()
	if drainStop == nil {
		return
	}
	close(drainStop)
	drainStop = nil
}
