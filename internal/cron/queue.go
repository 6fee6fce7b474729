package cron

import (
	"sync"
	"time"
)

// QueuedJob is one due job waiting for the runtime to go idle.
type QueuedJob struct {
	JobID      string
	Name       string
	Prompt     string
	Schedule   Schedule
	EnqueuedAt time.Time
}

// Queue holds due jobs between drain passes in FIFO order. The zero value is
// ready to use.
type Queue struct {
	mu   sync.Mutex
	jobs []*QueuedJob
}

// Enqueue appends a job to the queue. Nil jobs are ignored.
func (q *Queue) Enqueue(job *QueuedJob) {
	if job == nil {
		return
	}
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// shift pops the oldest job and reports how many remain. It returns nil when
// the queue is empty.
func (q *Queue) shift() (*QueuedJob, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, 0
	}
	job := q.jobs[0]
	q.jobs = append(q.jobs[:0], q.jobs[1:]...)
	return job, len(q.jobs)
}

// ProcessParams wires one drain pass to its queue and runtime.
type ProcessParams struct {
	State           *Queue
	IsBusy          func() bool
	ExecuteJob      func(job *QueuedJob) error
	OnQueueNotEmpty func(remaining int)
	OnQueueEmpty    func()
}

// ProcessQueuedJobs performs a single drain pass. An empty queue signals
// OnQueueEmpty. A busy runtime signals OnQueueNotEmpty without consuming
// anything. Otherwise exactly one job is shifted and executed, and the
// callback matching the remaining queue length fires. The executor's error,
// if any, is returned after signaling; the job is consumed either way.
func ProcessQueuedJobs(p ProcessParams) error {
	signalEmpty := func() {
		if p.OnQueueEmpty != nil {
			p.OnQueueEmpty()
		}
	}
	signalRemaining := func(n int) {
		if p.OnQueueNotEmpty != nil {
			p.OnQueueNotEmpty(n)
		}
	}

	if p.State == nil || p.State.Len() == 0 {
		signalEmpty()
		return nil
	}
	if p.IsBusy != nil && p.IsBusy() {
		signalRemaining(p.State.Len())
		return nil
	}

	job, remaining := p.State.shift()
	if job == nil {
		signalEmpty()
		return nil
	}
	var err error
	if p.ExecuteJob != nil {
		err = p.ExecuteJob(job)
	}
	if remaining > 0 {
		signalRemaining(remaining)
	} else {
		signalEmpty()
	}
	return err
}
