package batch

// limiter.go bounds the number of jobs that run at the same time.
//
// Each running job holds one slot for its whole run. A job that cannot get a
// slot within maxWait fails with ErrTooManyJobs instead of queueing forever.
// Shutdown uses WaitForDrain to let running jobs finish.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyJobs is returned when every job slot stays occupied for longer
// than the limiter's wait time.
var ErrTooManyJobs = errors.New("too many batch jobs running, please try again later")

// Limiter defaults.
const (
	DefaultMaxConcurrentJobs = 4
	DefaultMaxWait           = time.Minute
)

// JobLimiter is a counting semaphore for running jobs.
type JobLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	active  atomic.Int32
	waiting atomic.Int32
}

// NewJobLimiter allows at most maxConcurrent running jobs.
func NewJobLimiter(maxConcurrent int, maxWait time.Duration) *JobLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &JobLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire waits for a slot. It returns ErrTooManyJobs when maxWait passes
// first, or the context error when ctx ends. Every successful Acquire must
// be paired with Release.
func (l *JobLimiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	default:
	}

	l.waiting.Add(1)
	defer l.waiting.Add(-1)

	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-timer.C:
		return ErrTooManyJobs
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot only if one is free right now.
func (l *JobLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return true
	default:
		return false
	}
}

// Release returns a slot.
func (l *JobLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// Active returns the number of running jobs.
func (l *JobLimiter) Active() int {
	return int(l.active.Load())
}

// WaitForDrain blocks until no job holds a slot or ctx ends.
func (l *JobLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for l.Active() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// LimiterStatus is a point-in-time view of the limiter.
type LimiterStatus struct {
	Active        int `json:"active"`
	Waiting       int `json:"waiting"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status reports the current occupancy.
func (l *JobLimiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:        l.Active(),
		Waiting:       int(l.waiting.Load()),
		Available:     cap(l.slots) - len(l.slots),
		MaxConcurrent: cap(l.slots),
	}
}
