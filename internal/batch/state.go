package batch

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Progress is a lightweight update sent to subscribers.
type Progress struct {
	ID        string  `json:"job_id"`
	Status    Status  `json:"status"`
	Total     int     `json:"total"`
	Processed int     `json:"processed"`
	Percent   float64 `json:"progress_percentage"`
}

// job is the mutable state behind a Snapshot. Every field below mu is
// guarded by it; rows, id, created and done never change.
type job struct {
	id      string
	rows    []Row
	created time.Time
	done    chan struct{}

	mu        sync.Mutex
	status    Status
	results   []RowResult
	processed int
	succeeded int
	failed    int
	running   bool
	cancelled bool
	cancelReq bool
	cancel    context.CancelFunc
	err       string
	started   time.Time
	completed time.Time
	finished  bool
	listeners []chan Progress
}

func newJob(id string, rows []Row, now time.Time) *job {
	j := &job{
		id:      id,
		rows:    make([]Row, len(rows)),
		created: now,
		done:    make(chan struct{}),
		status:  StatusPending,
		results: make([]RowResult, len(rows)),
	}
	for i, r := range rows {
		if r.Index == 0 {
			r.Index = i + 1
		}
		r.Source = maps.Clone(r.Source)
		j.rows[i] = r
		j.results[i] = RowResult{
			Index:   r.Index,
			Address: r.Address,
			Country: r.Country,
			Status:  RowPending,
			Source:  r.Source,
		}
	}
	return j
}

// claim marks the job as owned by a runner.
func (j *job) claim() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running || j.status.Terminal() {
		return ErrJobStarted
	}
	j.running = true
	return nil
}

// setCancel stores the runner's cancel func, firing it at once when a cancel
// was requested before the runner got here.
func (j *job) setCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
	if j.cancelReq {
		cancel()
	}
}

func (j *job) cancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelReq
}

// requestCancel records a cancel request. It finalizes a job that has no
// runner and reports whether it did so.
func (j *job) requestCancel(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.Terminal() {
		return false
	}
	j.cancelReq = true
	if j.cancel != nil {
		j.cancel()
	}
	if j.running {
		return false
	}
	j.cancelPendingLocked(now)
	return true
}

// markDispatched moves a pending job to processing.
func (j *job) markDispatched(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusPending {
		j.status = StatusProcessing
		j.started = now
		j.notifyLocked()
	}
}

// commit writes one row outcome. The processed count, the row and the
// completion check change together so readers never see a partial row.
func (j *job) commit(i int, rr RowResult, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.results[i].Status != RowPending {
		return
	}
	j.results[i] = rr
	j.processed++
	switch rr.Status {
	case RowSucceeded:
		j.succeeded++
	case RowFailed:
		j.failed++
	}
	j.completeIfDoneLocked(now)
	j.notifyLocked()
}

// cancelRemaining records every undispatched row as cancelled and returns
// how many there were.
func (j *job) cancelRemaining(now time.Time) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelPendingLocked(now)
}

func (j *job) cancelPendingLocked(now time.Time) int {
	n := 0
	for i := range j.results {
		if j.results[i].Status != RowPending {
			continue
		}
		j.results[i].Status = RowCancelled
		j.results[i].Error = "cancelled before processing"
		j.processed++
		n++
	}
	if n > 0 {
		j.cancelled = true
	}
	j.completeIfDoneLocked(now)
	j.notifyLocked()
	return n
}

func (j *job) completeIfDoneLocked(now time.Time) {
	if j.processed == len(j.results) && !j.status.Terminal() {
		j.status = StatusComplete
		j.completed = now
	}
}

// fail marks a job that could not start.
func (j *job) fail(err error, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.status = StatusFailed
	j.err = err.Error()
	j.completed = now
	j.notifyLocked()
}

// finish closes subscriber channels and releases waiters. Called once, by
// whoever moved the job to a terminal state.
func (j *job) finish() {
	j.mu.Lock()
	j.finished = true
	for _, ch := range j.listeners {
		close(ch)
	}
	j.listeners = nil
	j.mu.Unlock()

	close(j.done)
}

func (j *job) subscribe() <-chan Progress {
	ch := make(chan Progress, 16)

	j.mu.Lock()
	defer j.mu.Unlock()

	ch <- j.progressLocked()
	if j.finished {
		close(ch)
	} else {
		j.listeners = append(j.listeners, ch)
	}
	return ch
}

func (j *job) notifyLocked() {
	if len(j.listeners) == 0 {
		return
	}
	p := j.progressLocked()
	for _, ch := range j.listeners {
		select {
		case ch <- p:
		default:
			// Slow reader, drop the update.
		}
	}
}

func (j *job) progressLocked() Progress {
	return Progress{
		ID:        j.id,
		Status:    j.status,
		Total:     len(j.results),
		Processed: j.processed,
		Percent:   progress(j.processed, len(j.results)),
	}
}

func (j *job) snapshotStatus() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		ID:        j.id,
		Status:    j.status,
		Total:     len(j.results),
		Processed: j.processed,
		Succeeded: j.succeeded,
		Failed:    j.failed,
		Progress:  progress(j.processed, len(j.results)),
		Cancelled: j.cancelled,
		Error:     j.err,
		Results:   make([]RowResult, len(j.results)),
		CreatedAt: j.created,
	}
	copy(s.Results, j.results)
	if !j.started.IsZero() {
		t := j.started
		s.StartedAt = &t
	}
	if !j.completed.IsZero() {
		t := j.completed
		s.CompletedAt = &t
	}
	return s
}
