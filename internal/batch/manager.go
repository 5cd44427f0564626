package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JonMunkholm/addrintel/internal/address"
	"github.com/JonMunkholm/addrintel/internal/logging"
	"github.com/JonMunkholm/addrintel/internal/metrics"
	"github.com/JonMunkholm/addrintel/internal/validation"
)

// RowValidator validates a single address. *validation.Validator satisfies it.
type RowValidator interface {
	Validate(ctx context.Context, q address.Query) (*address.Result, error)
}

// Manager defaults.
const (
	DefaultWorkers    = 4
	DefaultRowTimeout = 45 * time.Second
	DefaultRetention  = time.Hour
	DefaultMaxRows    = 5000
)

// Config tunes a Manager. Zero values take the defaults.
type Config struct {
	Workers           int
	RowTimeout        time.Duration
	MaxConcurrentJobs int
	MaxWait           time.Duration
	Retention         time.Duration
	MaxRows           int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.RowTimeout <= 0 {
		c.RowTimeout = DefaultRowTimeout
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.MaxRows <= 0 {
		c.MaxRows = DefaultMaxRows
	}
	return c
}

// ResultHook receives every successful row result before it is committed.
type ResultHook func(ctx context.Context, res *address.Result)

// Manager owns all batch jobs of the process.
type Manager struct {
	validator RowValidator
	cfg       Config
	limiter   *JobLimiter
	metrics   *metrics.Metrics
	onResult  ResultHook
	now       func() time.Time

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*job
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithResultHook registers a callback for successful rows.
func WithResultHook(fn ResultHook) Option {
	return func(mgr *Manager) { mgr.onResult = fn }
}

// WithClock replaces time.Now for job timestamps.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

// NewManager creates a Manager.
func NewManager(v RowValidator, cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	base, stop := context.WithCancel(context.Background())

	m := &Manager{
		validator: v,
		cfg:       cfg,
		limiter:   NewJobLimiter(cfg.MaxConcurrentJobs, cfg.MaxWait),
		now:       time.Now,
		base:      base,
		stop:      stop,
		jobs:      make(map[string]*job),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit creates a pending job and returns its id. Empty input and input
// above the row limit are rejected with a *SubmissionError and no job.
func (m *Manager) Submit(rows []Row) (string, error) {
	if len(rows) == 0 {
		return "", &SubmissionError{Reason: "no rows to validate"}
	}
	if len(rows) > m.cfg.MaxRows {
		return "", &SubmissionError{Reason: fmt.Sprintf("%d rows exceeds the limit of %d", len(rows), m.cfg.MaxRows)}
	}

	j := newJob(uuid.NewString(), rows, m.now())

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrManagerClosed
	}
	m.jobs[j.id] = j
	m.metrics.JobSubmitted()

	return j.id, nil
}

// Start runs a submitted job in the background.
func (m *Manager) Start(id string) error {
	j, err := m.get(id)
	if err != nil {
		return err
	}
	if err := j.claim(); err != nil {
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(m.base, j)
	}()
	return nil
}

// Run runs a submitted job and returns its final snapshot.
func (m *Manager) Run(ctx context.Context, id string) (Snapshot, error) {
	j, err := m.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	if err := j.claim(); err != nil {
		return Snapshot{}, err
	}
	m.run(ctx, j)
	return j.snapshot(), nil
}

// Status returns a copy of the job. It never changes the job.
func (m *Manager) Status(id string) (Snapshot, error) {
	j, err := m.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return j.snapshot(), nil
}

// Wait blocks until the job is terminal or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (Snapshot, error) {
	j, err := m.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Subscribe returns a channel of progress updates that is closed when the
// job finishes. Slow readers miss intermediate updates.
func (m *Manager) Subscribe(id string) (<-chan Progress, error) {
	j, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return j.subscribe(), nil
}

// Cancel stops dispatching rows. Rows already running finish and keep their
// results; the rest are recorded as cancelled and the job completes. Calling
// Cancel on a finished job has no effect.
func (m *Manager) Cancel(id string) (Snapshot, error) {
	j, err := m.get(id)
	if err != nil {
		return Snapshot{}, err
	}

	if j.requestCancel(m.now()) {
		// The job never ran, so nothing else will finish it.
		j.finish()
		m.evictLater(j.id)
	}
	logging.WithFields(m.base, "job_id", id).Info("batch job cancel requested")
	return j.snapshot(), nil
}

// JobCounts summarizes the jobs a Manager still holds. Jobs drop out of the
// counts once their retention ends.
type JobCounts struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Rows       int `json:"rows_processed"`
	RowsFailed int `json:"rows_failed"`
}

// Counts tallies the retained jobs by status along with their row totals.
func (m *Manager) Counts() JobCounts {
	m.mu.RLock()
	jobs := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.RUnlock()

	var c JobCounts
	for _, j := range jobs {
		j.mu.Lock()
		c.Total++
		switch j.status {
		case StatusComplete:
			c.Completed++
		case StatusFailed:
			c.Failed++
		default:
			c.Active++
		}
		c.Rows += j.processed
		c.RowsFailed += j.failed
		j.mu.Unlock()
	}
	return c
}

// LimiterStatus reports job slot usage.
func (m *Manager) LimiterStatus() LimiterStatus {
	return m.limiter.Status()
}

// Shutdown cancels every job, then waits for running jobs to drain or ctx
// to end. No new jobs are accepted afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.jobs))
	for id, j := range m.jobs {
		if !j.snapshotStatus().Terminal() {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		_, _ = m.Cancel(id)
	}
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.limiter.WaitForDrain(ctx)
}

func (m *Manager) get(id string) (*job, error) {
	m.mu.RLock()
	j, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j, nil
}

// evictLater forgets a terminal job after the retention period.
func (m *Manager) evictLater(id string) {
	time.AfterFunc(m.cfg.Retention, func() {
		m.mu.Lock()
		delete(m.jobs, id)
		m.mu.Unlock()
	})
}

// run drives a claimed job to a terminal state.
func (m *Manager) run(ctx context.Context, j *job) {
	log := logging.WithFields(ctx, "job_id", j.id)
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	j.setCancel(cancel)

	m.metrics.JobStarted()
	event := "completed"
	defer func() {
		j.finish()
		m.metrics.JobFinished(event)
		m.evictLater(j.id)
	}()

	if err := m.limiter.Acquire(runCtx); err != nil {
		if j.cancelRequested() || ctx.Err() != nil {
			j.cancelRemaining(m.now())
			event = "cancelled"
			log.Info("batch job cancelled before start")
			return
		}
		j.fail(err, m.now())
		event = "failed"
		log.Warn("batch job could not start", "error", err)
		return
	}
	defer m.limiter.Release()

	log.Info("batch job started", "rows", len(j.rows), "workers", m.cfg.Workers)

	// Worker slots are taken with the job context so a cancel stops
	// dispatch even while every worker is busy.
	sem := semaphore.NewWeighted(int64(m.cfg.Workers))
	var g errgroup.Group
	for i := range j.rows {
		if err := sem.Acquire(runCtx, 1); err != nil {
			break
		}
		if runCtx.Err() != nil {
			sem.Release(1)
			break
		}
		j.markDispatched(m.now())
		g.Go(func() error {
			defer sem.Release(1)
			m.runRow(runCtx, j, i)
			return nil
		})
	}
	_ = g.Wait()

	if n := j.cancelRemaining(m.now()); n > 0 {
		event = "cancelled"
		log.Info("batch job cancelled", "undispatched_rows", n)
	}

	snap := j.snapshot()
	log.Info("batch job finished",
		"status", snap.Status,
		"succeeded", snap.Succeeded,
		"failed", snap.Failed,
		"cancelled", snap.Cancelled,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// runRow validates one row and commits the outcome. Cancelling the job does
// not interrupt a row that is already running; only the row timeout does.
func (m *Manager) runRow(parent context.Context, j *job, i int) {
	row := j.rows[i]

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), m.cfg.RowTimeout)
	defer cancel()
	ctx = validation.ContextWithSource(ctx, validation.SourceBatch)

	rr := RowResult{
		Index:   row.Index,
		Address: row.Address,
		Country: row.Country,
		Source:  row.Source,
	}

	res, err := m.validate(ctx, row)
	if err != nil {
		rerr := classify(row.Index, err)
		rr.Status = RowFailed
		rr.Error = rerr.Err.Error()
		rr.ErrorKind = rerr.Kind
		logging.WithFields(ctx, "job_id", j.id, "row", row.Index).Warn("batch row failed",
			"kind", rerr.Kind,
			"error", rerr.Err,
		)
	} else {
		rr.Status = RowSucceeded
		rr.Result = res
		if m.onResult != nil {
			m.onResult(ctx, res)
		}
	}

	j.commit(i, rr, m.now())
	m.metrics.IncRow(string(rr.Status))
}

// validate calls the validator and turns a panic into an error.
func (m *Manager) validate(ctx context.Context, row Row) (res *address.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return m.validator.Validate(ctx, address.Query{
		Address: row.Address,
		Country: row.Country,
		Contact: row.Contact,
	})
}
