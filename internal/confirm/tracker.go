package confirm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/JonMunkholm/addrintel/internal/address"
	"github.com/JonMunkholm/addrintel/internal/logging"
	"github.com/JonMunkholm/addrintel/internal/metrics"
)

// Tracker drives confirmation records from trigger to confirmation.
type Tracker struct {
	agent   Agent
	store   Store
	sched   *Scheduler
	metrics *metrics.Metrics
	now     func() time.Time

	triggers singleflight.Group

	// confirmMu serializes the read-check-write that freezes a record.
	confirmMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithPollInterval sets how often outstanding references are polled.
func WithPollInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.sched = NewScheduler(d) }
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = m }
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a Tracker.
func NewTracker(agent Agent, store Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		agent: agent,
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.sched == nil {
		t.sched = NewScheduler(DefaultPollInterval)
	}
	return t
}

// Trigger starts a confirmation action for res. Triggering the same result
// and action again while the first is outstanding returns the same record
// without contacting the agent.
func (t *Tracker) Trigger(ctx context.Context, res *address.Result, action string) (Record, error) {
	if res == nil || res.ID == "" {
		return Record{}, errors.New("trigger confirmation: result is required")
	}
	act, err := ParseAction(action)
	if err != nil {
		return Record{}, err
	}
	if res.ConfidenceScore >= TriggerThreshold {
		return Record{}, fmt.Errorf("%w: score %d is at or above %d", ErrNotEligible, res.ConfidenceScore, TriggerThreshold)
	}
	if t.isClosed() {
		return Record{}, ErrClosed
	}

	v, err, _ := t.triggers.Do(res.ID+"/"+string(act), func() (any, error) {
		return t.trigger(ctx, res, act)
	})
	if err != nil {
		return Record{}, err
	}
	return v.(Record), nil
}

func (t *Tracker) trigger(ctx context.Context, res *address.Result, act Action) (Record, error) {
	log := logging.WithFields(ctx, "result_id", res.ID, "action", act)

	existing, err := t.store.ConfirmationsByResult(ctx, res.ID)
	if err != nil {
		return Record{}, fmt.Errorf("look up confirmations: %w", err)
	}
	for _, rec := range existing {
		if rec.State == StateConfirmed {
			return Record{}, ErrAlreadyConfirmed
		}
	}
	for _, rec := range existing {
		if rec.Action == act && rec.State == StateTriggered {
			t.schedule(rec.Reference)
			t.metrics.IncTrigger(string(act), "duplicate")
			return rec, nil
		}
	}

	now := t.now().UTC()
	rec := Record{
		Reference:         NewReference(now),
		ResultID:          res.ID,
		Action:            act,
		State:             StateTriggered,
		TriggeredAt:       now,
		OriginalAddress:   originalText(res),
		OriginalLatitude:  res.Fields.Latitude,
		OriginalLongitude: res.Fields.Longitude,
		Contact:           res.Contact,
	}

	err = t.agent.Trigger(ctx, TriggerRequest{
		Reference:  rec.Reference,
		Action:     act,
		Contact:    res.Contact,
		Address:    res.OriginalAddress,
		City:       address.Value(res.Fields.City),
		PostalCode: address.Value(res.Fields.PostalCode),
		Country:    res.Country,
		Latitude:   res.Fields.Latitude,
		Longitude:  res.Fields.Longitude,
	})
	if err != nil {
		t.metrics.IncTrigger(string(act), "error")
		return Record{}, fmt.Errorf("trigger agent: %w", err)
	}

	if err := t.store.SaveConfirmation(ctx, rec); err != nil {
		t.metrics.IncTrigger(string(act), "error")
		return Record{}, fmt.Errorf("save confirmation: %w", err)
	}

	t.schedule(rec.Reference)
	t.metrics.IncTrigger(string(act), "ok")
	log.Info("confirmation triggered", "reference", rec.Reference)
	return rec, nil
}

// Poll asks the agent about reference once. A pending reference returns the
// triggered record; a confirmed one returns without calling the agent.
func (t *Tracker) Poll(ctx context.Context, reference string) (Record, error) {
	rec, err := t.store.Confirmation(ctx, reference)
	if err != nil {
		return Record{}, err
	}
	if rec.State == StateConfirmed {
		t.sched.Stop(reference)
		return rec, nil
	}

	c, err := t.agent.Fetch(ctx, reference)
	if err != nil {
		return rec, fmt.Errorf("fetch confirmation %s: %w", reference, err)
	}
	if c == nil {
		return rec, nil
	}
	return t.confirm(ctx, reference, c)
}

// confirm freezes the record for reference with c.
func (t *Tracker) confirm(ctx context.Context, reference string, c *Confirmation) (Record, error) {
	t.confirmMu.Lock()
	defer t.confirmMu.Unlock()

	rec, err := t.store.Confirmation(ctx, reference)
	if err != nil {
		return Record{}, err
	}
	if rec.State == StateConfirmed {
		return rec, nil
	}

	at := c.ConfirmedAt
	if at.IsZero() {
		at = t.now()
	}
	at = at.UTC()

	confirmed := Confirmed{
		Address:   strings.TrimSpace(c.Address),
		Latitude:  c.Latitude,
		Longitude: c.Longitude,
	}
	diff := Compare(rec.OriginalAddress, rec.OriginalLatitude, rec.OriginalLongitude, confirmed)

	rec.State = StateConfirmed
	rec.Confirmed = &confirmed
	rec.ConfirmedAt = &at
	rec.ConfirmationMethod = c.Method
	if rec.ConfirmationMethod == "" {
		rec.ConfirmationMethod = string(rec.Action)
	}
	rec.ConfirmedBy = c.ConfirmedBy
	rec.Differences = &diff
	rec.AgentResponse = c.Raw

	if err := t.store.SaveConfirmation(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("save confirmation: %w", err)
	}
	t.sched.Stop(reference)
	t.metrics.IncConfirmation()

	logging.WithFields(ctx, "reference", reference, "result_id", rec.ResultID).Info("address confirmed",
		"method", rec.ConfirmationMethod,
		"changed", diff.Changed,
	)
	return rec, nil
}

// Resume restarts polling for every record that was triggered but never
// confirmed, and returns how many it found.
func (t *Tracker) Resume(ctx context.Context) (int, error) {
	pending, err := t.store.PendingConfirmations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending confirmations: %w", err)
	}
	for _, rec := range pending {
		t.schedule(rec.Reference)
	}
	if len(pending) > 0 {
		logging.FromContext(ctx).Info("resumed confirmation polling", "pending", len(pending))
	}
	return len(pending), nil
}

// ByResult returns the confirmed record for resultID if there is one,
// otherwise the most recently triggered record. It returns ErrNotFound when
// no action was ever triggered for the result.
func (t *Tracker) ByResult(ctx context.Context, resultID string) (Record, error) {
	recs, err := t.store.ConfirmationsByResult(ctx, resultID)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, fmt.Errorf("%w: result %s", ErrNotFound, resultID)
	}

	latest := recs[0]
	for _, rec := range recs {
		if rec.State == StateConfirmed {
			return rec, nil
		}
		if rec.TriggeredAt.After(latest.TriggeredAt) {
			latest = rec
		}
	}
	return latest, nil
}

// Polling returns the number of references being polled.
func (t *Tracker) Polling() int {
	return t.sched.Active()
}

// Close stops all pollers. Records stay in the store and Resume picks them
// up again.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.sched.Close()
}

func (t *Tracker) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// schedule starts a poller for reference unless one is already running.
func (t *Tracker) schedule(reference string) {
	t.sched.Start(reference, func(ctx context.Context) bool {
		rec, err := t.Poll(ctx, reference)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return true
			}
			if ctx.Err() == nil {
				logging.WithFields(ctx, "reference", reference).Warn("confirmation poll failed", "error", err)
			}
			return false
		}
		return rec.State == StateConfirmed
	})
}

// NewReference returns a reference number in the agent's ADDR_<unix> format,
// suffixed so that two triggers in the same second stay distinct.
func NewReference(now time.Time) string {
	return fmt.Sprintf("ADDR_%d_%s", now.Unix(), strings.ToUpper(uuid.NewString()[:8]))
}

// originalText is the address the confirmation is compared against.
func originalText(res *address.Result) string {
	if res.NormalizedAddress != "" {
		return res.NormalizedAddress
	}
	return res.OriginalAddress
}
