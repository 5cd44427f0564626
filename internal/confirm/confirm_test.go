package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/addrintel/internal/address"
)

type memStore struct {
	mu   sync.Mutex
	recs map[string]Record
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]Record)}
}

func (s *memStore) SaveConfirmation(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.Reference] = rec
	return nil
}

func (s *memStore) Confirmation(_ context.Context, ref string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[ref]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *memStore) ConfirmationsByResult(_ context.Context, id string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.recs {
		if rec.ResultID == id {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference < out[j].Reference })
	return out, nil
}

func (s *memStore) PendingConfirmations(context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.recs {
		if rec.State == StateTriggered {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeAgent struct {
	mu        sync.Mutex
	triggers  []TriggerRequest
	fetches   atomic.Int32
	confirmed map[string]*Confirmation
	trigErr   error
	delay     time.Duration
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{confirmed: make(map[string]*Confirmation)}
}

func (a *fakeAgent) Trigger(_ context.Context, req TriggerRequest) error {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.trigErr != nil {
		return a.trigErr
	}
	a.triggers = append(a.triggers, req)
	return nil
}

func (a *fakeAgent) Fetch(_ context.Context, ref string) (*Confirmation, error) {
	a.fetches.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.confirmed[ref], nil
}

func (a *fakeAgent) confirm(ref string, c *Confirmation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.confirmed[ref] = c
}

func (a *fakeAgent) triggerCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.triggers)
}

func lowResult() *address.Result {
	return &address.Result{
		ID:                "res-1",
		OriginalAddress:   "12 Long St, Cape Town",
		NormalizedAddress: "12 Long Street, Cape Town, 8001",
		Fields: address.Fields{
			City:       address.Str("Cape Town"),
			PostalCode: address.Str("8001"),
			Latitude:   address.Float(-33.9249),
			Longitude:  address.Float(18.4241),
		},
		ConfidenceScore: 62,
		ConfidenceLevel: address.BandLow,
		Country:         "south-africa",
		Contact:         "021 123 4567",
	}
}

func TestParseAction(t *testing.T) {
	for _, in := range []string{"call", "CALL", " whatsapp "} {
		_, err := ParseAction(in)
		assert.NoError(t, err, in)
	}
	_, err := ParseAction("email")
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestTrigger_Eligibility(t *testing.T) {
	tr := NewTracker(newFakeAgent(), newMemStore(), WithPollInterval(time.Hour))
	defer tr.Close()

	res := lowResult()
	res.ConfidenceScore = TriggerThreshold
	_, err := tr.Trigger(context.Background(), res, "call")
	assert.ErrorIs(t, err, ErrNotEligible)

	res.ConfidenceScore = TriggerThreshold - 1
	_, err = tr.Trigger(context.Background(), res, "fax")
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = tr.Trigger(context.Background(), nil, "call")
	assert.Error(t, err)
}

func TestTrigger_Idempotent(t *testing.T) {
	agent := newFakeAgent()
	tr := NewTracker(agent, newMemStore(), WithPollInterval(time.Hour))
	defer tr.Close()
	ctx := context.Background()

	first, err := tr.Trigger(ctx, lowResult(), "call")
	require.NoError(t, err)
	assert.Equal(t, StateTriggered, first.State)
	assert.Regexp(t, `^ADDR_\d+_[0-9A-F]{8}$`, first.Reference)

	again, err := tr.Trigger(ctx, lowResult(), "call")
	require.NoError(t, err)
	assert.Equal(t, first.Reference, again.Reference)
	assert.Equal(t, 1, agent.triggerCount())
	assert.Equal(t, 1, tr.Polling())

	other, err := tr.Trigger(ctx, lowResult(), "whatsapp")
	require.NoError(t, err)
	assert.NotEqual(t, first.Reference, other.Reference)
	assert.Equal(t, 2, agent.triggerCount())

	req := agent.triggers[0]
	assert.Equal(t, "12 Long St, Cape Town", req.Address)
	assert.Equal(t, "8001", req.PostalCode)
	assert.Equal(t, "Cape Town", req.City)
}

func TestTrigger_ConcurrentDuplicatesCollapse(t *testing.T) {
	agent := newFakeAgent()
	agent.delay = 20 * time.Millisecond
	tr := NewTracker(agent, newMemStore(), WithPollInterval(time.Hour))
	defer tr.Close()

	var wg sync.WaitGroup
	refs := make([]string, 8)
	for i := range refs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := tr.Trigger(context.Background(), lowResult(), "call")
			if assert.NoError(t, err) {
				refs[i] = rec.Reference
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, agent.triggerCount())
	for _, ref := range refs {
		assert.Equal(t, refs[0], ref)
	}
}

func TestTrigger_AgentFailureSavesNothing(t *testing.T) {
	agent := newFakeAgent()
	agent.trigErr = errors.New("connection refused")
	store := newMemStore()
	tr := NewTracker(agent, store, WithPollInterval(time.Hour))
	defer tr.Close()

	_, err := tr.Trigger(context.Background(), lowResult(), "call")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	recs, _ := store.ConfirmationsByResult(context.Background(), "res-1")
	assert.Empty(t, recs)
	assert.Equal(t, 0, tr.Polling())
}

func TestPoll_ConfirmsOnce(t *testing.T) {
	agent := newFakeAgent()
	tr := NewTracker(agent, newMemStore(), WithPollInterval(time.Hour))
	defer tr.Close()
	ctx := context.Background()

	rec, err := tr.Trigger(ctx, lowResult(), "whatsapp")
	require.NoError(t, err)

	pending, err := tr.Poll(ctx, rec.Reference)
	require.NoError(t, err)
	assert.Equal(t, StateTriggered, pending.State)
	assert.Nil(t, pending.Differences)

	agent.confirm(rec.Reference, &Confirmation{
		Address:     "14 Long Street, Cape Town, 8001",
		Latitude:    address.Float(-33.9250),
		Longitude:   address.Float(18.4242),
		ConfirmedBy: "customer",
		Raw:         json.RawMessage(`{"status":"confirmed"}`),
	})

	done, err := tr.Poll(ctx, rec.Reference)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, done.State)
	assert.Equal(t, "whatsapp", done.ConfirmationMethod)
	require.NotNil(t, done.ConfirmedAt)
	require.NotNil(t, done.Differences)
	assert.True(t, done.Differences.Changed)
	require.NotNil(t, done.Differences.DistanceKm)
	assert.Less(t, *done.Differences.DistanceKm, 0.1)
	assert.Equal(t, 0, tr.Polling())

	// A later agent answer never rewrites the record.
	agent.confirm(rec.Reference, &Confirmation{Address: "somewhere else"})
	fetches := agent.fetches.Load()
	again, err := tr.Poll(ctx, rec.Reference)
	require.NoError(t, err)
	assert.Equal(t, done.Confirmed, again.Confirmed)
	assert.Equal(t, done.Differences, again.Differences)
	assert.Equal(t, fetches, agent.fetches.Load(), "confirmed record must not call the agent")

	_, err = tr.Trigger(ctx, lowResult(), "call")
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)

	byResult, err := tr.ByResult(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Reference, byResult.Reference)
}

func TestPoll_UnknownReference(t *testing.T) {
	tr := NewTracker(newFakeAgent(), newMemStore(), WithPollInterval(time.Hour))
	defer tr.Close()

	_, err := tr.Poll(context.Background(), "ADDR_1_X")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = tr.ByResult(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPollerStopsAfterConfirmation(t *testing.T) {
	agent := newFakeAgent()
	store := newMemStore()
	tr := NewTracker(agent, store, WithPollInterval(5*time.Millisecond))
	defer tr.Close()
	ctx := context.Background()

	rec, err := tr.Trigger(ctx, lowResult(), "call")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return agent.fetches.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, tr.Polling())

	agent.confirm(rec.Reference, &Confirmation{Address: "12 Long Street, Cape Town, 8001"})

	require.Eventually(t, func() bool { return tr.Polling() == 0 }, time.Second, 5*time.Millisecond)
	after := agent.fetches.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, agent.fetches.Load(), "poller kept fetching after confirmation")

	got, err := store.Confirmation(ctx, rec.Reference)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, got.State)
	assert.False(t, got.Differences.Changed)
	assert.Nil(t, got.Differences.DistanceKm, "confirmation had no coordinates")
}

func TestResume(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	require.NoError(t, store.SaveConfirmation(ctx, Record{Reference: "ADDR_1_A", ResultID: "r1", State: StateTriggered}))
	require.NoError(t, store.SaveConfirmation(ctx, Record{Reference: "ADDR_2_B", ResultID: "r2", State: StateConfirmed}))

	tr := NewTracker(newFakeAgent(), store, WithPollInterval(time.Hour))
	n, err := tr.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, tr.Polling())

	tr.Close()
	assert.Equal(t, 0, tr.Polling())

	_, err = tr.Trigger(ctx, lowResult(), "call")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestScheduler(t *testing.T) {
	s := NewScheduler(5 * time.Millisecond)

	var calls atomic.Int32
	assert.True(t, s.Start("a", func(context.Context) bool {
		return calls.Add(1) >= 3
	}))
	assert.False(t, s.Start("a", func(context.Context) bool { return true }), "duplicate reference")

	require.Eventually(t, func() bool { return s.Active() == 0 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 3, calls.Load())

	assert.True(t, s.Start("b", func(context.Context) bool { return false }))
	assert.True(t, s.Polling("b"))
	s.Stop("b")
	assert.False(t, s.Polling("b"))

	assert.True(t, s.Start("c", func(context.Context) bool { return false }))
	s.Close()
	assert.Equal(t, 0, s.Active())
	assert.False(t, s.Start("d", func(context.Context) bool { return false }), "closed scheduler")
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		original string
		lat, lon *float64
		conf     Confirmed
		changed  bool
		distance bool
	}{
		{
			name:     "identical ignoring case and commas",
			original: "12 Long Street, Cape Town",
			conf:     Confirmed{Address: "12 long street cape town"},
		},
		{
			name:     "street number changed",
			original: "12 Long Street, Cape Town",
			conf:     Confirmed{Address: "14 Long Street, Cape Town"},
			changed:  true,
		},
		{
			name:     "same text but moved",
			original: "12 Long Street, Cape Town",
			lat:      address.Float(-33.92), lon: address.Float(18.42),
			conf:     Confirmed{Address: "12 Long Street, Cape Town", Latitude: address.Float(-33.95), Longitude: address.Float(18.42)},
			changed:  true,
			distance: true,
		},
		{
			name:     "original without coordinates",
			original: "12 Long Street",
			conf:     Confirmed{Address: "12 Long Street", Latitude: address.Float(-33.9), Longitude: address.Float(18.4)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Compare(tt.original, tt.lat, tt.lon, tt.conf)
			assert.Equal(t, tt.changed, d.Changed)
			assert.Equal(t, tt.distance, d.DistanceKm != nil)
			if tt.changed && !tt.distance {
				assert.Contains(t, d.Unified, "--- original")
			}
			if !tt.changed {
				assert.Empty(t, d.Unified)
			}
		})
	}

	d := Compare("12 Long Street", nil, nil, Confirmed{Address: "14 Long Street"})
	require.Len(t, d.TextDiff, 2)
	assert.Equal(t, DiffOp{Op: "replace", Original: []string{"12"}, Confirmed: []string{"14"}}, d.TextDiff[0])
	assert.Equal(t, "equal", d.TextDiff[1].Op)
}

func TestHTTPAgent(t *testing.T) {
	var got triggerPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/create":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ok":true}`))
		case r.URL.Path == "/confirmations/ADDR_1_DONE":
			_, _ = w.Write([]byte(`{
				"status": "confirmed",
				"confirmed_address": "14 Long Street, Cape Town",
				"confirmed_coordinates": {"latitude": -33.92, "longitude": 18.42},
				"confirmation_method": "call",
				"confirmed_by": "customer",
				"confirmed_at": "2026-01-02T03:04:05Z"
			}`))
		case r.URL.Path == "/confirmations/ADDR_1_WAIT":
			_, _ = w.Write([]byte(`{"status":"pending"}`))
		case r.URL.Path == "/confirmations/ADDR_1_BOOM":
			http.Error(w, "upstream down", http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	agent := NewHTTPAgent(HTTPAgentConfig{
		BaseURL:      srv.URL + "/",
		APIKey:       "secret",
		DefaultPhone: "+27 11 555 0100",
	})
	ctx := context.Background()

	err := agent.Trigger(ctx, TriggerRequest{
		Reference:  "ADDR_1_DONE",
		Action:     ActionCall,
		Contact:    "021 123 4567",
		Address:    "12 Long St",
		City:       "Cape Town",
		PostalCode: "8001",
		Country:    "south-africa",
		Latitude:   address.Float(-33.9249),
	})
	require.NoError(t, err)
	assert.Equal(t, "+27211234567", got.CustomerPhoneNumber)
	assert.Equal(t, "ADDR_1_DONE", got.ReferenceNumber)
	assert.Equal(t, "Customer", got.CustomerName)
	assert.Equal(t, "0", got.CODAmount)
	assert.Equal(t, "en", got.PreferredLanguage)
	assert.Equal(t, "South Africa", got.AddressDetails.Country)
	assert.Equal(t, "8001", got.AddressDetails.Pincode)
	assert.Equal(t, "-33.9249", got.AddressDetails.Latitude)
	assert.Equal(t, "", got.AddressDetails.Longitude)

	c, err := agent.Fetch(ctx, "ADDR_1_DONE")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "14 Long Street, Cape Town", c.Address)
	assert.Equal(t, "call", c.Method)
	require.NotNil(t, c.Latitude)
	assert.InDelta(t, -33.92, *c.Latitude, 1e-9)
	assert.Equal(t, 2026, c.ConfirmedAt.Year())

	c, err = agent.Fetch(ctx, "ADDR_1_WAIT")
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = agent.Fetch(ctx, "ADDR_1_MISSING")
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = agent.Fetch(ctx, "ADDR_1_BOOM")
	assert.ErrorContains(t, err, "502")
}

func TestNormalizeE164(t *testing.T) {
	assert.Equal(t, "+27211234567", NormalizeE164("021 123 4567", "ZA"))
	assert.Equal(t, "+27211234567", NormalizeE164("+27 21 123 4567", "ZA"))
	assert.Equal(t, "", NormalizeE164("not a number", "ZA"))
	assert.Equal(t, "", NormalizeE164("  ", "ZA"))
}
