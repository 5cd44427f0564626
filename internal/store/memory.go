package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/addrintel/internal/address"
	"github.com/JonMunkholm/addrintel/internal/confirm"
)

// Memory keeps everything in process memory.
type Memory struct {
	mu            sync.RWMutex
	results       map[string]*address.Result
	confirmations map[string]confirm.Record
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		results:       make(map[string]*address.Result),
		confirmations: make(map[string]confirm.Record),
	}
}

func (m *Memory) SaveResult(_ context.Context, res *address.Result) error {
	if res == nil || res.ID == "" {
		return fmt.Errorf("save result: missing id")
	}
	cp := *res
	m.mu.Lock()
	m.results[res.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Result(_ context.Context, id string) (*address.Result, error) {
	m.mu.RLock()
	res, ok := m.results[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, id)
	}
	cp := *res
	return &cp, nil
}

func (m *Memory) Tally(context.Context) (Tally, error) {
	t := Tally{ByModel: make(map[string]int)}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, res := range m.results {
		t.Total++
		if res.Completeness == address.Complete {
			t.Complete++
		}
		t.ByModel[modelKey(res.Model)]++
	}
	return t, nil
}

// SaveConfirmation upserts rec. A confirmed record is never overwritten.
func (m *Memory) SaveConfirmation(_ context.Context, rec confirm.Record) error {
	if rec.Reference == "" {
		return fmt.Errorf("save confirmation: missing reference")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.confirmations[rec.Reference]; ok && cur.State == confirm.StateConfirmed {
		return nil
	}
	m.confirmations[rec.Reference] = rec
	return nil
}

func (m *Memory) Confirmation(_ context.Context, reference string) (confirm.Record, error) {
	m.mu.RLock()
	rec, ok := m.confirmations[reference]
	m.mu.RUnlock()
	if !ok {
		return confirm.Record{}, fmt.Errorf("%w: %s", confirm.ErrNotFound, reference)
	}
	return rec, nil
}

func (m *Memory) ConfirmationsByResult(_ context.Context, resultID string) ([]confirm.Record, error) {
	return m.filter(func(rec confirm.Record) bool { return rec.ResultID == resultID }), nil
}

func (m *Memory) PendingConfirmations(context.Context) ([]confirm.Record, error) {
	return m.filter(func(rec confirm.Record) bool { return rec.State == confirm.StateTriggered }), nil
}

// filter returns matching records oldest first.
func (m *Memory) filter(keep func(confirm.Record) bool) []confirm.Record {
	m.mu.RLock()
	var out []confirm.Record
	for _, rec := range m.confirmations {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].Reference < out[j].Reference
		}
		return out[i].TriggeredAt.Before(out[j].TriggeredAt)
	})
	return out
}

// Close is a no-op.
func (m *Memory) Close() {}
