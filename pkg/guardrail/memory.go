package guardrail

import (
	"context"
	"sync"
	"time"
)

// MemoryCounters is an in-process Counters implementation for single-node
// deployments, grounded on the teacher's InMemoryLimiterStore
// (core/pkg/kernel/limiter.go): one mutex-guarded map keyed by counter key,
// pruned lazily on read.
type MemoryCounters struct {
	mu        sync.Mutex
	events    map[string][]time.Time
	lastTouch map[string]time.Time
	spend     map[string][]spendEntry
}

type spendEntry struct {
	at     time.Time
	amount float64
}

// NewMemoryCounters constructs an empty MemoryCounters.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{
		events:    map[string][]time.Time{},
		lastTouch: map[string]time.Time{},
		spend:     map[string][]spendEntry{},
	}
}

func (m *MemoryCounters) CountSince(ctx context.Context, key string, since, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.events[key][:0]
	for _, t := range m.events[key] {
		if !t.Before(since) {
			kept = append(kept, t)
		}
	}
	count := len(kept)
	kept = append(kept, now)
	m.events[key] = kept
	return count, nil
}

func (m *MemoryCounters) LastTouch(ctx context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastTouch[key]
	return t, ok, nil
}

func (m *MemoryCounters) Touch(ctx context.Context, key string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTouch[key] = now
	return nil
}

func (m *MemoryCounters) SpendSince(ctx context.Context, key string, since time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.spend[key][:0]
	var total float64
	for _, e := range m.spend[key] {
		if !e.at.Before(since) {
			kept = append(kept, e)
			total += e.amount
		}
	}
	m.spend[key] = kept
	return total, nil
}

func (m *MemoryCounters) RecordSpend(ctx context.Context, key string, amount float64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spend[key] = append(m.spend[key], spendEntry{at: now, amount: amount})
	return nil
}

var _ Counters = (*MemoryCounters)(nil)
