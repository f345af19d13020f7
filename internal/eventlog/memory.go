package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/account-cqrs/internal/account"
	"github.com/ayo6706/account-cqrs/internal/domain"
)

// Memory is an in-process Log.
type Memory struct {
	mu     sync.RWMutex
	byAgg  map[string][]Record
	global []Record
	now    func() time.Time
}

// NewMemory creates an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{
		byAgg: make(map[string][]Record),
		now:   time.Now,
	}
}

// WithClock overrides the timestamp source.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Append(ctx context.Context, aggregateID string, expectedVersion uint64, evt account.Event) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if evt == nil {
		return Record{}, fmt.Errorf("append %s: nil event", aggregateID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := uint64(len(m.byAgg[aggregateID]))
	if current != expectedVersion {
		return Record{}, fmt.Errorf("%w: %s at version %d, expected %d", domain.ErrConcurrencyConflict, aggregateID, current, expectedVersion)
	}

	rec := Record{
		GlobalSeq:   uint64(len(m.global)) + 1,
		AggregateID: aggregateID,
		Version:     current + 1,
		Event:       evt,
		RecordedAt:  m.now().UTC(),
	}
	m.byAgg[aggregateID] = append(m.byAgg[aggregateID], rec)
	m.global = append(m.global, rec)
	return rec, nil
}

func (m *Memory) Load(ctx context.Context, aggregateID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.byAgg[aggregateID]
	out := make([]Record, len(records))
	copy(out, records)
	return out, nil
}

func (m *Memory) ReadAll(ctx context.Context, afterSeq uint64, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if afterSeq >= uint64(len(m.global)) {
		return nil, nil
	}
	rest := m.global[afterSeq:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	out := make([]Record, len(rest))
	copy(out, rest)
	return out, nil
}
