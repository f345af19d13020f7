package readmodel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ayo6706/account-cqrs/internal/domain"
)

// Memory is an in-process Store.
type Memory struct {
	mu         sync.RWMutex
	accounts   map[string]AccountSummary
	order      []string
	operations map[string][]Operation
	applied    map[string]uint64
	checkpoint uint64
}

func NewMemory() *Memory {
	m := &Memory{}
	m.clear()
	return m
}

func (m *Memory) clear() {
	m.accounts = make(map[string]AccountSummary)
	m.order = nil
	m.operations = make(map[string][]Operation)
	m.applied = make(map[string]uint64)
	m.checkpoint = 0
}

func (m *Memory) ListAccounts(ctx context.Context) ([]AccountSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AccountSummary, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.accounts[id])
	}
	return out, nil
}

func (m *Memory) GetAccount(ctx context.Context, id string) (AccountSummary, error) {
	if err := ctx.Err(); err != nil {
		return AccountSummary{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary, ok := m.accounts[id]
	if !ok {
		return AccountSummary{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return summary, nil
}

func (m *Memory) ListOperations(ctx context.Context, accountID string) ([]Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := m.operations[accountID]
	out := make([]Operation, len(ops))
	copy(out, ops)
	return out, nil
}

func (m *Memory) Checkpoint(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoint, nil
}

func (m *Memory) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clear()
	return nil
}

// Update stages writes in a memTx and publishes them only when fn succeeds.
func (m *Memory) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		parent:   m,
		accounts: make(map[string]AccountSummary),
		applied:  make(map[string]uint64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	parent     *Memory
	accounts   map[string]AccountSummary
	inserted   []string
	operations []Operation
	applied    map[string]uint64
	checkpoint *uint64
}

func (tx *memTx) FindAccount(_ context.Context, id string) (AccountSummary, error) {
	if summary, ok := tx.accounts[id]; ok {
		return summary, nil
	}
	if summary, ok := tx.parent.accounts[id]; ok {
		return summary, nil
	}
	return AccountSummary{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
}

func (tx *memTx) InsertAccount(ctx context.Context, summary AccountSummary) error {
	if _, err := tx.FindAccount(ctx, summary.ID); err == nil {
		return fmt.Errorf("%w: summary %s", domain.ErrAlreadyExists, summary.ID)
	}
	tx.accounts[summary.ID] = summary
	tx.inserted = append(tx.inserted, summary.ID)
	return nil
}

func (tx *memTx) UpdateAccount(ctx context.Context, summary AccountSummary) error {
	if _, err := tx.FindAccount(ctx, summary.ID); err != nil {
		return err
	}
	tx.accounts[summary.ID] = summary
	return nil
}

func (tx *memTx) InsertOperation(_ context.Context, op Operation) error {
	for _, existing := range tx.parent.operations[op.AccountID] {
		if existing.ID == op.ID {
			return fmt.Errorf("operation %d already recorded", op.ID)
		}
	}
	tx.operations = append(tx.operations, op)
	return nil
}

func (tx *memTx) AppliedVersion(_ context.Context, accountID string) (uint64, error) {
	if v, ok := tx.applied[accountID]; ok {
		return v, nil
	}
	return tx.parent.applied[accountID], nil
}

func (tx *memTx) SetAppliedVersion(_ context.Context, accountID string, version uint64) error {
	tx.applied[accountID] = version
	return nil
}

func (tx *memTx) SaveCheckpoint(_ context.Context, globalSeq uint64) error {
	tx.checkpoint = &globalSeq
	return nil
}

func (tx *memTx) commit() {
	m := tx.parent
	for id, summary := range tx.accounts {
		m.accounts[id] = summary
	}
	m.order = append(m.order, tx.inserted...)
	for _, op := range tx.operations {
		m.operations[op.AccountID] = append(m.operations[op.AccountID], op)
		ops := m.operations[op.AccountID]
		sort.SliceStable(ops, func(i, j int) bool { return ops[i].ID < ops[j].ID })
	}
	for id, v := range tx.applied {
		m.applied[id] = v
	}
	if tx.checkpoint != nil {
		m.checkpoint = *tx.checkpoint
	}
}
