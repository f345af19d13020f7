package eventlog

import (
	"context"
	"testing"

	"github.com/ayo6706/account-cqrs/internal/account"
	"github.com/ayo6706/account-cqrs/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func credited(id string, amount int64) account.Event {
	return account.Credited{AccountID: id, Amount: decimal.NewFromInt(amount)}
}

func TestMemory_AppendAssignsSequences(t *testing.T) {
	ctx := context.Background()
	log := NewMemory()

	a1, err := log.Append(ctx, "A", 0, credited("A", 1))
	require.NoError(t, err)
	b1, err := log.Append(ctx, "B", 0, credited("B", 1))
	require.NoError(t, err)
	a2, err := log.Append(ctx, "A", 1, credited("A", 2))
	require.NoError(t, err)

	assert.Equal(t, []uint64{1, 2, 3}, []uint64{a1.GlobalSeq, b1.GlobalSeq, a2.GlobalSeq})
	assert.Equal(t, []uint64{1, 1, 2}, []uint64{a1.Version, b1.Version, a2.Version})

	records, err := log.Load(ctx, "A")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(2), records[1].Version)
}

func TestMemory_AppendRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	log := NewMemory()

	_, err := log.Append(ctx, "A", 0, credited("A", 1))
	require.NoError(t, err)

	_, err = log.Append(ctx, "A", 0, credited("A", 2))
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	records, err := log.Load(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStream_PagesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	log := NewMemory()
	for i := 0; i < 7; i++ {
		_, err := log.Append(ctx, "A", uint64(i), credited("A", int64(i+1)))
		require.NoError(t, err)
	}

	var seqs []uint64
	for rec, err := range Stream(ctx, log, 2, 2) {
		require.NoError(t, err)
		seqs = append(seqs, rec.GlobalSeq)
	}
	assert.Equal(t, []uint64{3, 4, 5, 6, 7}, seqs)

	// Restartable from the end: nothing left.
	count := 0
	for range Stream(ctx, log, 7, 2) {
		count++
	}
	assert.Zero(t, count)
}

func TestStream_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got error
	for _, err := range Stream(ctx, NewMemory(), 0, 10) {
		got = err
	}
	assert.ErrorIs(t, got, context.Canceled)
}
