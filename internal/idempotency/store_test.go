package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ReserveFinalizeLookup(t *testing.T) {
	store := NewStore(nil, NewMemoryKeys(time.Hour), time.Hour, nil)
	ctx := context.Background()

	_, err := store.Lookup(ctx, "k1", "h1")
	assert.ErrorIs(t, err, ErrNotFound)

	reserved, err := store.Reserve(ctx, "k1", "h1", "POST", "/v1/accounts")
	require.NoError(t, err)
	assert.True(t, reserved)

	_, err = store.Lookup(ctx, "k1", "h1")
	assert.ErrorIs(t, err, ErrInProgress)
	reserved, err = store.Reserve(ctx, "k1", "h1", "POST", "/v1/accounts")
	require.NoError(t, err)
	assert.False(t, reserved)

	_, err = store.Finalize(ctx, "k1", "h1", 201, []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)

	rec, err := store.Lookup(ctx, "k1", "h1")
	require.NoError(t, err)
	assert.Equal(t, 201, rec.Status)
	assert.Equal(t, "memory", rec.ServedBy)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Body))

	_, err = store.Lookup(ctx, "k1", "other")
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestStore_WaitForCompletion(t *testing.T) {
	store := NewStore(nil, NewMemoryKeys(time.Hour), time.Hour, nil)
	ctx := context.Background()
	_, err := store.Reserve(ctx, "k1", "h1", "POST", "/")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = store.Finalize(ctx, "k1", "h1", 200, []byte("done"), "text/plain")
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	rec, err := store.WaitForCompletion(waitCtx, "k1", "h1")
	require.NoError(t, err)
	assert.Equal(t, "done", string(rec.Body))
}

func TestMemoryKeys_ExpiredKeysAreReclaimed(t *testing.T) {
	keys := NewMemoryKeys(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	keys.now = func() time.Time { return now }
	ctx := context.Background()

	reserved, err := keys.Reserve(ctx, "k1", "h1", "POST", "/")
	require.NoError(t, err)
	require.True(t, reserved)

	now = now.Add(2 * time.Minute)
	_, err = keys.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
	reserved, err = keys.Reserve(ctx, "k1", "h2", "POST", "/")
	require.NoError(t, err)
	assert.True(t, reserved)
}
