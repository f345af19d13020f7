package live

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func update(id string, seq uint64) Update {
	return Update{Type: "AccountCredited", AccountID: id, Balance: decimal.NewFromInt(int64(seq)), GlobalSeq: seq}
}

func TestBroker_FilterByAccount(t *testing.T) {
	b := NewBroker(8, zap.NewNop())
	all := b.Subscribe(All())
	defer all.Close()
	one := b.Subscribe(ForAccount("A1"))
	defer one.Close()

	b.Publish(update("A1", 1))
	b.Publish(update("B2", 2))

	assert.Equal(t, uint64(1), (<-all.Updates()).GlobalSeq)
	assert.Equal(t, uint64(2), (<-all.Updates()).GlobalSeq)
	assert.Equal(t, uint64(1), (<-one.Updates()).GlobalSeq)
	select {
	case u := <-one.Updates():
		t.Fatalf("unexpected update %+v", u)
	default:
	}
}

func TestBroker_SlowSubscriberDropsOldest(t *testing.T) {
	b := NewBroker(2, zap.NewNop())
	sub := b.Subscribe(All())
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := uint64(1); i <= 5; i++ {
			b.Publish(update("A1", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	assert.Equal(t, uint64(4), (<-sub.Updates()).GlobalSeq)
	assert.Equal(t, uint64(5), (<-sub.Updates()).GlobalSeq)
}

func TestSubscription_CloseDiscardsQueued(t *testing.T) {
	b := NewBroker(4, zap.NewNop())
	sub := b.Subscribe(All())
	b.Publish(update("A1", 1))
	b.Publish(update("A1", 2))

	sub.Close()
	sub.Close()

	_, ok := <-sub.Updates()
	assert.False(t, ok)
	assert.Zero(t, b.Len())
	select {
	case <-sub.Done():
	default:
		t.Fatal("done not closed")
	}

	// Publishing after close must not panic.
	b.Publish(update("A1", 3))
}

func TestBroker_ConcurrentCloseAndPublish(t *testing.T) {
	b := NewBroker(1, zap.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub := b.Subscribe(All())
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := uint64(0); j < 50; j++ {
				b.Publish(update("A1", j))
			}
		}()
		go func() {
			defer wg.Done()
			sub.Close()
		}()
	}
	wg.Wait()
	require.Zero(t, b.Len())
}
