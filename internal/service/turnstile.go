package service

import (
	"context"
	"sync"
)

// turnstile admits one holder per key at a time, in arrival order. Callers
// for different keys never wait on each other.
type turnstile struct {
	mu     sync.Mutex
	queues map[string][]chan struct{}
}

func newTurnstile() *turnstile {
	return &turnstile{queues: make(map[string][]chan struct{})}
}

// enter blocks until the caller holds the turn for key. The returned function
// releases it. On cancellation the caller leaves the queue without the turn.
func (t *turnstile) enter(ctx context.Context, key string) (func(), error) {
	ticket := make(chan struct{})

	t.mu.Lock()
	queue := t.queues[key]
	t.queues[key] = append(queue, ticket)
	if len(queue) == 0 {
		close(ticket)
	}
	t.mu.Unlock()

	select {
	case <-ticket:
		return func() { t.leave(key, ticket) }, nil
	case <-ctx.Done():
	}

	t.mu.Lock()
	select {
	case <-ticket:
		// Granted while cancelling: pass the turn on.
		t.mu.Unlock()
		t.leave(key, ticket)
	default:
		t.dropLocked(key, ticket)
		t.mu.Unlock()
	}
	return nil, ctx.Err()
}

func (t *turnstile) leave(key string, ticket chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropLocked(key, ticket)
}

// dropLocked removes ticket from the queue and grants the next waiter when
// the head changed.
func (t *turnstile) dropLocked(key string, ticket chan struct{}) {
	queue := t.queues[key]
	for i, c := range queue {
		if c != ticket {
			continue
		}
		queue = append(queue[:i:i], queue[i+1:]...)
		if len(queue) == 0 {
			delete(t.queues, key)
			return
		}
		t.queues[key] = queue
		if i == 0 {
			close(queue[0])
		}
		return
	}
}

// waiting reports how many callers hold or await the turn for key.
func (t *turnstile) waiting(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queues[key])
}
