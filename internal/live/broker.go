// Package live fans projection updates out to subscribers.
package live

import (
	"sync"

	"github.com/ayo6706/account-cqrs/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultBuffer = 64

// Update is emitted after the projection applies one event.
type Update struct {
	Type      string          `json:"type"`
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	GlobalSeq uint64          `json:"global_seq"`
	// Origin names the instance that projected a relayed update. Empty for
	// updates produced by this process.
	Origin string `json:"-"`
}

// Filter selects updates for a subscription. The zero Filter matches everything.
type Filter struct {
	AccountID string
}

// All matches every account.
func All() Filter {
	return Filter{}
}

// ForAccount matches a single account.
func ForAccount(id string) Filter {
	return Filter{AccountID: id}
}

func (f Filter) Match(u Update) bool {
	return f.AccountID == "" || f.AccountID == u.AccountID
}

// Broker delivers updates without ever blocking the publisher. A subscriber
// whose buffer is full loses its oldest queued update.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	logger *zap.Logger
}

func NewBroker(buffer int, logger *zap.Logger) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Broker{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new subscription. Callers must Close it.
func (b *Broker) Subscribe(filter Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		filter: filter,
		ch:     make(chan Update, b.buffer),
		done:   make(chan struct{}),
		broker: b,
	}
	b.subs[sub.id] = sub
	observability.SetLiveSubscribers(len(b.subs))
	return sub
}

// Publish offers u to every matching subscription.
func (b *Broker) Publish(u Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.filter.Match(u) {
			continue
		}
		if !sub.offer(u) {
			observability.IncrementLiveUpdateDropped()
			b.logger.Debug("live update dropped", zap.Uint64("subscription", sub.id), zap.String("account_id", u.AccountID))
		}
	}
}

// Len returns the number of open subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	observability.SetLiveSubscribers(len(b.subs))
	// Publish holds the read lock while sending, so nothing is in flight here.
drain:
	for {
		select {
		case <-sub.ch:
		default:
			break drain
		}
	}
	close(sub.ch)
}

// Subscription is a cancellable, unbounded sequence of updates.
type Subscription struct {
	id        uint64
	filter    Filter
	ch        chan Update
	done      chan struct{}
	closeOnce sync.Once
	broker    *Broker
}

// Updates is closed once the subscription is closed.
func (s *Subscription) Updates() <-chan Update {
	return s.ch
}

// Done is closed once the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close releases the subscription and discards queued updates. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.broker.remove(s)
	})
}

// offer never blocks. On a full buffer the oldest queued update is discarded
// and false is returned.
func (s *Subscription) offer(u Update) bool {
	select {
	case s.ch <- u:
		return true
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- u:
	default:
	}
	return false
}
