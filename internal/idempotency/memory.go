package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryKeys keeps records in process memory.
type MemoryKeys struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]memoryRecord
}

type memoryRecord struct {
	Record
	createdAt time.Time
}

func NewMemoryKeys(ttl time.Duration) *MemoryKeys {
	return &MemoryKeys{ttl: ttl, now: time.Now, records: make(map[string]memoryRecord)}
}

func (k *MemoryKeys) Name() string { return "memory" }

func (k *MemoryKeys) Get(_ context.Context, key string) (Record, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	rec, ok := k.records[key]
	if !ok || k.expired(rec) {
		return Record{}, ErrNotFound
	}
	return rec.Record, nil
}

func (k *MemoryKeys) Reserve(_ context.Context, key, requestHash, _, _ string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if rec, ok := k.records[key]; ok && !k.expired(rec) {
		return false, nil
	}
	k.records[key] = memoryRecord{
		Record:    Record{Key: key, RequestHash: requestHash, InProgress: true},
		createdAt: k.now(),
	}
	return true, nil
}

func (k *MemoryKeys) Finalize(_ context.Context, key, requestHash string, status int, body []byte, contentType string) (Record, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	rec, ok := k.records[key]
	if !ok || rec.RequestHash != requestHash {
		return Record{}, ErrNotFound
	}
	rec.InProgress = false
	rec.Status = status
	rec.Body = append([]byte(nil), body...)
	rec.ContentType = contentType
	k.records[key] = rec
	return rec.Record, nil
}

func (k *MemoryKeys) expired(rec memoryRecord) bool {
	return k.ttl > 0 && k.now().Sub(rec.createdAt) >= k.ttl
}
