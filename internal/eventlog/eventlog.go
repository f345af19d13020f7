// Package eventlog defines the append-only account event log the write side
// appends to and the projection consumes from.
package eventlog

import (
	"context"
	"iter"
	"time"

	"github.com/ayo6706/account-cqrs/internal/account"
)

// DefaultPageSize is used when no positive page size is given.
const DefaultPageSize = 200

// Record is an event as stored in the log.
type Record struct {
	// GlobalSeq orders records across all accounts, starting at 1.
	GlobalSeq   uint64
	AggregateID string
	// Version orders records of one account, starting at 1.
	Version    uint64
	Event      account.Event
	RecordedAt time.Time
}

// Log is the event log contract.
type Log interface {
	// Append stores evt as version expectedVersion+1 of aggregateID. It fails
	// with domain.ErrConcurrencyConflict when the current version differs.
	Append(ctx context.Context, aggregateID string, expectedVersion uint64, evt account.Event) (Record, error)
	// Load returns every record of aggregateID in version order.
	Load(ctx context.Context, aggregateID string) ([]Record, error)
	Reader
}

// Reader reads the global stream.
type Reader interface {
	// ReadAll returns up to limit records with GlobalSeq > afterSeq in order.
	ReadAll(ctx context.Context, afterSeq uint64, limit int) ([]Record, error)
}

// Stream lazily yields every record after afterSeq, paging through r. The
// sequence stops at the current end of the log and can be restarted from any
// checkpoint. Iteration ends after the first error is yielded.
func Stream(ctx context.Context, r Reader, afterSeq uint64, pageSize int) iter.Seq2[Record, error] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return func(yield func(Record, error) bool) {
		last := afterSeq
		for {
			if err := ctx.Err(); err != nil {
				yield(Record{}, err)
				return
			}
			page, err := r.ReadAll(ctx, last, pageSize)
			if err != nil {
				yield(Record{}, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
				last = rec.GlobalSeq
			}
			if len(page) < pageSize {
				return
			}
		}
	}
}
