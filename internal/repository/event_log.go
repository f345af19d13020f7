package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/account-cqrs/internal/account"
	"github.com/ayo6706/account-cqrs/internal/domain"
	"github.com/ayo6706/account-cqrs/internal/eventlog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// appendLockKey serializes appends so global_seq values become visible in
// order and readers never step over a sequence that commits later.
const appendLockKey int64 = 0x6163636f756e7473

// EventLog is the Postgres-backed event log.
type EventLog struct {
	db *pgxpool.Pool
}

func NewEventLog(db *pgxpool.Pool) *EventLog {
	return &EventLog{db: db}
}

func (l *EventLog) Append(ctx context.Context, aggregateID string, expectedVersion uint64, evt account.Event) (eventlog.Record, error) {
	eventType, payload, err := account.EncodeEvent(evt)
	if err != nil {
		return eventlog.Record{}, err
	}

	rec := eventlog.Record{AggregateID: aggregateID, Version: expectedVersion + 1, Event: evt}
	err = runInTx(ctx, l.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
			return fmt.Errorf("lock event log: %w", err)
		}

		var current int64
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM account_events WHERE aggregate_id = $1`,
			aggregateID,
		).Scan(&current)
		if err != nil {
			return fmt.Errorf("read version of %s: %w", aggregateID, err)
		}
		if uint64(current) != expectedVersion {
			return fmt.Errorf("%w: %s at version %d, expected %d", domain.ErrConcurrencyConflict, aggregateID, current, expectedVersion)
		}

		var seq int64
		err = tx.QueryRow(ctx, `
			INSERT INTO account_events (aggregate_id, version, event_type, payload)
			VALUES ($1, $2, $3, $4)
			RETURNING global_seq, recorded_at
		`, aggregateID, int64(rec.Version), eventType, payload).Scan(&seq, &rec.RecordedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s version %d", domain.ErrConcurrencyConflict, aggregateID, rec.Version)
			}
			return fmt.Errorf("insert event: %w", err)
		}
		rec.GlobalSeq = uint64(seq)
		return nil
	})
	if err != nil {
		return eventlog.Record{}, err
	}
	rec.RecordedAt = rec.RecordedAt.UTC()
	return rec, nil
}

func (l *EventLog) Load(ctx context.Context, aggregateID string) ([]eventlog.Record, error) {
	rows, err := l.db.Query(ctx, `
		SELECT global_seq, aggregate_id, version, event_type, payload, recorded_at
		FROM account_events
		WHERE aggregate_id = $1
		ORDER BY version
	`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("load events of %s: %w", aggregateID, err)
	}
	return scanRecords(rows)
}

func (l *EventLog) ReadAll(ctx context.Context, afterSeq uint64, limit int) ([]eventlog.Record, error) {
	if limit <= 0 {
		limit = eventlog.DefaultPageSize
	}
	rows, err := l.db.Query(ctx, `
		SELECT global_seq, aggregate_id, version, event_type, payload, recorded_at
		FROM account_events
		WHERE global_seq > $1
		ORDER BY global_seq
		LIMIT $2
	`, int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("read events after %d: %w", afterSeq, err)
	}
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]eventlog.Record, error) {
	defer rows.Close()

	var records []eventlog.Record
	for rows.Next() {
		var (
			seq, version int64
			rec          eventlog.Record
			eventType    string
			payload      []byte
			recordedAt   time.Time
		)
		if err := rows.Scan(&seq, &rec.AggregateID, &version, &eventType, &payload, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt, err := account.DecodeEvent(eventType, payload)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", seq, err)
		}
		rec.GlobalSeq = uint64(seq)
		rec.Version = uint64(version)
		rec.Event = evt
		rec.RecordedAt = recordedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}
