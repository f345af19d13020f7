package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresKeys keeps records in the idempotency_keys table. Rows older than
// ttl may be reclaimed by a new reservation.
type PostgresKeys struct {
	db  *pgxpool.Pool
	ttl time.Duration
}

func NewPostgresKeys(db *pgxpool.Pool, ttl time.Duration) *PostgresKeys {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PostgresKeys{db: db, ttl: ttl}
}

func (k *PostgresKeys) Name() string { return "postgres" }

func (k *PostgresKeys) Get(ctx context.Context, key string) (Record, error) {
	rec := Record{Key: key}
	var status int32
	err := k.db.QueryRow(ctx, `
		SELECT request_hash, in_progress, response_status, COALESCE(response_body, ''::bytea), content_type
		FROM idempotency_keys
		WHERE idempotency_key = $1 AND created_at > NOW() - make_interval(secs => $2::float8)
	`, key, k.ttl.Seconds()).Scan(&rec.RequestHash, &rec.InProgress, &status, &rec.Body, &rec.ContentType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("lookup idempotency key: %w", err)
	}
	rec.Status = int(status)
	return rec, nil
}

func (k *PostgresKeys) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	var reserved string
	err := k.db.QueryRow(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    method = EXCLUDED.method,
		    path = EXCLUDED.path,
		    in_progress = TRUE,
		    response_status = 0,
		    response_body = NULL,
		    content_type = '',
		    created_at = NOW()
		WHERE idempotency_keys.created_at <= NOW() - make_interval(secs => $5::float8)
		RETURNING idempotency_key
	`, key, requestHash, method, path, k.ttl.Seconds()).Scan(&reserved)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("reserve idempotency key: %w", err)
}

func (k *PostgresKeys) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (Record, error) {
	tag, err := k.db.Exec(ctx, `
		UPDATE idempotency_keys
		SET in_progress = FALSE, response_status = $3, response_body = $4, content_type = $5
		WHERE idempotency_key = $1 AND request_hash = $2
	`, key, requestHash, int32(status), body, contentType)
	if err != nil {
		return Record{}, fmt.Errorf("finalize idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Record{}, ErrNotFound
	}
	return Record{Key: key, RequestHash: requestHash, Status: status, Body: body, ContentType: contentType}, nil
}
