package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/account-cqrs/internal/domain"
	"github.com/ayo6706/account-cqrs/internal/readmodel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const checkpointName = "accounts"

// ReadModel is the Postgres-backed projection store. Amounts are kept as
// integer micros.
type ReadModel struct {
	db *pgxpool.Pool
}

func NewReadModel(db *pgxpool.Pool) *ReadModel {
	return &ReadModel{db: db}
}

func (m *ReadModel) ListAccounts(ctx context.Context) ([]readmodel.AccountSummary, error) {
	rows, err := m.db.Query(ctx, `
		SELECT id, balance_micros, currency, status, created_at
		FROM account_summaries
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []readmodel.AccountSummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

func (m *ReadModel) GetAccount(ctx context.Context, id string) (readmodel.AccountSummary, error) {
	return findSummary(ctx, m.db, id)
}

func (m *ReadModel) ListOperations(ctx context.Context, accountID string) ([]readmodel.Operation, error) {
	rows, err := m.db.Query(ctx, `
		SELECT id, occurred_at, amount_micros, type, account_id
		FROM account_operations
		WHERE account_id = $1
		ORDER BY id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list operations of %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []readmodel.Operation
	for rows.Next() {
		var (
			op     readmodel.Operation
			id     int64
			micros int64
			opType string
		)
		if err := rows.Scan(&id, &op.Date, &micros, &opType, &op.AccountID); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.ID = uint64(id)
		op.Date = op.Date.UTC()
		op.Amount = domain.FromMicros(micros)
		op.Type = readmodel.OperationType(opType)
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return out, nil
}

func (m *ReadModel) Checkpoint(ctx context.Context) (uint64, error) {
	var seq int64
	err := m.db.QueryRow(ctx, `SELECT global_seq FROM projection_checkpoints WHERE name = $1`, checkpointName).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	return uint64(seq), nil
}

// Reset truncates every projection table.
func (m *ReadModel) Reset(ctx context.Context) error {
	_, err := m.db.Exec(ctx, `
		TRUNCATE account_summaries, account_operations, projection_offsets, projection_checkpoints
		RESTART IDENTITY
	`)
	if err != nil {
		return fmt.Errorf("reset read model: %w", err)
	}
	return nil
}

// Update runs fn in one database transaction.
func (m *ReadModel) Update(ctx context.Context, fn func(tx readmodel.Tx) error) error {
	return runInTx(ctx, m.db, func(tx pgx.Tx) error {
		return fn(&readModelTx{tx: tx})
	})
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type readModelTx struct {
	tx pgx.Tx
}

func (t *readModelTx) FindAccount(ctx context.Context, id string) (readmodel.AccountSummary, error) {
	return findSummary(ctx, t.tx, id)
}

func (t *readModelTx) InsertAccount(ctx context.Context, summary readmodel.AccountSummary) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO account_summaries (id, balance_micros, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, summary.ID, domain.ToMicros(summary.Balance), summary.Currency, summary.Status, summary.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: summary %s", domain.ErrAlreadyExists, summary.ID)
	}
	if err != nil {
		return fmt.Errorf("insert summary %s: %w", summary.ID, err)
	}
	return nil
}

func (t *readModelTx) UpdateAccount(ctx context.Context, summary readmodel.AccountSummary) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE account_summaries
		SET balance_micros = $2, status = $3
		WHERE id = $1
	`, summary.ID, domain.ToMicros(summary.Balance), summary.Status)
	if err != nil {
		return fmt.Errorf("update summary %s: %w", summary.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: summary %s", domain.ErrNotFound, summary.ID)
	}
	return nil
}

func (t *readModelTx) InsertOperation(ctx context.Context, op readmodel.Operation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO account_operations (id, account_id, amount_micros, type, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, int64(op.ID), op.AccountID, domain.ToMicros(op.Amount), string(op.Type), op.Date)
	if err != nil {
		return fmt.Errorf("insert operation %d: %w", op.ID, err)
	}
	return nil
}

func (t *readModelTx) AppliedVersion(ctx context.Context, accountID string) (uint64, error) {
	var version int64
	err := t.tx.QueryRow(ctx, `SELECT version FROM projection_offsets WHERE account_id = $1`, accountID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load applied version of %s: %w", accountID, err)
	}
	return uint64(version), nil
}

func (t *readModelTx) SetAppliedVersion(ctx context.Context, accountID string, version uint64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO projection_offsets (account_id, version) VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET version = EXCLUDED.version
	`, accountID, int64(version))
	if err != nil {
		return fmt.Errorf("save applied version of %s: %w", accountID, err)
	}
	return nil
}

func (t *readModelTx) SaveCheckpoint(ctx context.Context, globalSeq uint64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO projection_checkpoints (name, global_seq) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET global_seq = GREATEST(projection_checkpoints.global_seq, EXCLUDED.global_seq)
	`, checkpointName, int64(globalSeq))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func findSummary(ctx context.Context, q querier, id string) (readmodel.AccountSummary, error) {
	row := q.QueryRow(ctx, `
		SELECT id, balance_micros, currency, status, created_at
		FROM account_summaries
		WHERE id = $1
	`, id)
	summary, err := scanSummary(row)
	if err != nil {
		return readmodel.AccountSummary{}, notFound(err, "summary %s", id)
	}
	return summary, nil
}

func scanSummary(row pgx.Row) (readmodel.AccountSummary, error) {
	var (
		summary readmodel.AccountSummary
		micros  int64
	)
	if err := row.Scan(&summary.ID, &micros, &summary.Currency, &summary.Status, &summary.CreatedAt); err != nil {
		return readmodel.AccountSummary{}, err
	}
	summary.Balance = domain.FromMicros(micros)
	summary.CreatedAt = summary.CreatedAt.UTC()
	return summary, nil
}
