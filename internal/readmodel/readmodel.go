// Package readmodel holds the query-side account records maintained by the
// projection worker.
package readmodel

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type OperationType string

const (
	OperationCredit OperationType = "CREDIT"
	OperationDebit  OperationType = "DEBIT"
)

// AccountSummary mirrors the write-side account but may lag it.
type AccountSummary struct {
	ID        string          `json:"id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Operation is one ledger line. ID is the global sequence of the event that
// produced it.
type Operation struct {
	ID        uint64          `json:"id"`
	Date      time.Time       `json:"date"`
	Amount    decimal.Decimal `json:"amount"`
	Type      OperationType   `json:"type"`
	AccountID string          `json:"account_id"`
}

// Reader is the read-only view used by queries.
type Reader interface {
	ListAccounts(ctx context.Context) ([]AccountSummary, error)
	// GetAccount returns domain.ErrNotFound when no summary exists.
	GetAccount(ctx context.Context, id string) (AccountSummary, error)
	// ListOperations returns an account's operations in insertion order.
	ListOperations(ctx context.Context, accountID string) ([]Operation, error)
}

// Tx is a unit of work over the read model. Nothing is visible to readers
// until the surrounding Update returns nil.
type Tx interface {
	FindAccount(ctx context.Context, id string) (AccountSummary, error)
	InsertAccount(ctx context.Context, summary AccountSummary) error
	UpdateAccount(ctx context.Context, summary AccountSummary) error
	InsertOperation(ctx context.Context, op Operation) error
	// AppliedVersion returns the last projected version for an account, 0 if none.
	AppliedVersion(ctx context.Context, accountID string) (uint64, error)
	SetAppliedVersion(ctx context.Context, accountID string, version uint64) error
	SaveCheckpoint(ctx context.Context, globalSeq uint64) error
}

// Store is the full read model, mutated only by the projection worker.
type Store interface {
	Reader
	Update(ctx context.Context, fn func(tx Tx) error) error
	// Checkpoint returns the last consumed global sequence, 0 if none.
	Checkpoint(ctx context.Context) (uint64, error)
	// Reset discards every summary, operation, applied version and the checkpoint.
	Reset(ctx context.Context) error
}
