// Package projection folds the global event stream into the read model.
package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ayo6706/account-cqrs/internal/account"
	"github.com/ayo6706/account-cqrs/internal/domain"
	"github.com/ayo6706/account-cqrs/internal/eventlog"
	"github.com/ayo6706/account-cqrs/internal/live"
	"github.com/ayo6706/account-cqrs/internal/observability"
	"github.com/ayo6706/account-cqrs/internal/readmodel"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Projector applies log records to a readmodel.Store. Re-applying a record is a
// no-op: each account's last applied version is stored with the rows it wrote.
type Projector struct {
	store  readmodel.Store
	logger *zap.Logger

	mu     sync.Mutex
	halted map[string]error
}

func NewProjector(store readmodel.Store, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.L()
	}
	return &Projector{
		store:  store,
		logger: logger,
		halted: make(map[string]error),
	}
}

// Apply projects rec and returns the resulting live update, or nil when the
// record was skipped. Errors wrapping domain.ErrProjectionCorruption halt the
// account until Reset; the checkpoint still advances past rec so other accounts
// keep projecting. Any other error leaves the checkpoint untouched.
func (p *Projector) Apply(ctx context.Context, rec eventlog.Record) (*live.Update, error) {
	if cause := p.haltedBy(rec.AggregateID); cause != nil {
		p.logger.Debug("skipping event for halted account",
			zap.String("account_id", rec.AggregateID),
			zap.Uint64("global_seq", rec.GlobalSeq))
		return nil, p.advance(ctx, rec.GlobalSeq)
	}

	var (
		update  *live.Update
		skipped bool
	)
	err := p.store.Update(ctx, func(tx readmodel.Tx) error {
		applied, err := tx.AppliedVersion(ctx, rec.AggregateID)
		if err != nil {
			return err
		}
		if rec.Version <= applied {
			skipped = true
			return tx.SaveCheckpoint(ctx, rec.GlobalSeq)
		}
		if rec.Version != applied+1 {
			return corruption(rec, "version gap: applied %d", applied)
		}

		update, err = applyEvent(ctx, tx, rec)
		if err != nil {
			return err
		}
		if err := tx.SetAppliedVersion(ctx, rec.AggregateID, rec.Version); err != nil {
			return err
		}
		return tx.SaveCheckpoint(ctx, rec.GlobalSeq)
	})

	switch {
	case err == nil && skipped:
		observability.IncrementProjectionSkipped()
		return nil, nil
	case err == nil:
		observability.IncrementProjectionApplied(rec.Event.EventType())
		return update, nil
	case errors.Is(err, domain.ErrProjectionCorruption):
		p.halt(rec.AggregateID, err)
		observability.IncrementProjectionCorruption()
		p.logger.Error("projection corruption, account halted until replay",
			zap.String("account_id", rec.AggregateID),
			zap.Uint64("global_seq", rec.GlobalSeq),
			zap.Uint64("version", rec.Version),
			zap.Error(err))
		if advErr := p.advance(ctx, rec.GlobalSeq); advErr != nil {
			return nil, errors.Join(err, advErr)
		}
		return nil, err
	default:
		return nil, fmt.Errorf("project event %d: %w", rec.GlobalSeq, err)
	}
}

// Reset forgets halted accounts. Callers reset the store alongside.
func (p *Projector) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.halted = make(map[string]error)
}

// Halted returns the accounts currently halted by corruption.
func (p *Projector) Halted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.halted))
	for id := range p.halted {
		ids = append(ids, id)
	}
	return ids
}

func (p *Projector) haltedBy(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted[id]
}

func (p *Projector) halt(id string, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.halted[id] = cause
}

func (p *Projector) advance(ctx context.Context, seq uint64) error {
	return p.store.Update(ctx, func(tx readmodel.Tx) error {
		return tx.SaveCheckpoint(ctx, seq)
	})
}

func applyEvent(ctx context.Context, tx readmodel.Tx, rec eventlog.Record) (*live.Update, error) {
	id := rec.AggregateID

	switch e := rec.Event.(type) {
	case account.Created:
		if _, err := tx.FindAccount(ctx, id); err == nil {
			return nil, corruption(rec, "summary already exists")
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if !domain.FitsMicros(e.InitialBalance) {
			return nil, corruption(rec, "initial balance %s out of range", e.InitialBalance)
		}
		summary := readmodel.AccountSummary{
			ID:        id,
			Balance:   e.InitialBalance,
			Currency:  e.Currency,
			Status:    e.Status.String(),
			CreatedAt: rec.RecordedAt,
		}
		if err := tx.InsertAccount(ctx, summary); err != nil {
			return nil, err
		}
		return newUpdate(rec, summary, e.InitialBalance), nil

	case account.StatusUpdated:
		summary, err := findExisting(ctx, tx, rec)
		if err != nil {
			return nil, err
		}
		summary.Status = e.ToStatus.String()
		if err := tx.UpdateAccount(ctx, summary); err != nil {
			return nil, err
		}
		return newUpdate(rec, summary, decimal.Zero), nil

	case account.Credited:
		return applyOperation(ctx, tx, rec, readmodel.OperationCredit, e.Amount)

	case account.Debited:
		return applyOperation(ctx, tx, rec, readmodel.OperationDebit, e.Amount)

	default:
		return nil, corruption(rec, "unknown event %T", rec.Event)
	}
}

func applyOperation(ctx context.Context, tx readmodel.Tx, rec eventlog.Record, opType readmodel.OperationType, amount decimal.Decimal) (*live.Update, error) {
	summary, err := findExisting(ctx, tx, rec)
	if err != nil {
		return nil, err
	}

	magnitude := amount.Abs()
	balance := summary.Balance.Add(magnitude)
	if opType == readmodel.OperationDebit {
		balance = summary.Balance.Sub(magnitude)
	}
	if !domain.FitsMicros(magnitude) || !domain.FitsMicros(balance) {
		return nil, corruption(rec, "amount %s takes balance %s out of range", magnitude, summary.Balance)
	}

	if err := tx.InsertOperation(ctx, readmodel.Operation{
		ID:        rec.GlobalSeq,
		Date:      rec.RecordedAt,
		Amount:    magnitude,
		Type:      opType,
		AccountID: rec.AggregateID,
	}); err != nil {
		return nil, err
	}

	summary.Balance = balance
	if err := tx.UpdateAccount(ctx, summary); err != nil {
		return nil, err
	}
	return newUpdate(rec, summary, magnitude), nil
}

func findExisting(ctx context.Context, tx readmodel.Tx, rec eventlog.Record) (readmodel.AccountSummary, error) {
	summary, err := tx.FindAccount(ctx, rec.AggregateID)
	if errors.Is(err, domain.ErrNotFound) {
		return summary, corruption(rec, "no summary for %s", rec.Event.EventType())
	}
	return summary, err
}

func newUpdate(rec eventlog.Record, summary readmodel.AccountSummary, amount decimal.Decimal) *live.Update {
	return &live.Update{
		Type:      rec.Event.EventType(),
		AccountID: summary.ID,
		Balance:   summary.Balance,
		Amount:    amount,
		Status:    summary.Status,
		GlobalSeq: rec.GlobalSeq,
	}
}

func corruption(rec eventlog.Record, format string, args ...any) error {
	return fmt.Errorf("%w: account %s seq %d: %s", domain.ErrProjectionCorruption, rec.AggregateID, rec.GlobalSeq, fmt.Sprintf(format, args...))
}
