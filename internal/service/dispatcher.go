package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ayo6706/account-cqrs/internal/account"
	"github.com/ayo6706/account-cqrs/internal/domain"
	"github.com/ayo6706/account-cqrs/internal/eventlog"
	"github.com/ayo6706/account-cqrs/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultMaxRetries bounds how often a command is re-decided after losing an
// append race.
const DefaultMaxRetries = 3

// Notifier is told when new records are in the log.
type Notifier interface {
	Notify()
}

// Result identifies the event a command produced.
type Result struct {
	AccountID string `json:"account_id"`
	Version   uint64 `json:"version"`
	GlobalSeq uint64 `json:"global_seq"`
}

// Dispatcher executes commands against the write side. Commands for the same
// account run one at a time in arrival order; different accounts proceed
// concurrently.
type Dispatcher struct {
	log        eventlog.Log
	policy     account.Policy
	notifier   Notifier
	logger     *zap.Logger
	maxRetries int

	turns *turnstile

	mu    sync.Mutex
	cache map[string]account.State
}

// NewDispatcher creates a dispatcher over log using policy.
func NewDispatcher(log eventlog.Log, policy account.Policy, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.L()
	}
	return &Dispatcher{
		log:        log,
		policy:     policy,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
		turns:      newTurnstile(),
		cache:      make(map[string]account.State),
	}
}

// WithNotifier registers n to be told after every successful append.
func (d *Dispatcher) WithNotifier(n Notifier) *Dispatcher {
	d.notifier = n
	return d
}

// WithMaxRetries sets the conflict retry bound. Negative values are ignored.
func (d *Dispatcher) WithMaxRetries(n int) *Dispatcher {
	if n >= 0 {
		d.maxRetries = n
	}
	return d
}

// CreateAccount opens account id with an initial balance in currency.
func (d *Dispatcher) CreateAccount(ctx context.Context, id string, initialBalance decimal.Decimal, currency string) (Result, error) {
	return d.Dispatch(ctx, account.CreateAccount{ID: id, InitialBalance: initialBalance, Currency: currency})
}

// Credit adds amount to the balance of account id.
func (d *Dispatcher) Credit(ctx context.Context, id string, amount decimal.Decimal) (Result, error) {
	return d.Dispatch(ctx, account.Credit{ID: id, Amount: amount})
}

// Debit takes amount from the balance of account id, subject to the overdraft policy.
func (d *Dispatcher) Debit(ctx context.Context, id string, amount decimal.Decimal) (Result, error) {
	return d.Dispatch(ctx, account.Debit{ID: id, Amount: amount})
}

// UpdateStatus moves account id to status if the transition table allows it.
func (d *Dispatcher) UpdateStatus(ctx context.Context, id string, status account.Status) (Result, error) {
	return d.Dispatch(ctx, account.UpdateStatus{ID: id, ToStatus: status})
}

// Dispatch validates cmd against the current account state and appends the
// resulting event. Rejected commands leave the log untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd account.Command) (Result, error) {
	if cmd == nil {
		return Result{}, errors.New("dispatch: nil command")
	}
	id := strings.TrimSpace(cmd.TargetID())
	if id == "" {
		observability.IncrementCommand(cmd.Name(), "rejected")
		return Result{}, domain.ErrInvalidAccountID
	}

	release, err := d.turns.enter(ctx, id)
	if err != nil {
		return Result{}, err
	}
	defer release()

	res, err := d.execute(ctx, id, cmd)
	observability.IncrementCommand(cmd.Name(), commandOutcome(err))
	return res, err
}

func (d *Dispatcher) execute(ctx context.Context, id string, cmd account.Command) (Result, error) {
	for attempt := 0; ; attempt++ {
		state, err := d.state(ctx, id)
		if err != nil {
			return Result{}, err
		}

		evt, err := d.policy.Decide(state, cmd)
		if err != nil {
			return Result{}, err
		}

		rec, err := d.log.Append(ctx, id, state.Version, evt)
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			d.invalidate(id)
			observability.IncrementCommandConflict()
			if attempt >= d.maxRetries {
				d.logger.Warn("command gave up after conflicts",
					zap.String("command", cmd.Name()),
					zap.String("account_id", id),
					zap.Int("attempts", attempt+1),
				)
				return Result{}, domain.ErrConcurrencyConflict
			}
			continue
		}
		if err != nil {
			d.invalidate(id)
			return Result{}, fmt.Errorf("append %s: %w", evt.EventType(), err)
		}

		d.remember(id, foldRecord(state, rec))
		if d.notifier != nil {
			d.notifier.Notify()
		}
		return Result{AccountID: id, Version: rec.Version, GlobalSeq: rec.GlobalSeq}, nil
	}
}

// Events returns the raw history of an account.
func (d *Dispatcher) Events(ctx context.Context, id string) ([]eventlog.Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrInvalidAccountID
	}
	records, err := d.log.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrNotFound
	}
	return records, nil
}

// State returns the write-side state of an account as rebuilt from its events.
func (d *Dispatcher) State(ctx context.Context, id string) (account.State, error) {
	id = strings.TrimSpace(id)
	release, err := d.turns.enter(ctx, id)
	if err != nil {
		return account.State{}, err
	}
	defer release()
	state, err := d.state(ctx, id)
	if err != nil {
		return account.State{}, err
	}
	if !state.Exists() {
		return account.State{}, domain.ErrNotFound
	}
	return state, nil
}

func (d *Dispatcher) state(ctx context.Context, id string) (account.State, error) {
	d.mu.Lock()
	state, ok := d.cache[id]
	d.mu.Unlock()
	if ok {
		return state, nil
	}

	records, err := d.log.Load(ctx, id)
	if err != nil {
		return account.State{}, fmt.Errorf("load account %s: %w", id, err)
	}
	state = Rehydrate(records)
	if state.Exists() {
		d.remember(id, state)
	}
	return state, nil
}

func (d *Dispatcher) remember(id string, state account.State) {
	d.mu.Lock()
	d.cache[id] = state
	d.mu.Unlock()
}

func (d *Dispatcher) invalidate(id string) {
	d.mu.Lock()
	delete(d.cache, id)
	d.mu.Unlock()
}

// Rehydrate folds an account's records in version order.
func Rehydrate(records []eventlog.Record) account.State {
	var state account.State
	for _, rec := range records {
		state = foldRecord(state, rec)
	}
	return state
}

func foldRecord(state account.State, rec eventlog.Record) account.State {
	next := account.Fold(state, rec.Event)
	if _, ok := rec.Event.(account.Created); ok {
		next.CreatedAt = rec.RecordedAt
	}
	return next
}

func commandOutcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case isRejection(err):
		return "rejected"
	default:
		return "error"
	}
}

func isRejection(err error) bool {
	for _, target := range []error{
		domain.ErrAlreadyExists,
		domain.ErrNotFound,
		domain.ErrInvalidAmount,
		domain.ErrAccountNotActive,
		domain.ErrInsufficientFunds,
		domain.ErrInvalidTransition,
		domain.ErrInvalidAccountID,
		domain.ErrInvalidCurrency,
		domain.ErrInvalidStatus,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
