package account

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the write-side account derived from its own events. It is a plain
// value: Fold returns a new State and never mutates its input.
type State struct {
	ID        string
	Balance   decimal.Decimal
	Currency  string
	Status    Status
	CreatedAt time.Time
	// Version is the sequence number of the last folded event; 0 means the
	// account has no events.
	Version uint64
}

// Exists reports whether a Created event has been folded.
func (s State) Exists() bool {
	return s.Version > 0
}

// Fold applies an event to account state.
func Fold(state State, evt Event) State {
	switch e := evt.(type) {
	case Created:
		state.ID = e.AccountID
		state.Balance = e.InitialBalance
		state.Currency = e.Currency
		state.Status = e.Status
	case Credited:
		state.Balance = state.Balance.Add(e.Amount)
	case Debited:
		state.Balance = state.Balance.Sub(e.Amount)
	case StatusUpdated:
		state.Status = e.ToStatus
	default:
		return state
	}
	state.Version++
	return state
}

// Replay folds events from an empty state.
func Replay(events []Event) State {
	var state State
	for _, evt := range events {
		state = Fold(state, evt)
	}
	return state
}
