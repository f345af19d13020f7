package account

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ayo6706/account-cqrs/internal/domain"
	"github.com/shopspring/decimal"
)

// Command is an intent addressed to a single account.
type Command interface {
	TargetID() string
	Name() string
}

type CreateAccount struct {
	ID             string
	InitialBalance decimal.Decimal
	Currency       string
}

type Credit struct {
	ID     string
	Amount decimal.Decimal
}

type Debit struct {
	ID     string
	Amount decimal.Decimal
}

type UpdateStatus struct {
	ID       string
	ToStatus Status
}

func (c CreateAccount) TargetID() string { return c.ID }
func (c Credit) TargetID() string        { return c.ID }
func (c Debit) TargetID() string         { return c.ID }
func (c UpdateStatus) TargetID() string  { return c.ID }

func (CreateAccount) Name() string { return "create_account" }
func (Credit) Name() string        { return "credit" }
func (Debit) Name() string         { return "debit" }
func (UpdateStatus) Name() string  { return "update_status" }

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Policy holds the domain-configured knobs of the account rules.
type Policy struct {
	AllowOverdraft bool
	InitialStatus  Status
}

// DefaultPolicy disallows overdraft and opens accounts as active.
func DefaultPolicy() Policy {
	return Policy{InitialStatus: StatusActive}
}

// Decide validates cmd against state and returns the single event it produces.
// A non-nil error means no event and no state change.
func (p Policy) Decide(state State, cmd Command) (Event, error) {
	if cmd == nil {
		return nil, fmt.Errorf("decide: nil command")
	}
	if strings.TrimSpace(cmd.TargetID()) == "" {
		return nil, domain.ErrInvalidAccountID
	}

	switch c := cmd.(type) {
	case CreateAccount:
		return p.decideCreate(state, c)
	case Credit:
		if err := requireMutable(state, c.Amount); err != nil {
			return nil, err
		}
		if !domain.FitsMicros(state.Balance.Add(c.Amount)) {
			return nil, fmt.Errorf("%w: balance %s, credit %s exceeds %s", domain.ErrInvalidAmount, state.Balance, c.Amount, domain.MaxAmount)
		}
		return Credited{AccountID: state.ID, Amount: c.Amount}, nil
	case Debit:
		if err := requireMutable(state, c.Amount); err != nil {
			return nil, err
		}
		if !p.AllowOverdraft && state.Balance.Sub(c.Amount).IsNegative() {
			return nil, fmt.Errorf("%w: balance %s, debit %s", domain.ErrInsufficientFunds, state.Balance, c.Amount)
		}
		if !domain.FitsMicros(state.Balance.Sub(c.Amount)) {
			return nil, fmt.Errorf("%w: balance %s, debit %s exceeds -%s", domain.ErrInvalidAmount, state.Balance, c.Amount, domain.MaxAmount)
		}
		return Debited{AccountID: state.ID, Amount: c.Amount}, nil
	case UpdateStatus:
		if !state.Exists() {
			return nil, domain.ErrNotFound
		}
		if !CanTransition(state.Status, c.ToStatus) {
			return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, state.Status, c.ToStatus)
		}
		return StatusUpdated{AccountID: state.ID, FromStatus: state.Status, ToStatus: c.ToStatus}, nil
	default:
		return nil, fmt.Errorf("decide: unsupported command %T", cmd)
	}
}

func (p Policy) decideCreate(state State, c CreateAccount) (Event, error) {
	if state.Exists() {
		return nil, domain.ErrAlreadyExists
	}
	if c.InitialBalance.IsNegative() || !domain.HasValidScale(c.InitialBalance) || !domain.FitsMicros(c.InitialBalance) {
		return nil, fmt.Errorf("%w: initial balance %s", domain.ErrInvalidAmount, c.InitialBalance)
	}
	currency := strings.ToUpper(strings.TrimSpace(c.Currency))
	if !currencyPattern.MatchString(currency) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidCurrency, c.Currency)
	}
	initial := p.InitialStatus
	if initial == "" {
		initial = StatusActive
	}
	return Created{
		AccountID:      strings.TrimSpace(c.ID),
		InitialBalance: c.InitialBalance,
		Currency:       currency,
		Status:         initial,
	}, nil
}

func requireMutable(state State, amount decimal.Decimal) error {
	if !state.Exists() {
		return domain.ErrNotFound
	}
	if !amount.IsPositive() || !domain.HasValidScale(amount) || !domain.FitsMicros(amount) {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}
	if !state.Status.AllowsMutation() {
		return fmt.Errorf("%w: status %s", domain.ErrAccountNotActive, state.Status)
	}
	return nil
}
