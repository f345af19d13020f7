package account

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Event type names as persisted in the event log.
const (
	EventTypeCreated       = "AccountCreated"
	EventTypeCredited      = "AccountCredited"
	EventTypeDebited       = "AccountDebited"
	EventTypeStatusUpdated = "AccountStatusUpdated"
)

// Event is one immutable fact about an account.
type Event interface {
	EventType() string
	AggregateID() string
}

// Created opens the account.
type Created struct {
	AccountID      string          `json:"account_id"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	Currency       string          `json:"currency"`
	Status         Status          `json:"status"`
}

// Credited adds Amount to the balance.
type Credited struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// Debited subtracts Amount from the balance.
type Debited struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// StatusUpdated moves the account through its lifecycle.
type StatusUpdated struct {
	AccountID  string `json:"account_id"`
	FromStatus Status `json:"from_status"`
	ToStatus   Status `json:"to_status"`
}

func (e Created) EventType() string       { return EventTypeCreated }
func (e Credited) EventType() string      { return EventTypeCredited }
func (e Debited) EventType() string       { return EventTypeDebited }
func (e StatusUpdated) EventType() string { return EventTypeStatusUpdated }

func (e Created) AggregateID() string       { return e.AccountID }
func (e Credited) AggregateID() string      { return e.AccountID }
func (e Debited) AggregateID() string       { return e.AccountID }
func (e StatusUpdated) AggregateID() string { return e.AccountID }

// EncodeEvent returns the event type name and its JSON payload.
func EncodeEvent(evt Event) (string, []byte, error) {
	if evt == nil {
		return "", nil, fmt.Errorf("encode event: nil event")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	return evt.EventType(), payload, nil
}

// DecodeEvent rebuilds an event from its persisted type name and payload.
func DecodeEvent(eventType string, payload []byte) (Event, error) {
	var (
		evt Event
		err error
	)
	switch eventType {
	case EventTypeCreated:
		var e Created
		err = json.Unmarshal(payload, &e)
		evt = e
	case EventTypeCredited:
		var e Credited
		err = json.Unmarshal(payload, &e)
		evt = e
	case EventTypeDebited:
		var e Debited
		err = json.Unmarshal(payload, &e)
		evt = e
	case EventTypeStatusUpdated:
		var e StatusUpdated
		err = json.Unmarshal(payload, &e)
		evt = e
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return evt, nil
}
