package service

import (
	"context"
	"strings"

	"github.com/ayo6706/account-cqrs/internal/domain"
	"github.com/ayo6706/account-cqrs/internal/live"
	"github.com/ayo6706/account-cqrs/internal/readmodel"
)

// AccountStatement is an account summary with its operations in log order.
type AccountStatement struct {
	Account    readmodel.AccountSummary `json:"account"`
	Operations []readmodel.Operation    `json:"operations"`
}

// QueryService answers reads from the projected read model. Results may lag
// the log by the projection delay.
type QueryService struct {
	store  readmodel.Reader
	broker *live.Broker
}

func NewQueryService(store readmodel.Reader, broker *live.Broker) *QueryService {
	return &QueryService{store: store, broker: broker}
}

func (s *QueryService) ListAccounts(ctx context.Context) ([]readmodel.AccountSummary, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []readmodel.AccountSummary{}
	}
	return accounts, nil
}

// GetAccountStatement returns domain.ErrNotFound when the account has not
// been projected yet.
func (s *QueryService) GetAccountStatement(ctx context.Context, id string) (AccountStatement, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return AccountStatement{}, domain.ErrInvalidAccountID
	}
	summary, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return AccountStatement{}, err
	}
	ops, err := s.store.ListOperations(ctx, id)
	if err != nil {
		return AccountStatement{}, err
	}
	if ops == nil {
		ops = []readmodel.Operation{}
	}
	return AccountStatement{Account: summary, Operations: ops}, nil
}

// SubscribeToAccountEvents registers a live subscription that is closed when
// ctx ends. Only updates projected after the call are delivered.
func (s *QueryService) SubscribeToAccountEvents(ctx context.Context, filter live.Filter) *live.Subscription {
	sub := s.broker.Subscribe(filter)
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()
	return sub
}
