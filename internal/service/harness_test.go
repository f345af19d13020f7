package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/account-cqrs/internal/account"
	"github.com/ayo6706/account-cqrs/internal/eventlog"
	"github.com/ayo6706/account-cqrs/internal/live"
	"github.com/ayo6706/account-cqrs/internal/projection"
	"github.com/ayo6706/account-cqrs/internal/readmodel"
	"github.com/ayo6706/account-cqrs/internal/worker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	log        eventlog.Log
	store      *readmodel.Memory
	projector  *projection.Projector
	broker     *live.Broker
	worker     *worker.ProjectionWorker
	dispatcher *Dispatcher
	queries    *QueryService
	replay     *ReplayService
}

func newHarness(t *testing.T, log eventlog.Log) *harness {
	t.Helper()
	if log == nil {
		log = eventlog.NewMemory()
	}
	logger := zap.NewNop()
	h := &harness{
		log:    log,
		store:  readmodel.NewMemory(),
		broker: live.NewBroker(16, logger),
	}
	h.projector = projection.NewProjector(h.store, logger)
	h.worker = worker.NewProjectionWorker(log, h.store, h.projector, h.broker, logger).
		WithPollInterval(10 * time.Millisecond)
	h.dispatcher = NewDispatcher(log, account.DefaultPolicy(), logger).WithNotifier(h.worker)
	h.queries = NewQueryService(h.store, h.broker)
	h.replay = NewReplayService(h.worker, h.store, h.projector, logger)

	ctx, cancel := context.WithCancel(context.Background())
	stop := h.worker.Run(ctx)
	t.Cleanup(func() {
		stop()
		cancel()
	})
	return h
}

// settle waits until the projection has consumed seq.
func (h *harness) settle(t *testing.T, seq uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		cp, err := h.store.Checkpoint(context.Background())
		return err == nil && cp >= seq
	}, 2*time.Second, 5*time.Millisecond)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
