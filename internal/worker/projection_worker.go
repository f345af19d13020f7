package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/account-cqrs/internal/domain"
	"github.com/ayo6706/account-cqrs/internal/eventlog"
	"github.com/ayo6706/account-cqrs/internal/live"
	"github.com/ayo6706/account-cqrs/internal/observability"
	"github.com/ayo6706/account-cqrs/internal/projection"
	"github.com/ayo6706/account-cqrs/internal/readmodel"
	"go.uber.org/zap"
)

// ProjectionWorker is the single ordered consumer of the event log. It resumes
// from the read model checkpoint, applies each record through the projector and
// hands the resulting updates to the broker.
type ProjectionWorker struct {
	log       eventlog.Reader
	store     readmodel.Store
	projector *projection.Projector
	broker    *live.Broker
	logger    *zap.Logger

	pollInterval time.Duration
	batchSize    int
	wake         chan struct{}

	// runMu serializes CatchUp passes so records are never applied concurrently.
	runMu sync.Mutex

	mu      sync.Mutex
	parent  context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewProjectionWorker creates a worker with a one second poll interval.
func NewProjectionWorker(log eventlog.Reader, store readmodel.Store, projector *projection.Projector, broker *live.Broker, logger *zap.Logger) *ProjectionWorker {
	if logger == nil {
		logger = zap.L()
	}
	return &ProjectionWorker{
		log:          log,
		store:        store,
		projector:    projector,
		broker:       broker,
		logger:       logger,
		pollInterval: time.Second,
		batchSize:    200,
		wake:         make(chan struct{}, 1),
	}
}

// WithPollInterval sets how often the log is polled when no wake-up arrives.
func (w *ProjectionWorker) WithPollInterval(interval time.Duration) *ProjectionWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets the page size used to read the log.
func (w *ProjectionWorker) WithBatchSize(size int) *ProjectionWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Notify wakes the worker after new records were appended. It never blocks.
func (w *ProjectionWorker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run starts the consumption loop and returns a function that stops it.
func (w *ProjectionWorker) Run(ctx context.Context) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.parent = ctx
	w.startLocked()
	return w.Stop
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (w *ProjectionWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

// Restart halts the loop, runs reset while nothing is consuming, and starts
// the loop again under the context given to Run.
func (w *ProjectionWorker) Restart(ctx context.Context, reset func(ctx context.Context) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.parent == nil {
		return errors.New("projection worker was never started")
	}
	w.stopLocked()
	if reset != nil {
		w.runMu.Lock()
		err := reset(ctx)
		w.runMu.Unlock()
		if err != nil {
			// Resume on the old state rather than leaving queries without a projection.
			w.startLocked()
			return err
		}
	}
	w.startLocked()
	return nil
}

// Running reports whether the loop is active.
func (w *ProjectionWorker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

func (w *ProjectionWorker) startLocked() {
	if w.cancel != nil || w.parent == nil {
		return
	}
	ctx, cancel := context.WithCancel(w.parent)
	stopped := make(chan struct{})
	w.cancel = cancel
	w.stopped = stopped
	go w.loop(ctx, stopped)
}

func (w *ProjectionWorker) stopLocked() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.stopped
	w.cancel = nil
	w.stopped = nil
}

func (w *ProjectionWorker) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	w.logger.Info("projection worker started", zap.Duration("interval", w.pollInterval), zap.Int("batch", w.batchSize))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.CatchUp(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("projection pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			w.logger.Info("projection worker stopped")
			return
		case <-w.wake:
		case <-ticker.C:
		}
	}
}

// CatchUp applies every record after the stored checkpoint and returns how
// many records were consumed. Corrupted records are logged and consumed;
// any other failure stops the pass so the record is retried.
func (w *ProjectionWorker) CatchUp(ctx context.Context) (int, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	checkpoint, err := w.store.Checkpoint(ctx)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}

	consumed := 0
	for rec, err := range eventlog.Stream(ctx, w.log, checkpoint, w.batchSize) {
		if err != nil {
			return consumed, fmt.Errorf("read event log: %w", err)
		}
		update, err := w.projector.Apply(ctx, rec)
		if err != nil && !errors.Is(err, domain.ErrProjectionCorruption) {
			return consumed, err
		}
		consumed++
		observability.SetProjectionCheckpoint(rec.GlobalSeq)
		if update != nil && w.broker != nil {
			w.broker.Publish(*update)
		}
	}
	return consumed, nil
}
