package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/account-cqrs/internal/observability"
	"github.com/ayo6706/account-cqrs/internal/readmodel"
	"go.uber.org/zap"
)

// Restarter pauses the projection, runs fn with nothing consuming the log and
// resumes it.
type Restarter interface {
	Restart(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProjectionResetter forgets per-account projection state such as halts.
type ProjectionResetter interface {
	Reset()
}

// ReplayService rebuilds the read model from the start of the log.
type ReplayService struct {
	worker    Restarter
	store     readmodel.Store
	projector ProjectionResetter
	logger    *zap.Logger

	mu sync.Mutex
}

func NewReplayService(worker Restarter, store readmodel.Store, projector ProjectionResetter, logger *zap.Logger) *ReplayService {
	if logger == nil {
		logger = zap.L()
	}
	return &ReplayService{worker: worker, store: store, projector: projector, logger: logger}
}

// Replay clears the read model and restarts the projection from sequence 0.
// It returns once the reset is done; the rebuild continues in the background.
// Concurrent calls run one after another.
func (s *ReplayService) Replay(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.worker.Restart(ctx, func(ctx context.Context) error {
		if err := s.store.Reset(ctx); err != nil {
			return fmt.Errorf("reset read model: %w", err)
		}
		s.projector.Reset()
		return nil
	})
	if err != nil {
		observability.IncrementReplay("error")
		s.logger.Error("replay failed", zap.Error(err))
		return err
	}
	observability.IncrementReplay("ok")
	s.logger.Info("read model reset, replay started", zap.Duration("elapsed", time.Since(start)))
	return nil
}
