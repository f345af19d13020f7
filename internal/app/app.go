package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ayo6706/account-cqrs/internal/api"
	"github.com/ayo6706/account-cqrs/internal/config"
	"github.com/ayo6706/account-cqrs/internal/db"
	"github.com/ayo6706/account-cqrs/internal/eventlog"
	"github.com/ayo6706/account-cqrs/internal/idempotency"
	"github.com/ayo6706/account-cqrs/internal/live"
	"github.com/ayo6706/account-cqrs/internal/observability"
	"github.com/ayo6706/account-cqrs/internal/projection"
	"github.com/ayo6706/account-cqrs/internal/readmodel"
	"github.com/ayo6706/account-cqrs/internal/repository"
	"github.com/ayo6706/account-cqrs/internal/service"
	"github.com/ayo6706/account-cqrs/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App is the assembled service.
type App struct {
	Router     *api.Router
	Dispatcher *service.Dispatcher
	Queries    *service.QueryService
	Worker     *worker.ProjectionWorker

	cfg    *config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
	relay  *live.RedisRelay
	broker *live.Broker
}

// Run bootstraps the HTTP server and projection worker, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	stop := a.Start(ctx)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      a.Router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort), zap.String("backend", cfg.StoreBackend))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping projection worker")
	stop()

	logger.Info("shutdown complete")
	return nil
}

// Build connects the configured backends and assembles every component
// without starting background work.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.L()
	}
	a := &App{cfg: cfg, logger: logger}

	var (
		log       eventlog.Log
		store     readmodel.Store
		keys      idempotency.Keys
		redisCmds redis.Cmdable
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		log = eventlog.NewMemory()
		store = readmodel.NewMemory()
		keys = idempotency.NewMemoryKeys(cfg.IdempotencyTTL)
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.pool = pool
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		log = repository.NewEventLog(pool)
		store = repository.NewReadModel(pool)
		keys = idempotency.NewPostgresKeys(pool, cfg.IdempotencyTTL)
	}

	if cfg.RedisURL != "" {
		client, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		redisCmds = client
	}

	a.broker = live.NewBroker(cfg.SubscriberBuffer, logger)
	projector := projection.NewProjector(store, logger)
	a.Worker = worker.NewProjectionWorker(log, store, projector, a.broker, logger).
		WithPollInterval(cfg.ProjectionPollInterval).
		WithBatchSize(cfg.ProjectionBatchSize)
	a.Dispatcher = service.NewDispatcher(log, cfg.Policy(), logger).
		WithMaxRetries(cfg.CommandMaxRetries).
		WithNotifier(a.Worker)
	a.Queries = service.NewQueryService(store, a.broker)

	if a.redis != nil {
		a.relay = live.NewRedisRelay(a.broker, a.redis, cfg.RedisUpdatesChannel, logger)
	}

	idemStore := idempotency.NewStore(redisCmds, keys, cfg.IdempotencyTTL, logger)
	a.Router = api.NewRouter(cfg, logger, a.pool, redisCmds, idemStore, api.Services{
		Dispatcher:     a.Dispatcher,
		Queries:        a.Queries,
		Replay:         service.NewReplayService(a.Worker, store, projector, logger),
		Reconciliation: service.NewReconciliationService(a.Worker, log, store, projector, logger),
		Projection:     a.Worker,
	})
	return a, nil
}

// Start runs the projection worker and both halves of the redis relay until ctx ends or the
// returned function is called.
func (a *App) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	stopWorker := a.Worker.Run(ctx)

	var relays sync.WaitGroup
	if a.relay != nil {
		relays.Add(2)
		go func() {
			defer relays.Done()
			a.relay.Run(ctx)
		}()
		go func() {
			defer relays.Done()
			if err := a.relay.Consume(ctx); err != nil {
				a.logger.Error("redis relay consumer stopped", zap.Error(err))
			}
		}()
	}

	return func() {
		stopWorker()
		cancel()
		relays.Wait()
	}
}

// Close releases backend connections.
func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
