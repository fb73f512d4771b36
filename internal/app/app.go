// Package app assembles the till from configuration: the local store, the
// remote backend, the sync engine and the domain managers on top of them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/till-ledger/internal/cash_session"
	"github.com/till-ledger/internal/config"
	"github.com/till-ledger/internal/connectivity"
	"github.com/till-ledger/internal/credit_ledger"
	"github.com/till-ledger/internal/data/sqlite"
	"github.com/till-ledger/internal/domain/credit"
	"github.com/till-ledger/internal/domain/record"
	"github.com/till-ledger/internal/domain/till"
	"github.com/till-ledger/internal/entity"
	"github.com/till-ledger/internal/platform/messaging/consumers"
	"github.com/till-ledger/internal/platform/messaging/producers"
	"github.com/till-ledger/internal/platform/persistence"
	"github.com/till-ledger/internal/sync_engine"
)

// App holds every long-lived component of one till process
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Monitor  *connectivity.Monitor
	Queue    *sqlite.QueueStore
	Registry *entity.Registry
	Engine   *sync_engine.Engine
	Ledger   *credit_ledger.Ledger
	Sessions *cash_session.Manager

	prober    *connectivity.Prober
	refresher *sync_engine.Refresher
	consumer  *consumers.KafkaConsumer

	remote  record.Remote
	closers []func(ctx context.Context) error
	wg      sync.WaitGroup
}

// Option adjusts how New wires the application
type Option func(*App)

// WithRemote uses remote instead of the configured backend
func WithRemote(remote record.Remote) Option {
	return func(a *App) { a.remote = remote }
}

// New wires the application. On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.build(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	local, err := persistence.NewSQLiteDB(logger, &cfg.LocalStore)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	a.onClose(func(context.Context) error { return local.Close() })

	remote := a.remote
	if remote == nil {
		if remote, err = a.openRemote(ctx); err != nil {
			return err
		}
	}

	a.Monitor = connectivity.NewMonitor(logger)
	a.prober = connectivity.NewProber(cfg, a.Monitor, remote, logger)
	a.Queue = sqlite.NewQueueStore(logger, local)
	remaps := sqlite.NewRemapStore(logger, local)
	a.Registry = entity.NewRegistry()

	deps := entity.Deps{
		Cache:    sqlite.NewCacheStore(logger, local),
		Remote:   remote,
		Queue:    a.Queue,
		Remaps:   remaps,
		Online:   a.Monitor,
		Registry: a.Registry,
		Validate: validator.New(),
		Timeout:  cfg.Remote.Timeout,
		Logger:   logger,
	}

	a.Ledger = credit_ledger.NewLedger(
		entity.NewRepository[credit.Account](credit_ledger.AccountSchema, deps),
		entity.NewRepository[credit.Movement](credit_ledger.MovementSchema, deps),
		logger,
	)
	a.Sessions = cash_session.NewManager(
		entity.NewRepository[till.Session](cash_session.SessionSchema, deps),
		entity.NewRepository[till.Movement](cash_session.MovementSchema, deps),
		a.Ledger,
		logger,
	)

	a.refresher, err = sync_engine.NewRefresher(cfg.WorkerPool.Size, a.Registry, logger)
	if err != nil {
		return err
	}
	a.onClose(func(context.Context) error { a.refresher.Release(); return nil })

	engineDeps := sync_engine.Deps{
		Queue:     a.Queue,
		Remaps:    remaps,
		Remote:    remote,
		Registry:  a.Registry,
		Online:    a.Monitor,
		Refresher: a.refresher,
		Logger:    logger,
	}
	if cfg.Kafka.Enabled() {
		if err := a.openKafka(ctx, &engineDeps); err != nil {
			return err
		}
	} else {
		logger.Info("Kafka brokers not configured, sync events disabled")
	}
	a.Engine = sync_engine.NewEngine(cfg, engineDeps)
	return nil
}

// Probe runs a single connectivity check. One-shot commands use it in place of Run.
func (a *App) Probe(ctx context.Context) bool {
	return a.prober.Probe(ctx)
}

// Run starts the background loops and blocks until ctx is canceled and they
// have returned
func (a *App) Run(ctx context.Context) error {
	if a.consumer != nil {
		handler := sync_engine.NewRefreshHandler(a.logger, a.cfg.Application.TerminalID, a.refresher)
		if err := a.consumer.Subscribe(ctx, handler.HandleMessage); err != nil {
			return fmt.Errorf("failed to subscribe to sync events: %w", err)
		}
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.prober.Start(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.Engine.Start(ctx)
	}()

	<-ctx.Done()
	a.wg.Wait()
	return nil
}

// Close releases resources in reverse order of acquisition
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) openRemote(ctx context.Context) (record.Remote, error) {
	switch a.cfg.Remote.Backend {
	case config.RemoteBackendPostgres:
		db, err := persistence.NewPostgresDB(ctx, a.logger, &a.cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		a.onClose(func(context.Context) error { db.Close(); return nil })
		return newPostgresRemote(a.logger, db), nil
	case config.RemoteBackendMongo:
		db, err := persistence.NewMongoDB(ctx, a.logger, &a.cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MongoDB: %w", err)
		}
		a.onClose(db.Close)
		return newMongoRemote(a.logger, db), nil
	default:
		return nil, fmt.Errorf("unknown remote backend %q", a.cfg.Remote.Backend)
	}
}

func (a *App) openKafka(ctx context.Context, deps *sync_engine.Deps) error {
	events, err := producers.NewSyncEventProducer(ctx, a.logger, &a.cfg.Kafka)
	if err != nil {
		return fmt.Errorf("failed to initialize sync event producer: %w", err)
	}
	a.onClose(func(context.Context) error { return events.Close() })
	deps.Events = events

	stalls, err := producers.NewStallAlertProducer(ctx, a.logger, &a.cfg.Kafka)
	if err != nil {
		return fmt.Errorf("failed to initialize stall alert producer: %w", err)
	}
	// nil when no stall topic is configured
	if stalls != nil {
		a.onClose(func(context.Context) error { return stalls.Close() })
		deps.Stalls = stalls
	}

	a.consumer = consumers.NewKafkaConsumer(ctx, a.logger, &a.cfg.Kafka)
	a.onClose(func(context.Context) error { return a.consumer.Close() })
	return nil
}
