// Package app constructs the daemon: one ledger for the bound user, the
// producers feeding it through the event bus, and everything observing it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/auth"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/broadcast"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/config"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/event"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/mirror"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/observability"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/persistence"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/query"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/remote"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/scheduler"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/server"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/session"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/syncer"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/tier"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/window"
)

// MemoryMirrorPath selects the in-memory mirror instead of SQLite.
const MemoryMirrorPath = "memory"

// syncFailureThreshold is how many consecutive failed syncs flip the
// remote_sync readiness check.
const syncFailureThreshold = 5

// Options tune construction. The zero value builds the full daemon.
type Options struct {
	Clock    window.Clock
	Registry *prometheus.Registry
	// Store replaces the remote store resolved from the config.
	Store remote.Store
	// Headless skips NATS, the session simulator, the scheduler and the
	// listeners. The one-shot CLI commands use it.
	Headless bool
}

// App holds every component of a running daemon.
type App struct {
	cfg        *config.Config
	opts       Options
	instanceID string
	logger     zerolog.Logger

	Location *time.Location
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Health   *observability.HealthChecker
	Windows  *window.Manager

	Mirror   mirror.Mirror
	Ledger   *ledger.Ledger
	Bus      *event.Bus
	Store    remote.Store
	Syncer   *syncer.Agent
	Sessions *auth.Provider

	Journal    *persistence.JournalWorker
	DeltaIDs   *persistence.DeltaIDStore
	History    *query.HistoryService
	Publisher  *broadcast.Publisher
	Subscriber *broadcast.Subscriber
	Simulator  *session.Simulator
	Scheduler  *scheduler.Scheduler
	Server     *server.Server

	db *sql.DB
	nc *nats.Conn

	ctx          context.Context
	syncFailures atomic.Int32
	cleanup      []func()
}

// New wires every component. Nothing runs until Run or RunOnce.
func New(ctx context.Context, cfg *config.Config, opts Options) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	loc, _ := cfg.Location()
	level := observability.ParseLogLevel(cfg.LogLevel)

	a = &App{
		cfg:        cfg,
		opts:       opts,
		instanceID: uuid.NewString(),
		logger:     observability.NewLoggerWithLevel("app", level),
		Location:   loc,
		Health:     observability.NewHealthChecker(),
		Windows:    window.NewManager(loc, opts.Clock),
		Sessions:   auth.NewProvider(),
		ctx:        ctx,
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Registry = opts.Registry
	if a.Registry == nil {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	a.Metrics = observability.NewMetrics(a.Registry)

	if err := a.openMirror(level); err != nil {
		return nil, err
	}

	caps, _ := cfg.TierCaps()
	tiers, err := tier.NewTable(caps)
	if err != nil {
		return nil, err
	}
	a.Ledger = ledger.New(ledger.Options{
		Mirror:        a.Mirror,
		Window:        a.Windows,
		Tiers:         tiers,
		Logger:        observability.NewLoggerWithLevel("ledger", level),
		Metrics:       a.Metrics,
		DedupCapacity: cfg.Ledger.DedupCapacity,
	})
	a.Health.AddCheck("ledger", a.Ledger.Validate)

	a.Bus = event.NewBus(observability.NewLoggerWithLevel("bus", level), a.Metrics)
	a.cleanup = append(a.cleanup, event.Route(a.Bus, a.Ledger, observability.NewLoggerWithLevel("route", level), a.Metrics))

	if err := a.openRemote(ctx, level); err != nil {
		return nil, err
	}

	lo, hi, _ := cfg.GainRange()
	a.Syncer = syncer.New(syncer.Config{
		MinInterval:  cfg.Sync.MinInterval,
		PollInterval: cfg.Sync.PollInterval,
		Timeout:      cfg.Sync.Timeout,
		Backoff:      cfg.Sync.Backoff,
	}, a.Ledger, a.Store, a.Windows, observability.NewLoggerWithLevel("syncer", level), a.Metrics, a.onSyncEvent)
	a.Health.AddCheck("remote_sync", func() error {
		if n := a.syncFailures.Load(); n >= syncFailureThreshold {
			return fmt.Errorf("%d consecutive sync failures", n)
		}
		return nil
	})

	if !opts.Headless {
		if err := a.openBroadcast(ctx, level); err != nil {
			return nil, err
		}
		if cfg.Session.Enabled {
			a.Simulator = session.NewSimulator(session.Config{
				Interval: cfg.Session.Interval,
				Jitter:   cfg.Session.Jitter,
				MinGain:  lo,
				MaxGain:  hi,
			}, a.Ledger, a.Bus, observability.NewLoggerWithLevel("session", level), a.Metrics)
		}

		var pruner scheduler.Pruner
		if p, ok := a.Mirror.(scheduler.Pruner); ok {
			pruner = p
		}
		a.Scheduler = scheduler.New(scheduler.Config{
			Location:       loc,
			RolloverSpec:   cfg.Schedule.RolloverCron,
			PruneSpec:      cfg.Schedule.PruneCron,
			PruneRetention: cfg.Schedule.PruneRetention,
		}, a.Ledger, pruner, observability.NewLoggerWithLevel("scheduler", level), a.Metrics)
		if err := a.Scheduler.RegisterAll(); err != nil {
			return nil, err
		}
	}

	var history server.History
	if a.History != nil {
		history = a.History
	}
	a.Server, err = server.New(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, server.Deps{
		Ledger:        a.Ledger,
		Syncer:        a.Syncer,
		Sessions:      a.Sessions,
		History:       history,
		HealthChecker: a.Health,
		Metrics:       a.Metrics,
		Gatherer:      a.Registry,
		Logger:        observability.NewLoggerWithLevel("server", level),
		AdminToken:    cfg.Server.AdminToken,
		Location:      loc,
		Now:           a.Windows.Now,
	})
	if err != nil {
		return nil, err
	}

	a.subscribeObservers()
	a.cleanup = append(a.cleanup, a.Sessions.OnChange(a.bind))
	return a, nil
}

func (a *App) openMirror(level zerolog.Level) error {
	if a.cfg.Mirror.Path == MemoryMirrorPath {
		a.Mirror = mirror.NewMemoryMirror()
		return nil
	}

	opts := mirror.Options{Path: a.cfg.Mirror.Path, Logger: observability.NewLoggerWithLevel("mirror", level)}
	if a.cfg.Mirror.Encrypted {
		key, err := auth.LoadSecret(auth.SecretMirrorKey)
		if err != nil {
			return fmt.Errorf("mirror key: %w", err)
		}
		opts.EncryptionKey = key
	}
	m, err := mirror.OpenSQLite(opts)
	if err != nil {
		return err
	}
	a.Mirror = m
	return nil
}

func (a *App) openRemote(ctx context.Context, level zerolog.Level) error {
	if a.opts.Store != nil {
		a.Store = a.opts.Store
		return nil
	}

	dsn, err := a.cfg.PostgresDSN()
	if err != nil {
		a.logger.Warn().Err(err).Msg("remote DSN lookup failed")
	}
	if dsn == "" {
		a.logger.Warn().Msg("no remote store configured, using in-memory store")
		a.Store = remote.NewMemoryStore()
		return nil
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	a.db = db
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, a.cfg.Sync.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		// The mirror keeps the daemon usable; the sync agent retries.
		a.logger.Warn().Err(err).Msg("postgres not reachable at startup")
	}

	store := remote.NewPostgresStore(db)
	a.Store = store
	a.Health.AddCheck("postgres", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return store.Ping(ctx)
	})

	a.DeltaIDs = persistence.NewDeltaIDStore(db)
	a.History = query.NewHistoryService(db)
	if a.cfg.Journal.Enabled {
		a.Journal = persistence.NewJournalWorker(db, persistence.WorkerConfig{
			InstanceID:   a.instanceID,
			BatchSize:    a.cfg.Journal.BatchSize,
			BufferSize:   a.cfg.Journal.BufferSize,
			FlushTimeout: a.cfg.Journal.FlushTimeout,
		}, observability.NewLoggerWithLevel("journal", level), a.Metrics)
	}
	return nil
}

func (a *App) openBroadcast(ctx context.Context, level zerolog.Level) error {
	if a.cfg.NATS.URL == "" {
		return nil
	}
	logger := observability.NewLoggerWithLevel("broadcast", level)
	nc, js, err := broadcast.Connect(a.cfg.NATS.URL, logger)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	a.nc = nc
	if err := broadcast.EnsureStream(ctx, js); err != nil {
		return fmt.Errorf("ensure broadcast stream: %w", err)
	}
	a.Publisher = broadcast.NewPublisher(js, a.instanceID, logger, a.Metrics)
	a.Subscriber = broadcast.NewSubscriber(js, a.Bus, broadcast.SubscriberOptions{
		InstanceID: a.instanceID,
		Windows:    a.Windows,
		DailyGains: a.Ledger.DailyGains,
		Logger:     logger,
		Metrics:    a.Metrics,
	})
	return nil
}

// subscribeObservers attaches the ledger observers: the change journal, the
// broadcaster and the sync nudge for local credits.
func (a *App) subscribeObservers() {
	if a.Journal != nil {
		a.cleanup = append(a.cleanup, a.Ledger.Subscribe(a.Journal.Enqueue))
	}
	if a.Publisher != nil {
		a.cleanup = append(a.cleanup, a.Ledger.Subscribe(a.Publisher.Enqueue))
	}
	a.cleanup = append(a.cleanup, a.Ledger.Subscribe(func(c ledger.Change) {
		switch c.Kind {
		case ledger.ChangeDelta, ledger.ChangeDailyGains:
			a.Syncer.Nudge()
		case ledger.ChangeReset, ledger.ChangeCorrect:
			a.Syncer.RequestSync()
		}
	}))
}

// bind reacts to a user change: bind the ledger, follow peer changes, warm
// the dedup cache, hydrate from the remote store, then report ready.
func (a *App) bind(userID string) {
	a.Health.SetReady(false)
	a.Server.SetServing(false)

	session := a.Ledger.SetUser(userID)
	if a.Subscriber != nil {
		if err := a.Subscriber.Follow(a.ctx, userID); err != nil {
			a.logger.Warn().Err(err).Str("user_id", userID).Msg("follow peer changes failed")
		}
	}
	if userID == "" {
		a.Health.SetReady(true)
		a.Server.SetServing(true)
		return
	}

	if a.DeltaIDs != nil {
		ids, err := a.DeltaIDs.RecentDeltaIDs(a.ctx, userID, a.cfg.Ledger.DedupCapacity)
		if err != nil {
			a.logger.Warn().Err(err).Str("user_id", userID).Msg("warm dedup cache failed")
		} else if err := a.Ledger.WarmDedup(session, ids); err == nil {
			a.logger.Info().Int("ids", len(ids)).Str("user_id", userID).Msg("dedup cache warmed")
		}
	}

	out := a.Syncer.SyncNow(a.ctx, true)
	if !out.OK() {
		a.logger.Warn().Err(out.Err).Str("outcome", string(out.Kind)).Str("user_id", userID).Msg("remote hydration failed, serving mirror value")
		a.Syncer.RequestSync()
	}

	if err := a.Ledger.MarkReady(session); err != nil {
		// Another login raced this one; it owns readiness now.
		return
	}
	a.Health.SetReady(true)
	a.Server.SetServing(true)
	a.logger.Info().Str("user_id", userID).Str("balance", a.Ledger.Balance().String()).Msg("user ready")
}

func (a *App) onSyncEvent(e syncer.Event) {
	switch e.Type {
	case syncer.EventSyncOK:
		a.syncFailures.Store(0)
	case syncer.EventSyncFailed:
		a.syncFailures.Add(1)
	}
}

// Run starts every background component and blocks until ctx is cancelled
// or one of them fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.ctx = ctx

	errChan := make(chan error, 8)
	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	spawn("syncer", func(ctx context.Context) error { a.Syncer.Run(ctx); return nil })
	if a.Journal != nil {
		spawn("journal", a.Journal.Run)
	}
	if a.Publisher != nil {
		spawn("broadcast", a.Publisher.Run)
	}
	if a.Simulator != nil {
		spawn("session", func(ctx context.Context) error { a.Simulator.Run(ctx); return nil })
	}
	if !a.opts.Headless {
		spawn("grpc", a.Server.StartGRPC)
		spawn("http", a.Server.StartHTTP)
	}
	if a.Scheduler != nil {
		a.Scheduler.Start()
	}

	if a.cfg.User != "" {
		a.Sessions.Login(a.cfg.User)
	} else {
		a.Health.SetReady(true)
	}

	a.logger.Info().
		Str("instance_id", a.instanceID).
		Str("timezone", a.Location.String()).
		Str("http", a.cfg.Server.HTTPAddr).
		Str("grpc", a.cfg.Server.GRPCAddr).
		Bool("broadcast", a.Publisher != nil).
		Bool("journal", a.Journal != nil).
		Msg("cashbotd running")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errChan:
		a.logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	cancel()
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Subscriber != nil {
		a.Subscriber.Stop()
	}
	wg.Wait()
	return runErr
}

// RunOnce binds userID, runs fn against the hydrated ledger and flushes the
// journal. Used by the one-shot CLI commands.
func (a *App) RunOnce(ctx context.Context, userID string, fn func(a *App) error) error {
	ctx, cancel := context.WithCancel(ctx)
	a.ctx = ctx

	journalDone := make(chan struct{})
	if a.Journal != nil {
		go func() {
			defer close(journalDone)
			a.Journal.Run(ctx)
		}()
	} else {
		close(journalDone)
	}

	a.Sessions.Login(userID)
	err := fn(a)

	cancel()
	<-journalDone
	return err
}

// InstanceID identifies this process in broadcasts and journal rows.
func (a *App) InstanceID() string {
	return a.instanceID
}

// Close releases the mirror and the remote connections.
func (a *App) Close() error {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil

	var errs []error
	if a.nc != nil {
		a.nc.Close()
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.Mirror != nil {
		errs = append(errs, a.Mirror.Close())
	}
	return errors.Join(errs...)
}
