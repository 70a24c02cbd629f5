package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"ticketd/internal/acquire"
	"ticketd/internal/claim"
	"ticketd/internal/config"
	"ticketd/internal/domain"
	"ticketd/internal/eventbus"
	"ticketd/internal/metrics"
	"ticketd/internal/notifier"
	"ticketd/internal/observability/httpd"
	rtsup "ticketd/internal/runtime/supervisor"
	"ticketd/internal/storage"
	"ticketd/internal/task/engine"
	"ticketd/internal/task/scheduler"
	"ticketd/internal/transport/telegram"
	"ticketd/internal/trigger"
	logx "ticketd/pkg/logx"
	"ticketd/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	// runs executes trigger fires; a failing run never cancels the app.
	runs *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *prometheus.Registry

	store      storage.Store
	pool       *engine.Pool
	client     *claim.Client
	strategies *acquire.Strategies
	coord      *acquire.Coordinator
	sched      *scheduler.Service
	triggers   *trigger.Service
	notif      *notifier.Service
	httpd      *httpd.Server

	tg    *telegram.Sender
	redis *redis.Client
}

type Option func(*options)

type options struct {
	offline bool
}

// WithOfflineTelegram skips the Bot API token check at startup. CLI
// commands use it so they work without network access.
func WithOfflineTelegram() Option { return func(o *options) { o.offline = true } }

// NewApp loads the config and builds every component. Nothing runs until
// Start.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfgPath: cfgPath, cfgm: cfgm}
	bootLog := logx.NewConsole(cfg.Logging.Level)

	var remote logx.RemoteSender
	if tc, ok := mapTelegramConfig(cfg); ok {
		a.tg, err = telegram.New(tc, bootLog, o.offline)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		remote = a.tg
	}
	logSvc, log := logx.NewService(mapLoggingConfig(cfg), remote)
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))

	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := metrics.NewPrometheusSink(a.reg, log)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	a.log.Info("storage opened", logx.String("driver", sc.Driver))

	a.pool = engine.NewPool(mapEngineConfig(cfg), engine.WithLogger(log), engine.WithMetrics(sink))

	cc, err := mapClaimConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.client = claim.NewClient(cc, claim.WithLogger(log), claim.WithMetrics(sink))

	ac, err := mapAcquireConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.strategies = acquire.NewStrategies(a.pool, a.client, a.store, ac, acquire.WithLogger(log))

	a.bus = eventbus.New()
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.notif = notifier.New(ncfg,
		notifier.WithLogger(log),
		notifier.WithBus(a.bus),
		notifier.WithStore(a.store),
		notifier.WithMetrics(sink),
		notifier.WithChannels(a.channels(cfg)...),
	)

	a.coord = acquire.NewCoordinator(a.strategies, a.store, nil,
		acquire.WithPublisher(a.notif),
		acquire.WithCoordinatorMetrics(sink),
		acquire.WithCoordinatorLogger(log),
	)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(schedCfg, a.fire,
		scheduler.WithLogger(log),
		scheduler.WithMetrics(sink),
		scheduler.WithRunner(runnerFunc(a.goRun)),
	)
	a.triggers = trigger.NewService(a.store, a.sched, trigger.WithLogger(log), trigger.WithRunner(a.coord))
	a.coord.SetDeactivator(a.triggers)

	api := httpd.NewAPI(a.triggers, a.strategies, a.Status, log)
	a.httpd = httpd.New(mapHTTPConfig(cfg), api, a.reg, log)

	return a, nil
}

func (a *App) channels(cfg *config.Config) []notifier.Channel {
	var out []notifier.Channel
	n := cfg.Notifier
	if n == nil {
		if a.tg != nil {
			out = append(out, notifier.NewTelegramChannel(a.tg))
		}
		return out
	}
	if n.Telegram && a.tg != nil {
		out = append(out, notifier.NewTelegramChannel(a.tg))
	}
	if n.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     n.Redis.Addr,
			Password: n.Redis.Password,
			DB:       n.Redis.DB,
		})
		out = append(out, notifier.NewRedisChannel(a.redis, n.Redis.Channel))
	}
	return out
}

// fire is what an armed trigger runs.
func (a *App) fire(ctx context.Context, t domain.Trigger) {
	if _, err := a.coord.Run(ctx, t); err != nil {
		a.log.Warn("trigger run failed", logx.String("trigger_id", t.ID), logx.Err(err))
	}
}

type runnerFunc func(name string, fn func(ctx context.Context) error)

func (f runnerFunc) Go(name string, fn func(ctx context.Context) error) { f(name, fn) }

func (a *App) goRun(name string, fn func(ctx context.Context) error) {
	if a.runs == nil {
		go func() { _ = fn(context.Background()) }()
		return
	}
	a.runs.Go(name, fn)
}

func (a *App) Config() *config.Config          { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger             { return a.log }
func (a *App) Store() storage.Store            { return a.store }
func (a *App) Triggers() *trigger.Service      { return a.triggers }
func (a *App) Strategies() *acquire.Strategies { return a.strategies }
func (a *App) Pool() *engine.Pool              { return a.pool }

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the daemon: notifier, scheduler with every active trigger
// restored, admin server and config watcher.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.runs = rtsup.New(a.sup.Context(), rtsup.WithLogger(a.log.With(logx.String("comp", "runs"))), rtsup.WithCancelOnError(false))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	runCtx := a.sup.Context()
	a.notif.Start(runCtx)
	if err := a.sched.Start(runCtx); err != nil {
		return err
	}
	a.httpd.Start(runCtx)

	// Restore blocks for the startup delay; keep Start responsive.
	a.sup.Go("triggers.restore", func(c context.Context) error {
		if err := a.triggers.Restore(c); err != nil {
			a.log.Warn("some triggers could not be armed", logx.Err(err))
		}
		a.log.Info("triggers restored", logx.Int("armed", len(a.sched.Armed())))
		return nil
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("name", e.Name), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify READY failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify READY sent")
	}
	a.sup.Go("systemd.watchdog", systemd.Watchdog)

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// Reload re-reads the config file now (SIGHUP).
func (a *App) Reload(ctx context.Context) error {
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()
	_, err := a.cfgm.Reload(ctx)
	return err
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	step := a.stepper(ctx)
	step("scheduler", 2*time.Second, a.sched.Stop)
	step("runs", 5*time.Second, a.runs.Wait)
	step("httpd", time.Second, func(c context.Context) error { a.httpd.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("pool", 2*time.Second, a.pool.Close)
	step("storage", time.Second, func(context.Context) error { return a.close() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) close() error {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// Close releases resources of an app that was never started (CLI use).
func (a *App) Close() error {
	err := a.close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// Status is served at /status.
type Status struct {
	Time       time.Time              `json:"time"`
	Pool       engine.Status          `json:"pool"`
	PoolRecent []engine.HistoryItem   `json:"pool_recent"`
	Scheduler  scheduler.Snapshot     `json:"scheduler"`
	Strategy   acquire.Kind           `json:"schedule_strategy"`
	Notifier   []notifier.HistoryItem `json:"notifier_history"`
	BusDropped uint64                 `json:"bus_dropped"`
	Supervisor *rtsup.Snapshot        `json:"supervisor,omitempty"`
	Runs       *rtsup.Snapshot        `json:"runs,omitempty"`
}

func (a *App) Status() any {
	st := Status{
		Time:       time.Now(),
		Pool:       a.pool.Status(),
		PoolRecent: a.pool.History(),
		Scheduler:  a.sched.Snapshot(),
		Strategy:   a.strategies.Config().ScheduleStrategy,
		Notifier:   a.notif.History(),
		BusDropped: a.bus.Dropped(),
	}
	if a.sup != nil {
		s := a.sup.Snapshot()
		st.Supervisor = &s
	}
	if a.runs != nil {
		s := a.runs.Snapshot()
		st.Runs = &s
	}
	return st
}
