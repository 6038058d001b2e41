package app

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"dispatchbot/internal/config"
	"dispatchbot/internal/dispatch"
	"dispatchbot/internal/eventbus"
	"dispatchbot/internal/leads"
	"dispatchbot/internal/mail"
	"dispatchbot/internal/notifier"
	"dispatchbot/internal/runtime/supervisor"
	"dispatchbot/internal/scheduler"
	kit "dispatchbot/internal/transport"
	telegram "dispatchbot/internal/transport/telegram/adapter"
	"dispatchbot/internal/transport/telegram/router"
	logx "dispatchbot/pkg/logx"
	"dispatchbot/pkg/tgui"
)

const (
	jobAutostart = "dispatch.autostart"
	jobReclaim   = "dispatch.reclaim"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    leads.Store
	storeCfg leads.Config

	adapter kit.Adapter
	notif   *notifier.Service
	sched   *scheduler.Service
	router  *router.Router
	sink    *noticeSink
	session *dispatch.Session

	updates chan kit.Update
}

// New loads the configuration and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// Telegram logging needs a target before it is enabled, otherwise
	// Apply warns about a missing chat.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(noticeTarget(cfg))
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	storeCfg, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := leads.Open(storeCfg, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Info("store opened", logx.String("driver", storeCfg.Driver))

	bus := eventbus.New()
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus)
	sink := &noticeSink{notif: notif, sender: ad, log: log.With(logx.String("comp", "notice"))}
	sink.SetTarget(noticeTarget(cfg))

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		storeCfg: storeCfg,
		adapter:  ad,
		notif:    notif,
		sched:    scheduler.New(log.With(logx.String("comp", "scheduler"))),
		router:   router.New(log.With(logx.String("comp", "router")), ad, cfg.Telegram.OwnerUserIDs),
		sink:     sink,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return a.validate(c)
	})

	deps, err := a.sessionDeps(cfg)
	if err != nil {
		return err
	}
	deps.WorkerID = cfg.Dispatch.WorkerID
	deps.Store = a.store
	deps.Bus = a.bus
	deps.Log = a.log.With(logx.String("comp", "dispatch"))
	a.session = dispatch.NewSession(a.sup, deps)
	a.log.Info("dispatch session ready",
		logx.String("worker", a.session.Status().WorkerID),
		logx.String("transport", deps.Transport.Name()),
		logx.Bool("rewrite", deps.Rewriter != nil),
	)

	d := &router.Dispatcher{
		Session:      a.session,
		Sink:         a.sink,
		Conv:         a.router.Conversations(),
		ReclaimAfter: func() time.Duration { return reclaimAfter(a.cfgm.Get()) },
		Placeholder:  func() string { return a.cfgm.Get().Dispatch.Placeholder },
		Runtime: func() []tgui.H {
			return []tgui.H{
				tgui.I("Runtime"),
				tgui.KV("Config", a.cfgm.Revision()),
				tgui.KV("Supervised tasks", strconv.Itoa(len(a.sup.Running()))),
			}
		},
	}
	a.router.Register(d.Commands(), d.Callbacks())

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if err := a.sched.Apply(cfg.Dispatch.Timezone, a.jobs(cfg)); err != nil {
		return err
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	for _, e := range a.sched.Entries() {
		a.log.Info("job scheduled", logx.String("name", e.Name), logx.String("spec", e.Spec), logx.Time("next", e.Next))
	}

	a.sup.Go("router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.router.PublishMenu(mctx); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		defer func() {
			if n := a.bus.Dropped(); n > 0 {
				a.log.Info("events dropped", logx.Int64("count", int64(n)))
			}
		}()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts; only the newest config matters.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("owners", len(cfg.Telegram.OwnerUserIDs)))
	return nil
}

// sessionDeps maps the hot-reloadable parts of the session.
func (a *App) sessionDeps(cfg *config.Config) (dispatch.Deps, error) {
	mcfg, err := mapMailConfig(cfg)
	if err != nil {
		return dispatch.Deps{}, err
	}
	transport, err := mail.Open(mcfg)
	if err != nil {
		return dispatch.Deps{}, err
	}
	if !mail.Configured(transport) {
		a.log.Warn("mail transport is not configured; /send will refuse to start", logx.String("transport", transport.Name()))
	}
	pacing, err := mapPacing(cfg)
	if err != nil {
		return dispatch.Deps{}, err
	}
	rw, err := mapRewriter(cfg, a.log.With(logx.String("comp", "rewrite")))
	if err != nil {
		return dispatch.Deps{}, err
	}
	return dispatch.Deps{
		Transport: transport,
		Rewriter:  rw,
		Render:    mapRender(cfg),
		Pacing:    pacing,
	}, nil
}

// validate runs the mappings a reload would apply so a bad file is
// rejected before it is committed.
func (a *App) validate(cfg *config.Config) error {
	if _, err := mapStoreConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := a.sessionDeps(cfg); err != nil {
		return err
	}
	for _, j := range a.jobs(cfg) {
		if j.Spec == "" {
			continue
		}
		if err := a.sched.Parse(j.Spec); err != nil {
			return fmt.Errorf("%s: %w", j.Name, err)
		}
	}
	return nil
}

func (a *App) jobs(cfg *config.Config) []scheduler.Job {
	reclaimSpec := cfg.Dispatch.ReclaimSchedule
	if reclaimAfter(cfg) <= 0 {
		reclaimSpec = ""
	}
	return []scheduler.Job{
		{
			Name:    jobAutostart,
			Spec:    cfg.Dispatch.Schedule,
			Timeout: 30 * time.Second,
			Run: func(ctx context.Context) error {
				_, err := a.session.Start(ctx, a.sink)
				return err
			},
		},
		{
			Name:    jobReclaim,
			Spec:    reclaimSpec,
			Timeout: 2 * time.Minute,
			Run:     a.reclaimStale,
		},
	}
}

func (a *App) reclaimStale(ctx context.Context) error {
	age := reclaimAfter(a.cfgm.Get())
	if age <= 0 {
		return nil
	}
	n, err := a.store.ReclaimStale(ctx, time.Now().Add(-age))
	if err != nil {
		return err
	}
	if n > 0 {
		a.log.Info("stale claims released", logx.Int("count", n), logx.Duration("older_than", age))
	}
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	target := noticeTarget(cfg)
	a.logs.SetTelegramTarget(target)
	a.logs.Apply(mapLogConfig(cfg))
	a.sink.SetTarget(target)
	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)

	if sc, err := mapStoreConfig(cfg); err == nil && !reflect.DeepEqual(sc, a.storeCfg) {
		a.log.Warn("store config changed; restart required for it to take effect")
	}

	if deps, err := a.sessionDeps(cfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		// Running runs keep their settings; these apply to the next one.
		a.session.Apply(deps.Pacing)
		a.session.SetTransport(deps.Transport)
		a.session.SetRewriter(deps.Rewriter)
		a.session.SetRender(deps.Render)
	}

	if ncfg, err := mapNotifierConfig(cfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		was := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case was && !ncfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
			a.log.Info("notifier disabled via config")
		case !was && ncfg.Enabled:
			a.notif.Start(ctx)
			a.log.Info("notifier enabled via config")
		}
	}

	if err := a.sched.Apply(cfg.Dispatch.Timezone, a.jobs(cfg)); err != nil {
		a.log.Warn("invalid schedule; keeping previous", logx.Err(err))
	}
	a.log.Info("config reloaded")
}

// Stop ends the active run first so its in-flight send completes, then
// tears down the rest in order.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("dispatch", 45*time.Second, func(c context.Context) error {
		if a.session == nil {
			return nil
		}
		a.session.Stop()
		return a.session.Wait(c)
	})

	a.sup.Cancel()

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("store", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}
