// Package app wires the two bot identities, the broadcast core, lead intake
// and the HTTP API into one process and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"offerbot/internal/bots/admin"
	"offerbot/internal/bots/user"
	"offerbot/internal/broadcast"
	"offerbot/internal/composer"
	"offerbot/internal/config"
	"offerbot/internal/eventbus"
	"offerbot/internal/httpapi"
	"offerbot/internal/leads"
	"offerbot/internal/runtime/scheduler"
	"offerbot/internal/runtime/supervisor"
	"offerbot/internal/storage"
	kit "offerbot/internal/transport"
	"offerbot/internal/transport/telegram/adapter"
	"offerbot/internal/transport/telegram/router"
	logx "offerbot/pkg/logx"
)

const (
	reconcileJob     = "sheets.reconcile"
	reconcileTimeout = 10 * time.Minute
	updateBuffer     = 256
)

type Options struct {
	ConfigPath string
	// EnvPath is a dotenv file read before the process environment; missing is fine.
	EnvPath string
	// Offline builds the bot identities without calling getMe.
	Offline bool
}

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	userAd      *adapter.Adapter
	adminAd     *adapter.Adapter
	userRouter  *router.Router
	adminRouter *router.Router

	limiter    *broadcast.Limiter
	dispatcher *broadcast.Dispatcher
	composer   *composer.Composer
	userBot    *user.Bot
	adminBot   *admin.Bot

	leads      *leads.Service
	sinks      *sinks
	reconciler *leads.Reconciler
	sched      *scheduler.Service

	api         *httpapi.Server
	apiShutdown time.Duration

	debug debugListener

	admins atomic.Pointer[map[int64]struct{}]
}

func New(ctx context.Context, opts Options) (*App, error) {
	env, err := config.LoadEnv(opts.EnvPath)
	if err != nil {
		return nil, err
	}
	cfgm := config.NewManager(opts.ConfigPath, config.WithEnv(env))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	adminAd, err := adapter.New(adapter.Config{Name: "admin", Token: cfg.Telegram.AdminToken, PollTimeout: pollTimeout, Offline: opts.Offline}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("admin bot: %w", err)
	}
	userAd, err := adapter.New(adapter.Config{Name: "user", Token: cfg.Telegram.UserToken, PollTimeout: pollTimeout, Offline: opts.Offline}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("user bot: %w", err)
	}

	// Log lines mirrored to Telegram go out through the admin identity.
	logSvc, root := logx.New(mapLogConfig(cfg), adminAd)
	log := root.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		userAd:  userAd,
		adminAd: adminAd,
	}
	a.setAdmins(cfg.Telegram.AdminIDs)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(ctx, sc, root)
	if err != nil {
		return nil, err
	}
	a.store = st

	if err := a.buildBroadcast(cfg, root); err != nil {
		_ = st.Close()
		return nil, err
	}
	a.buildBots(cfg, root)

	if err := a.buildLeads(ctx, cfg, root); err != nil {
		_ = st.Close()
		return nil, err
	}

	if cfg.API.Enabled {
		a.apiShutdown, err = config.ParseDurationOrDefault("api.shutdown_timeout", cfg.API.ShutdownTimeout, 10*time.Second)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		a.api = httpapi.New(mapAPIConfig(cfg), a.leads, st,
			httpapi.WithLogger(root),
			httpapi.WithCounters(a.counters))
	}
	return a, nil
}

func (a *App) buildBroadcast(cfg *config.Config, log logx.Logger) error {
	opts, err := mapBroadcastOptions(cfg)
	if err != nil {
		return err
	}
	a.limiter = broadcast.NewLimiter(cfg.Broadcast.Concurrency)
	// Operators compose in the admin chat; the relay re-creates that content
	// under the user identity so its file ids are valid for delivery.
	relay := broadcast.NewRelay(a.adminAd, a.userAd, cfg.Telegram.OperatorChatID, a.limiter,
		broadcast.WithMaxFileSize(cfg.Broadcast.MaxFileSize),
		broadcast.WithRelayTimeout(opts.SendTimeout),
		broadcast.WithRelayLogger(log.With(logx.String("comp", "relay"))))
	a.dispatcher = broadcast.NewDispatcher(a.limiter,
		broadcast.WithBus(a.bus),
		broadcast.WithLogger(log.With(logx.String("comp", "dispatcher"))),
		broadcast.WithOptions(opts),
		broadcast.WithRelay(relay))

	settings, err := mapComposerSettings(cfg)
	if err != nil {
		return err
	}
	a.composer = composer.New(composer.Deps{
		UI:         a.adminAd,
		Preview:    a.adminAd,
		Sender:     a.userAd,
		Dispatcher: a.dispatcher,
		Recipients: a.store,
		Log:        log,
	}, settings)
	return nil
}

func (a *App) buildBots(cfg *config.Config, log logx.Logger) {
	a.adminRouter = router.New("admin", a.adminAd, log,
		router.WithAdmins(a.isAdmin),
		router.WithDeniedText(composer.TextForbidden))
	a.adminBot = admin.New(a.composer, a.adminAd, a.store, mapAdminSettings(cfg), log)
	a.adminBot.Register(a.adminRouter)

	a.userRouter = router.New("user", a.userAd, log, router.WithAdmins(a.isAdmin))
	a.userBot = user.New(a.userAd, a.adminAd, a.store,
		user.WithBus(a.bus),
		user.WithLogger(log),
		user.WithSettings(mapUserSettings(cfg)))
	a.userBot.Register(a.userRouter)
}

func (a *App) buildLeads(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	timeout, err := config.ParseDurationField("leads.notify_timeout", cfg.Leads.NotifyTimeout)
	if err != nil {
		return err
	}
	s, err := buildSinks(ctx, cfg, log)
	if err != nil {
		return err
	}
	a.sinks = s
	a.leads = leads.NewService(a.store,
		leads.WithBus(a.bus),
		leads.WithLogger(log),
		leads.WithNotifiers(s.notifiers...),
		leads.WithNotifyTimeout(timeout))

	a.sched = scheduler.New("", log)
	if s.sheet != nil {
		a.reconciler = leads.NewReconciler(a.store, s.sheet, log)
		if cfg.Sheets.ReconcileEnabled() {
			if err := a.sched.Add(reconcileJob, cfg.Sheets.ReconcileCron, reconcileTimeout, a.reconciler.Job); err != nil {
				return fmt.Errorf("sheets.reconcile_cron: %w", err)
			}
		}
	}
	log.Info("lead sinks ready", logx.Strings("sinks", s.names()))
	return nil
}

func (a *App) setAdmins(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	a.admins.Store(&m)
}

func (a *App) isAdmin(userID int64) bool {
	m := a.admins.Load()
	if m == nil {
		return false
	}
	_, ok := (*m)[userID]
	return ok
}

func (a *App) counters() supervisor.Counters {
	if a.sup == nil {
		return supervisor.Counters{}
	}
	return a.sup.Counters()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
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

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	adminUpdates := make(chan kit.Update, updateBuffer)
	userUpdates := make(chan kit.Update, updateBuffer)
	if err := a.adminAd.Start(runCtx, adminUpdates); err != nil {
		return fmt.Errorf("admin bot: %w", err)
	}
	if err := a.userAd.Start(runCtx, userUpdates); err != nil {
		return fmt.Errorf("user bot: %w", err)
	}
	a.sup.GoRestart("router.admin", func(c context.Context) error { return a.adminRouter.Run(c, adminUpdates) })
	a.sup.GoRestart("router.user", func(c context.Context) error { return a.userRouter.Run(c, userUpdates) })

	a.sup.Go("composer.sweep", func(c context.Context) error { return a.composer.Run(c, time.Minute) })
	a.sup.Go0("admin.listen", func(c context.Context) { a.adminBot.Listen(c, a.bus) })
	a.sup.Go0("eventbus.log", func(c context.Context) {
		eventbus.Listen(c, a.bus, 128, func(e eventbus.Event) {
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		})
	})

	a.sched.Start(runCtx)

	if a.api != nil {
		a.sup.Go("http", func(c context.Context) error { return a.api.Run(c, a.apiShutdown) })
	}

	a.applyPprof(a.cfgm.Get().Pprof)

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })

	a.log.Info("app started",
		logx.String("user_bot", a.userAd.Username()),
		logx.String("admin_bot", a.adminAd.Username()),
		logx.Bool("api", a.api != nil))
	sdNotify(a.log, daemon.SdNotifyReady)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// Cancel the run context first so loops and the HTTP server start unwinding.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := a.runStep(ctx, name, max, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("composer", 5*time.Second, a.composer.Shutdown)
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("leads", 5*time.Second, a.leads.Wait)
	step("adapter.user", 2*time.Second, a.userAd.Stop)
	step("adapter.admin", 2*time.Second, a.adminAd.Stop)
	step("sinks", time.Second, func(context.Context) error {
		var cerrs []error
		for _, c := range a.sinks.closers {
			cerrs = append(cerrs, c.Close())
		}
		return errors.Join(cerrs...)
	})
	step("supervisor", a.apiShutdown+2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// runStep bounds one shutdown step so a stuck component cannot stall the rest.
// It never extends the caller's deadline.
func (a *App) runStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step: %v", r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return err
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
		return stepCtx.Err()
	}
}
