// Package app wires configuration, storage, the task engine, reminders,
// job search and the Telegram front end into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskbot/internal/bot"
	"taskbot/internal/config"
	"taskbot/internal/eventbus"
	"taskbot/internal/jobs"
	"taskbot/internal/reminder"
	"taskbot/internal/runtime/supervisor"
	"taskbot/internal/storage"
	"taskbot/internal/task/engine"
	"taskbot/internal/task/scheduler"
	"taskbot/internal/todo"
	kit "taskbot/internal/transport"
	telegram "taskbot/internal/transport/telegram/adapter"
	"taskbot/internal/transport/telegram/router"
	logx "taskbot/pkg/logx"
)

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

const (
	digestSchedule = "digest"
	watchSchedule  = "jobs.watch"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	db   *storage.DB

	adapter kit.Adapter
	router  *router.Router

	engine    *engine.Service
	sched     *scheduler.Service
	reminders *reminder.Scheduler
	tasks     *todo.Repo
	cache     jobs.Cache
	bot       *bot.Bot

	updates chan kit.Update
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogging(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logs,
		bus:     eventbus.New(),
		updates: make(chan kit.Update, 256),
	}
	if err := a.build(ctx, cfg, log); err != nil {
		a.closeResources()
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	sc, err := mapStorage(cfg)
	if err != nil {
		return err
	}
	a.db, err = storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}

	a.engine = engine.New(mapEngine(cfg), log.With(logx.String("comp", "engine")), a.bus)
	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Reminders.Timezone}, a.engine, log.With(logx.String("comp", "scheduler")))
	loc := a.sched.Location()

	a.tasks, err = todo.NewRepo(a.db, loc)
	if err != nil {
		return err
	}
	postings, err := jobs.NewRepo(a.db, log.With(logx.String("comp", "jobs")))
	if err != nil {
		return err
	}

	ad, err := telegram.New(mapAdapter(cfg), log.With(logx.String("comp", "telegram")))
	if err != nil {
		return err
	}
	a.adapter = ad
	a.reminders = reminder.New(mapReminders(cfg), a.sched, ad, a.bus, loc, log.With(logx.String("comp", "reminder")))

	var opts []jobs.AggregatorOption
	cache, ttl, err := buildCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	if cache != nil {
		a.cache = cache
		opts = append(opts, jobs.WithCache(cache, ttl))
	}
	search := jobs.NewAggregator(log, buildSources(cfg), opts...)

	a.bot = bot.New(bot.Deps{
		Tasks:     a.tasks,
		Jobs:      postings,
		Search:    search,
		Reminders: a.reminders,
		Engine:    a.engine,
		Sender:    ad,
		Log:       log,
		ChatID:    cfg.Telegram.ChatID,
		PageSize:  cfg.Jobs.PageSize,
	})

	a.router = router.New(mapRouter(cfg), ad, log.With(logx.String("comp", "router")))
	a.router.SetRegistry(a.bot.Commands(), a.bot.Callbacks())
	a.router.SetTextHandler(a.bot.HandleText)

	a.log.Info("app built",
		logx.String("storage", sc.Driver),
		logx.String("tz", loc.String()),
		logx.Strings("sources", search.Sources()),
	)
	return nil
}

// Done is closed when the app is canceled, either by the Start context or
// by a fatal component error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err reports the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()
	cfg := a.cfgm.Get()

	a.engine.Start(c)
	a.sched.Start(c)

	if cfg.Reminders.RestoreEnabled() {
		if _, err := a.reminders.Restore(c, a.tasks, a.bot.Owner()); err != nil {
			a.log.Warn("reminder restore failed", logx.Err(err))
		}
	}
	applySchedules(a.sched, cfg, a.bot.Digest, a.bot.Watch, a.log)

	mctx, cancel := context.WithTimeout(c, 10*time.Second)
	if err := a.router.UpdateMenu(mctx); err != nil {
		a.log.Warn("command menu update failed", logx.Err(err))
	}
	cancel()

	if err := a.adapter.Start(c, a.updates); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("telegram: %w", err)
	}
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.Dispatch(c, a.updates)
	})
	a.sup.Go0("events.log", a.logEvents)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Int64("owner_chat", a.bot.Owner()))
	return nil
}

func (a *App) logEvents(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			a.log.Debug("event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
		}
	}
}

// Stop shuts components down in reverse start order. Each step is bounded
// so one slow component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		_ = a.logs.Close()
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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("adapter", 3*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, func(c context.Context) error {
		a.sup.Cancel()
		return a.sup.Wait(c)
	})
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("engine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("resources", 2*time.Second, func(context.Context) error { a.closeResources(); return nil })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

func (a *App) closeResources() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("cache close failed", logx.Err(err))
		}
		a.cache = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.db = nil
	}
}
