package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"remindbot/internal/bot"
	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/wizard"
	"remindbot/pkg/logx"
)

// App is the explicit context object: it builds every component once,
// wires them together and owns their lifecycle.
type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	engine  *engine.Service
	sched   *scheduler.Service
	disp    *reminder.Dispatcher
	router  *bot.Router

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	s, err := mapConfig(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(s.logging)

	store, err := storage.Open(s.storage, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	ad, err := telegram.New(s.telegram, log)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	eng := engine.New(s.engine, log.With(logx.String("comp", "taskengine")), bus)

	// The scheduler fires through the dispatcher, and the dispatcher defers
	// ack continuations to the scheduler.
	var disp *reminder.Dispatcher
	sched := scheduler.New(s.scheduler, eng, func(ctx context.Context, id int64) error {
		return disp.Fire(ctx, id)
	}, log.With(logx.String("comp", "scheduler")), bus)
	disp = reminder.NewDispatcher(reminder.DispatcherOptions{
		Store:          store,
		Messenger:      ad.Messenger(store),
		Deferrer:       sched,
		Bus:            bus,
		Log:            log.With(logx.String("comp", "dispatcher")),
		AckWindow:      s.ackWindow,
		AnnounceChatID: s.announceChatID,
	})

	wiz := wizard.New(wizard.Options{
		Config:       s.wizard,
		Store:        store,
		Scheduler:    sched,
		Roles:        store,
		BuiltinRoles: []string{telegram.AdminsRole},
		Location:     sched.Location,
		Log:          log,
	})

	router := bot.New(bot.Deps{
		Adapter:      ad,
		Store:        store,
		Scheduler:    sched,
		Wizard:       wiz,
		Creators:     ad,
		Owners:       s.owners,
		HistoryLimit: s.historyLimit,
		Log:          log,
	})

	return &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		engine:  eng,
		sched:   sched,
		disp:    disp,
		router:  router,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	runCtx := a.sup.Context()

	// Workers first so the first trigger has somewhere to go.
	a.engine.Start(runCtx)
	a.sched.Start(runCtx)

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	n, err := a.sched.ReloadAll(loadCtx, a.store)
	cancel()
	if err != nil {
		// A single bad row must not keep the rest from running.
		a.log.Warn("some reminders could not be scheduled", logx.Int("scheduled", n), logx.Err(err))
	}

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.sup.Go("bot.router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.notify(daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int("reminders", n))
	return nil
}

// applyConfig pushes the live-reloadable parts of next into the running
// components. Everything else is reported as needing a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(prev, next); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("keys", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(next))
	a.router.SetOwners(next.Telegram.OwnerUserIDs)
	a.router.SetHistoryLimit(next.Reminders.HistoryLimit)
	a.disp.SetAnnounceChat(next.Reminders.AnnounceChatID)

	s, err := mapConfig(next)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else if slices.Contains(sections, "scheduler") {
		a.engine.Apply(a.sup.Context(), s.engine)
		a.sched.Apply(s.scheduler)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) logEvent(e eventbus.Event) {
	switch ev := e.Data.(type) {
	case reminder.FiringEvent:
		a.log.Debug("event",
			logx.String("type", e.Type),
			logx.String("firing_id", ev.FiringID),
			logx.Int64("reminder_id", ev.ReminderID),
			logx.Int("dm_count", ev.DMCount),
		)
	case engine.TaskEvent:
		if e.Type == eventbus.TypeTaskFailed || e.Type == eventbus.TypeTaskDropped {
			a.log.Warn("event", logx.String("type", e.Type), logx.String("task", ev.Name), logx.String("err", ev.Error))
			return
		}
		a.log.Debug("event", logx.String("type", e.Type), logx.String("task", ev.Name), logx.Duration("took", ev.Duration))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// notify reports state to systemd. Outside systemd it is a no-op.
func (a *App) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		a.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.notify(daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	// step bounds one shutdown step so a stuck component can't stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
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
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Triggers first, then let running firings finish, then the transport.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
