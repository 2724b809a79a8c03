// Package app wires configuration, storage, senders and the alert pipeline
// into a long-running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"locatealert/internal/batch"
	"locatealert/internal/config"
	"locatealert/internal/dispatch"
	"locatealert/internal/escalation"
	"locatealert/internal/eventbus"
	"locatealert/internal/httpapi"
	"locatealert/internal/runtime/supervisor"
	"locatealert/internal/sender"
	"locatealert/internal/storage"
	"locatealert/internal/task/scheduler"
	kit "locatealert/internal/transport"
	"locatealert/internal/transport/telegram"
	logx "locatealert/pkg/logx"
)

// BatchSchedule is the scheduler entry that runs the alert batch.
const BatchSchedule = "alert-batch"

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	dispatcher *dispatch.Dispatcher
	sweeper    *escalation.Sweeper
	job        *batch.Job
	sched      *scheduler.Service
	http       *httpapi.Server

	// written by the reload loop, read by /healthz
	mu           sync.Mutex
	every        string
	schedEnabled bool
	runTimeout   time.Duration
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validateConfig)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	// ops chat delivery is optional; a nil sender disables forwarding
	var ops kit.Sender
	if tc, enabled, err := mapTelegramConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		ad, err := telegram.New(tc)
		if err != nil {
			return nil, err
		}
		ops = ad
	}
	logSvc, log := logx.New(mapLoggingConfig(cfg), ops)
	a, err := build(cfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	return a, nil
}

// build assembles the pipeline from a validated config.
func build(cfg *config.Config, log logx.Logger) (*App, error) {
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	closeOnErr := func(err error) (*App, error) {
		_ = store.Close()
		return nil, err
	}

	var email sender.EmailSender = sender.NewLogEmail(log)
	if ec, enabled, err := mapEmailConfig(cfg); err != nil {
		return closeOnErr(err)
	} else if enabled {
		he, err := sender.NewHTTPEmail(ec, log)
		if err != nil {
			return closeOnErr(err)
		}
		email = he
	}
	reg := sender.NewRegistry(email, sender.NewLogSMS(log), log)

	dcfg, runTimeout, err := mapDispatcherConfig(cfg)
	if err != nil {
		return closeOnErr(err)
	}
	d, err := dispatch.New(dispatch.Deps{
		Feed:          store,
		Records:       store,
		Subscriptions: store,
		Preferences:   store,
		Acks:          store,
		Tickets:       store,
		Sender:        reg,
		Bus:           bus,
		Log:           log,
	}, dcfg)
	if err != nil {
		return closeOnErr(err)
	}

	sw, err := escalation.New(store, bus, log, nil)
	if err != nil {
		return closeOnErr(err)
	}
	job, err := batch.New(store, d, sw, bus, log)
	if err != nil {
		return closeOnErr(err)
	}
	job.SetRunTimeout(runTimeout)

	schedCfg, every, err := mapSchedulerConfig(cfg)
	if err != nil {
		return closeOnErr(err)
	}
	sched := scheduler.New(schedCfg, log)

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return closeOnErr(err)
	}

	a := &App{
		log:          log.With(logx.String("comp", "app")),
		bus:          bus,
		store:        store,
		dispatcher:   d,
		sweeper:      sw,
		job:          job,
		sched:        sched,
		every:        every,
		schedEnabled: cfg.Scheduler.Enabled,
		runTimeout:   runTimeout,
	}
	if a.schedEnabled {
		if err := sched.Add(BatchSchedule, every, runTimeout, job.Scheduled); err != nil {
			return closeOnErr(err)
		}
	}
	a.http = httpapi.New(hcfg, job, sw, a.health, log)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
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
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.sched.Start(runCtx)
	a.sup.Go("http", a.http.Serve)
	a.sup.Go("eventbus.log", a.relayEvents)
	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
			return nil
		})
		a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	}
	a.startWatchdog()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.mu.Lock()
	a.log.Info("app started", logx.Bool("batch_scheduled", a.schedEnabled), logx.String("every", a.every))
	a.mu.Unlock()
	return nil
}

// startWatchdog pings systemd at half the configured watchdog interval.
func (a *App) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return nil
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

// relayEvents mirrors pipeline events into the log at debug level.
func (a *App) relayEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
		}
	}
}

func (a *App) health() any {
	a.mu.Lock()
	enabled, every := a.schedEnabled, a.every
	a.mu.Unlock()
	out := map[string]any{
		"schedules":     a.sched.Snapshot(),
		"eventsDropped": eventbus.Dropped(a.bus),
		"batch":         map[string]any{"enabled": enabled, "every": every},
	}
	if a.sup != nil {
		out["tasks"] = a.sup.Snapshot()
	}
	return out
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// keep only the newest of a burst
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes hot-reloadable settings to running components.
// Sections that need a restart are only reported.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	ch := config.SummarizeConfigChange(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", ch.Restart))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	var runTimeout time.Duration
	if dcfg, rt, err := mapDispatcherConfig(newCfg); err != nil {
		a.log.Warn("invalid dispatcher config; keeping previous", logx.Err(err))
	} else {
		a.dispatcher.Apply(dcfg)
		a.job.SetRunTimeout(rt)
		runTimeout = rt
	}

	if schedCfg, every, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(schedCfg)
		a.reschedule(newCfg.Scheduler.Enabled, every, runTimeout)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: eventbus.ConfigReloaded{
		Path:     a.cfgm.Path(),
		Sections: ch.Sections,
		Restart:  ch.Restart,
	}})
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

// reschedule re-registers the batch when its schedule, enablement or run
// timeout changed. A zero runTimeout keeps the current one.
func (a *App) reschedule(enabled bool, every string, runTimeout time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if runTimeout <= 0 {
		runTimeout = a.runTimeout
	}
	if !enabled {
		if a.sched.Remove(BatchSchedule) {
			a.log.Info("alert batch schedule disabled via config")
		}
		a.schedEnabled = false
		return
	}
	if a.schedEnabled && every == a.every && runTimeout == a.runTimeout {
		return
	}
	if err := a.sched.Add(BatchSchedule, every, runTimeout, a.job.Scheduled); err != nil {
		a.log.Warn("alert batch reschedule failed; keeping previous", logx.Err(err))
		return
	}
	a.log.Info("alert batch scheduled", logx.String("every", every), logx.Duration("run_timeout", runTimeout))
	a.schedEnabled = true
	a.every = every
	a.runTimeout = runTimeout
}

// Stop shuts components down in dependency order. Each step is bounded so a
// stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		err := a.closeResources()
		if a.logs != nil {
			_ = a.logs.Close()
		}
		return err
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step slow", logx.String("name", name), logx.Duration("took", took))
		}
	}

	step("scheduler", 10*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("supervisor", 15*time.Second, a.sup.Wait)
	err := a.closeResources()
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) closeResources() error {
	if a.store == nil {
		return nil
	}
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	return nil
}
