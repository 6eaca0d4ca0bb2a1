// Package app wires the reminder subsystem together: config, logging,
// storage, the durable task queue, trigger execution, notification
// delivery and the reconciliation sweep.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"memenote/internal/config"
	"memenote/internal/eventbus"
	"memenote/internal/services/note"
	"memenote/internal/services/notify"
	"memenote/internal/services/reminder"
	"memenote/internal/services/taskqueue"
	"memenote/internal/storage"
	logx "memenote/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store storage.Store
	queue *taskqueue.Service

	deliverer *notify.Deliverer
	executor  *reminder.Executor
	reconcile *reminder.Reconciler

	reminders *reminder.Service
	notes     *note.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the full service graph from the config file at cfgPath. The
// app is inert until Start.
func New(cfgPath string, sink notify.Sink) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	stCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(stCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	qCfg, err := mapQueueConfig(cfg)
	if err != nil {
		return nil, err
	}
	queue := taskqueue.New(qCfg, store, log.With(logx.String("comp", "taskqueue")), bus)

	nCfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = notify.LogSink{Log: log.With(logx.String("comp", "sink"))}
	}
	deliverer := notify.NewDeliverer(nCfg, sink, log.With(logx.String("comp", "notify")))

	dispatch := reminder.NewDispatcher(queue, log.With(logx.String("comp", "dispatch")))

	grace, err := mapTriggerGrace(cfg)
	if err != nil {
		return nil, err
	}
	executor := reminder.NewExecutor(store, dispatch, grace,
		log.With(logx.String("comp", "trigger")), bus)

	queue.Register(reminder.KindNotify, deliverer.Handle)
	queue.Register(reminder.KindTrigger, executor.Handle)

	lifecycle := reminder.NewLifecycle(queue, dispatch, log.With(logx.String("comp", "lifecycle")))
	reminders := reminder.NewService(store, lifecycle, log.With(logx.String("comp", "reminders")))
	notes := note.NewService(store, log.With(logx.String("comp", "notes")))

	var rec *reminder.Reconciler
	if cfg.Scheduler.ReconcileOn() {
		rec = reminder.NewReconciler(mapReconcilerConfig(cfg), store, queue,
			log.With(logx.String("comp", "reconciler")))
	}

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		queue:     queue,
		deliverer: deliverer,
		executor:  executor,
		reconcile: rec,
		reminders: reminders,
		notes:     notes,
	}, nil
}

func (a *App) Reminders() *reminder.Service { return a.reminders }
func (a *App) Notes() *note.Service         { return a.notes }
func (a *App) Queue() *taskqueue.Service    { return a.queue }
func (a *App) Bus() eventbus.Bus            { return a.bus }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required")
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapQueueConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifyConfig(cfg); err != nil {
			return err
		}
		if _, err := mapTriggerGrace(cfg); err != nil {
			return err
		}
		if s := strings.TrimSpace(cfg.Scheduler.ReconcileSchedule); s != "" {
			parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
				cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
			if _, err := parser.Parse(s); err != nil {
				return fmt.Errorf("scheduler.reconcile_schedule: %w", err)
			}
		}
		return nil
	})

	a.queue.Start(runCtx)

	if a.reconcile != nil {
		if err := a.reconcile.Start(); err != nil {
			return fmt.Errorf("start reconciler: %w", err)
		}
	}

	// Hot reload: the watcher publishes validated configs, this loop fans
	// them out to the services that support live re-configuration.
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	// The mappers already passed validation before the config was
	// published, so mapping errors here are unreachable.
	if qCfg, err := mapQueueConfig(cfg); err == nil {
		a.queue.Apply(qCfg)
	}
	if nCfg, err := mapNotifyConfig(cfg); err == nil {
		a.deliverer.Apply(nCfg)
	}
	if grace, err := mapTriggerGrace(cfg); err == nil {
		a.executor.Apply(grace)
	}
	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.reconcile != nil {
		a.reconcile.Stop(ctx)
	}
	a.queue.Stop(ctx)

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = err
	}
	a.log.Info("app stopped")
	if err := a.logs.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
