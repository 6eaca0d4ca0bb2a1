package app

import (
	"time"

	"memenote/internal/config"
	"memenote/internal/services/notify"
	"memenote/internal/services/reminder"
	"memenote/internal/services/taskqueue"
	"memenote/internal/storage"
)

// Mapping between the JSON config surface and per-service configs. Each
// mapper is also the validator for its section: a bad duration string is
// rejected here, both at boot and on hot reload.

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapQueueConfig(cfg *config.Config) (taskqueue.Config, error) {
	poll, err := config.ParseDurationOrDefault("queue.poll_interval", cfg.Queue.PollInterval, 0)
	if err != nil {
		return taskqueue.Config{}, err
	}
	lease, err := config.ParseDurationOrDefault("queue.lease", cfg.Queue.Lease, 0)
	if err != nil {
		return taskqueue.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("queue.default_timeout", cfg.Queue.DefaultTimeout, 0)
	if err != nil {
		return taskqueue.Config{}, err
	}
	return taskqueue.Config{
		Workers:        cfg.Queue.Workers,
		QueueSize:      cfg.Queue.QueueSize,
		PollInterval:   poll,
		ClaimBatch:     cfg.Queue.ClaimBatch,
		Lease:          lease,
		DefaultTimeout: timeout,
		RetryMax:       cfg.Queue.RetryMax,
		HistorySize:    cfg.Queue.HistorySize,
	}, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	base, err := config.ParseDurationOrDefault("notify.retry_base", cfg.Notify.RetryBase, 0)
	if err != nil {
		return notify.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notify.retry_max_delay", cfg.Notify.RetryMaxDelay, 0)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		RatePerSec:    cfg.Notify.RatePerSec,
		RetryMax:      cfg.Notify.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

func mapTriggerGrace(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("scheduler.trigger_grace",
		cfg.Scheduler.TriggerGrace, reminder.DefaultTriggerGrace)
}

func mapReconcilerConfig(cfg *config.Config) reminder.ReconcilerConfig {
	return reminder.ReconcilerConfig{
		Schedule: cfg.Scheduler.ReconcileSchedule,
		Batch:    cfg.Scheduler.ReconcileBatch,
	}
}
