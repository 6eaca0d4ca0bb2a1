package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage is the sqlite database holding reminders, notes and the
	// durable task queue rows.
	Storage StorageConfig `json:"storage"`

	// Queue controls the task queue worker pool and poller.
	Queue QueueConfig `json:"queue,omitempty"`

	// Notify controls delivery of notify tasks to the sink.
	Notify NotifyConfig `json:"notify,omitempty"`

	// Scheduler controls trigger semantics (grace window) and the
	// reconciliation sweep.
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
}

type LoggingConfig struct {
	// Level: trace, debug, info, warn, error. Default info.
	Level string `json:"level,omitempty"`

	// Console is a pointer so "omitted" defaults to true.
	Console *bool `json:"console,omitempty"`

	File LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

func (c LoggingConfig) ConsoleEnabled() bool {
	if c.Console == nil {
		return true
	}
	return *c.Console
}

// StorageConfig controls the sqlite store.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// QueueConfig controls the durable task queue.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - poll_interval: "1s"
//   - claim_batch: 32
//   - lease: "30s"
//   - default_timeout: "10s"
//   - retry_max: 3
//   - history_size: 200
type QueueConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	PollInterval   string `json:"poll_interval,omitempty"`
	ClaimBatch     int    `json:"claim_batch,omitempty"`
	Lease          string `json:"lease,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// NotifyConfig controls the notification delivery path.
type NotifyConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// SchedulerConfig controls trigger staleness detection and reconciliation.
//
// TriggerGrace is how far into the future a re-read reminder_time may sit
// while the trigger is still considered due. Beyond it the execution is
// treated as superseded by a reschedule and discarded. Default "2s".
//
// ReconcileSchedule accepts cron specs and descriptors understood by
// robfig/cron ("@every 1m", "*/5 * * * *"). Default "@every 1m".
type SchedulerConfig struct {
	TriggerGrace      string `json:"trigger_grace,omitempty"`
	ReconcileEnabled  *bool  `json:"reconcile_enabled,omitempty"`
	ReconcileSchedule string `json:"reconcile_schedule,omitempty"`
	ReconcileBatch    int    `json:"reconcile_batch,omitempty"`
}

func (c SchedulerConfig) ReconcileOn() bool {
	if c.ReconcileEnabled == nil {
		return true
	}
	return *c.ReconcileEnabled
}
