package taskqueue

import (
	"context"
	"time"
)

// Kind names a task family with a registered handler.
type Kind string

// Task is the unit of work handed to a handler. Payload is the snapshot
// captured at submission time; handlers that care about current state must
// re-read it from the store rather than trust the payload.
type Task struct {
	Kind     Kind
	Key      string
	Payload  []byte
	RunAt    time.Time // zero when the task was immediately due
	Attempts int       // delivery attempts including this one
}

// Handler processes one task delivery. Returning an error triggers the
// in-process retry policy; the row is consumed once the final attempt
// returns regardless of outcome.
type Handler func(ctx context.Context, t Task) error

// Config controls the queue poller and worker pool.
type Config struct {
	Workers        int
	QueueSize      int
	PollInterval   time.Duration
	ClaimBatch     int
	Lease          time.Duration
	DefaultTimeout time.Duration
	RetryMax       int
	HistorySize    int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ClaimBatch <= 0 {
		c.ClaimBatch = 32
	}
	if c.Lease <= 0 {
		c.Lease = 30 * time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 10 * time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

type HistoryItem struct {
	Kind     string
	Key      string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	Kind     string        `json:"kind"`
	Key      string        `json:"key"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Workers  int
	QueueLen int
	QueueCap int

	DefaultTimeout time.Duration
	RetryMax       int
	History        []HistoryItem
}
