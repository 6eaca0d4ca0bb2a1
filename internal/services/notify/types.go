// Package notify carries reminder notifications from the task queue to a
// delivery sink. The sink is an interface on purpose: push, email or socket
// transports live outside this subsystem, which only guarantees payload
// shape and submission.
package notify

import "time"

// Action tags the discrete historical event a notification represents.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"

	// ActionAlert is the one-shot "reminder is due" notification emitted by
	// the trigger executor after it wins the triggered-flag race.
	ActionAlert Action = "alert"
)

// Payload is the reminder snapshot carried by a notify task. For alert
// notifications the acknowledgment flag reflects state at fire time, not
// submission time.
type Payload struct {
	Action         Action    `json:"action"`
	ReminderID     string    `json:"reminder_id"`
	ReminderTime   time.Time `json:"reminder_time"`
	Message        string    `json:"message"`
	IsAcknowledged bool      `json:"is_acknowledged"`
	IsTriggered    bool      `json:"is_triggered"`
	UserID         string    `json:"user_id"`
	NoteID         string    `json:"note_id,omitempty"`
}

// Config controls the delivery path.
type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Second
	}
	return c
}
