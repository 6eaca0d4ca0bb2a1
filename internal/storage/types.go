package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist or is not owned by
// the requesting user. Callers treat both the same (404-equivalent) so
// ownership is never leaked through error text.
var ErrNotFound = errors.New("record not found")

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Reminder is the durable reminder record. The store owns canonical state;
// services mutate it only through the update operations below.
type Reminder struct {
	ID             string
	UserID         string
	NoteID         string // empty when the reminder stands alone
	Message        string
	ReminderTime   time.Time
	IsAcknowledged bool
	IsTriggered    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Note is the minimal note record reminders may attach to.
type Note struct {
	ID        string
	UserID    string
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReminderPatch is a partial update. Nil fields are left unchanged.
// A non-nil NoteID pointing at an empty string detaches the reminder
// from its note.
type ReminderPatch struct {
	Message        *string
	ReminderTime   *time.Time
	NoteID         *string
	IsAcknowledged *bool
	IsTriggered    *bool
}

// NotePatch is a partial note update.
type NotePatch struct {
	Title   *string
	Content *string
}

// ReminderFilter narrows List results.
type ReminderFilter struct {
	NoteID  string // non-empty: only reminders attached to this note
	Search  string // substring match on message
	OrderBy string // "reminder_time" (default), "created_at"; "-" prefix for desc
	Limit   int
	Offset  int
}

// NoteFilter narrows note listing.
type NoteFilter struct {
	Search  string
	OrderBy string
	Limit   int
	Offset  int
}

// ClaimedTask is a due task row leased to a worker. Ver is the submission
// generation: a resubmission under the same (kind, key) bumps it, so a
// finish for a superseded generation leaves the new row untouched.
type ClaimedTask struct {
	ID       int64
	Kind     string
	Key      string
	Payload  []byte
	RunAt    time.Time // zero when immediately due
	Ver      int64
	Attempts int
}
