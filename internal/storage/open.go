package storage

import (
	"context"
	"time"

	logx "memenote/pkg/logx"
)

// Store is the persistence API used by the reminder and task queue services.
type Store interface {
	// Reminders. Owner-scoped reads/writes return ErrNotFound for rows the
	// caller does not own; GetReminderByID is the executor's re-read path
	// and is deliberately owner-free.
	CreateReminder(ctx context.Context, r *Reminder) error
	GetReminder(ctx context.Context, id, owner string) (*Reminder, error)
	GetReminderByID(ctx context.Context, id string) (*Reminder, error)
	ListReminders(ctx context.Context, owner string, f ReminderFilter) ([]*Reminder, error)
	UpdateReminder(ctx context.Context, id, owner string, p ReminderPatch) (*Reminder, error)
	DeleteReminder(ctx context.Context, id, owner string) error

	// ConditionalSetTriggered flips is_triggered false->true atomically and
	// reports whether this call performed the flip. This is the single
	// linearization point for trigger execution.
	ConditionalSetTriggered(ctx context.Context, id string) (bool, error)

	// Notes.
	CreateNote(ctx context.Context, n *Note) error
	GetNote(ctx context.Context, id, owner string) (*Note, error)
	ListNotes(ctx context.Context, owner string, f NoteFilter) ([]*Note, error)
	UpdateNote(ctx context.Context, id, owner string, p NotePatch) (*Note, error)
	DeleteNote(ctx context.Context, id, owner string) error

	// Durable task queue rows. UpsertTask replaces any pending row under the
	// same (kind, key) and bumps its generation; ClaimDue leases due rows to
	// a worker; FinishTask consumes a row only if its generation still
	// matches (a superseded row survives the old instance's finish).
	UpsertTask(ctx context.Context, kind, key string, payload []byte, runAt time.Time) error
	CancelTask(ctx context.Context, kind, key string) error
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*ClaimedTask, error)
	FinishTask(ctx context.Context, id, ver int64) error
	// ReleaseTask drops the lease on a claimed row so it is re-delivered on
	// the next poll instead of after lease expiry. Used when a worker gives
	// a task back unexecuted (shutdown mid-flight).
	ReleaseTask(ctx context.Context, id, ver int64) error
	PendingTask(ctx context.Context, kind, key string) (bool, error)

	// ListUntriggered returns reminders whose trigger has not fired yet,
	// oldest scheduled time first. Used by the reconciliation sweep.
	ListUntriggered(ctx context.Context, limit int) ([]*Reminder, error)

	Close() error
}

// Open initializes the sqlite store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
