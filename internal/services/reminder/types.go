package reminder

import (
	"context"
	"fmt"
	"time"

	"memenote/internal/services/notify"
	"memenote/internal/services/taskqueue"
	"memenote/internal/storage"
)

const (
	KindNotify  = taskqueue.Kind("notify")
	KindTrigger = taskqueue.Kind("trigger")
)

// TriggerKey is deterministic and time-independent so that a resubmission
// after any reschedule supersedes the pending schedule for the same
// reminder. Exactly one trigger task can be pending per reminder.
func TriggerKey(id string) string {
	return "trigger:" + id
}

// notifyKey embeds the submission instant: repeated notifications for the
// same reminder are independent events, not superseding updates.
func notifyKey(action notify.Action, id string, at time.Time) string {
	return fmt.Sprintf("notify:%s:%s:%d", action, id, at.UnixNano())
}

// TaskQueue is the slice of the queue surface this package needs. The
// concrete implementation is taskqueue.Service; tests substitute a recorder.
type TaskQueue interface {
	Submit(ctx context.Context, kind taskqueue.Kind, key string, payload []byte, runAt time.Time) error
	Cancel(ctx context.Context, kind taskqueue.Kind, key string) error
}

// CreateInput carries the user-supplied fields for a new reminder.
type CreateInput struct {
	Message      string
	ReminderTime time.Time
	NoteID       string // optional note attachment
}

// UpdateInput is a partial update. A non-nil NoteID pointing at an empty
// string detaches the reminder from its note.
type UpdateInput struct {
	Message      *string
	ReminderTime *time.Time
	NoteID       *string
}

func snapshotPayload(action notify.Action, r *storage.Reminder) notify.Payload {
	return notify.Payload{
		Action:         action,
		ReminderID:     r.ID,
		ReminderTime:   r.ReminderTime,
		Message:        r.Message,
		IsAcknowledged: r.IsAcknowledged,
		IsTriggered:    r.IsTriggered,
		UserID:         r.UserID,
		NoteID:         r.NoteID,
	}
}
