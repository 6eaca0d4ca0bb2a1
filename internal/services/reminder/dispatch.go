package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"memenote/internal/services/notify"
	"memenote/internal/storage"
	logx "memenote/pkg/logx"
)

// Dispatcher formats and submits notify tasks. It is stateless apart from
// its clock, which tests pin to make notify keys predictable.
type Dispatcher struct {
	queue TaskQueue
	log   logx.Logger
	now   func() time.Time
}

func NewDispatcher(queue TaskQueue, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{queue: queue, log: log, now: time.Now}
}

// Dispatch submits one fire-and-forget notification for the given action.
// Notify tasks carry no run-at: they are due as soon as a worker picks
// them up.
func (d *Dispatcher) Dispatch(ctx context.Context, action notify.Action, r *storage.Reminder) error {
	p := snapshotPayload(action, r)
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", action, err)
	}
	key := notifyKey(action, r.ID, d.now())
	if err := d.queue.Submit(ctx, KindNotify, key, b, time.Time{}); err != nil {
		d.log.Warn("notify submission failed",
			logx.String("action", string(action)),
			logx.String("reminder_id", r.ID), logx.Err(err))
		return err
	}
	return nil
}
