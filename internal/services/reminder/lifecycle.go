package reminder

import (
	"context"
	"encoding/json"
	"fmt"

	"memenote/internal/services/notify"
	"memenote/internal/storage"
	logx "memenote/pkg/logx"
)

// Lifecycle turns reminder CRUD events into queue submissions. It runs
// inline with the mutating request and holds no cross-request state.
type Lifecycle struct {
	queue    TaskQueue
	dispatch *Dispatcher
	log      logx.Logger
}

func NewLifecycle(queue TaskQueue, dispatch *Dispatcher, log logx.Logger) *Lifecycle {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Lifecycle{queue: queue, dispatch: dispatch, log: log}
}

// OnCreate submits the create notification and arms the trigger task for
// the freshly persisted reminder. The reminder row is already durable when
// this runs; an error here means scheduling is degraded, not that the
// create failed.
func (m *Lifecycle) OnCreate(ctx context.Context, r *storage.Reminder) error {
	nerr := m.dispatch.Dispatch(ctx, notify.ActionCreate, r)
	terr := m.submitTrigger(ctx, r)
	if terr != nil {
		return terr
	}
	return nerr
}

// OnUpdate submits the update notification and re-arms the trigger unless
// the moment has already passed unchanged: a reminder whose time moved, or
// one that has not fired yet, gets a superseding submission under the same
// key; an already-triggered reminder with an unchanged time is left alone.
func (m *Lifecycle) OnUpdate(ctx context.Context, prev, cur *storage.Reminder) error {
	nerr := m.dispatch.Dispatch(ctx, notify.ActionUpdate, cur)

	timeChanged := !cur.ReminderTime.Equal(prev.ReminderTime)
	if !timeChanged && cur.IsTriggered {
		m.log.Debug("trigger not re-armed (already fired, time unchanged)",
			logx.String("reminder_id", cur.ID))
		return nerr
	}
	if terr := m.submitTrigger(ctx, cur); terr != nil {
		return terr
	}
	return nerr
}

// OnDelete submits the delete notification and cancels the pending trigger.
// Cancellation is advisory: the executor's own re-validation is what
// actually prevents a stale fire, so a failed cancel is not an error.
func (m *Lifecycle) OnDelete(ctx context.Context, r *storage.Reminder) error {
	nerr := m.dispatch.Dispatch(ctx, notify.ActionDelete, r)
	if err := m.queue.Cancel(ctx, KindTrigger, TriggerKey(r.ID)); err != nil {
		m.log.Debug("trigger cancel failed; executor will no-op on not-found",
			logx.String("reminder_id", r.ID), logx.Err(err))
	}
	return nerr
}

func (m *Lifecycle) submitTrigger(ctx context.Context, r *storage.Reminder) error {
	return submitTrigger(ctx, m.queue, m.log, r)
}

// submitTrigger is shared with the reconciler, which re-arms triggers
// outside any CRUD event.
func submitTrigger(ctx context.Context, q TaskQueue, log logx.Logger, r *storage.Reminder) error {
	p := snapshotPayload("", r)
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal trigger snapshot: %w", err)
	}
	if err := q.Submit(ctx, KindTrigger, TriggerKey(r.ID), b, r.ReminderTime); err != nil {
		log.Warn("trigger submission failed; reminder persisted without pending trigger",
			logx.String("reminder_id", r.ID),
			logx.Time("reminder_time", r.ReminderTime), logx.Err(err))
		return err
	}
	log.Debug("trigger armed",
		logx.String("reminder_id", r.ID), logx.Time("reminder_time", r.ReminderTime))
	return nil
}
