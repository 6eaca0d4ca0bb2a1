package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"memenote/internal/eventbus"
	"memenote/internal/services/notify"
	"memenote/internal/services/taskqueue"
	"memenote/internal/storage"
	logx "memenote/pkg/logx"
)

// DefaultTriggerGrace is how far into the future a re-read reminder_time
// may sit while the trigger is still considered due. It absorbs small
// clock skew between the queue poller and the store.
const DefaultTriggerGrace = 2 * time.Second

// Executor handles trigger task deliveries. Deliveries are at-least-once
// and possibly late or superseded, so every decision is made against a
// fresh read of the store, never the payload captured at submission time.
type Executor struct {
	store    storage.Store
	dispatch *Dispatcher
	bus      eventbus.Bus
	log      logx.Logger

	mu    sync.Mutex
	grace time.Duration

	now func() time.Time
}

func NewExecutor(store storage.Store, dispatch *Dispatcher, grace time.Duration, log logx.Logger, bus eventbus.Bus) *Executor {
	if grace <= 0 {
		grace = DefaultTriggerGrace
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{
		store:    store,
		dispatch: dispatch,
		bus:      bus,
		log:      log,
		grace:    grace,
		now:      time.Now,
	}
}

// Apply updates the grace window at runtime.
func (e *Executor) Apply(grace time.Duration) {
	if grace <= 0 {
		grace = DefaultTriggerGrace
	}
	e.mu.Lock()
	e.grace = grace
	e.mu.Unlock()
}

// Handle fires the reminder named by the task key, or discards the
// delivery when current state says it must not fire:
//
//  1. reminder gone        -> deletion race, consume silently
//  2. already triggered    -> duplicate delivery, idempotent no-op
//  3. time now in future   -> superseded by a reschedule, do not fire early
//  4. CAS lost             -> a concurrent execution won, no-op
//
// Only a store I/O error returns non-nil, so the queue retries transient
// failures but never re-runs a decided outcome.
func (e *Executor) Handle(ctx context.Context, t taskqueue.Task) error {
	id := strings.TrimPrefix(t.Key, "trigger:")

	r, err := e.store.GetReminderByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		e.log.Debug("orphaned trigger; reminder deleted", logx.String("reminder_id", id))
		return nil
	}
	if err != nil {
		return err
	}

	if r.IsTriggered {
		e.log.Debug("duplicate trigger delivery", logx.String("reminder_id", id))
		return nil
	}

	e.mu.Lock()
	grace := e.grace
	e.mu.Unlock()

	now := e.now()
	if r.ReminderTime.After(now.Add(grace)) {
		// A reschedule moved the reminder after this instance was enqueued.
		e.log.Debug("stale trigger; reminder rescheduled",
			logx.String("reminder_id", id),
			logx.Time("reminder_time", r.ReminderTime), logx.Time("now", now))
		if e.bus != nil {
			e.bus.Publish(eventbus.Event{Type: "reminder.stale", Data: map[string]string{"reminder_id": id}})
		}
		return nil
	}

	flipped, err := e.store.ConditionalSetTriggered(ctx, id)
	if err != nil {
		return err
	}
	if !flipped {
		// Another execution flipped the flag between our read and the CAS.
		e.log.Debug("trigger race lost; already fired", logx.String("reminder_id", id))
		return nil
	}

	e.log.Info("reminder triggered",
		logx.String("reminder_id", id), logx.String("user_id", r.UserID),
		logx.Time("reminder_time", r.ReminderTime))
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: "reminder.triggered", Data: map[string]string{"reminder_id": id}})
	}

	// Alert carries acknowledgment state at fire time. Its delivery is
	// fire-and-forget: the reminder is triggered once the flag flipped,
	// whatever happens to the alert.
	r.IsTriggered = true
	if err := e.dispatch.Dispatch(ctx, notify.ActionAlert, r); err != nil {
		e.log.Warn("alert submission failed after trigger",
			logx.String("reminder_id", id), logx.Err(err))
	}
	return nil
}
