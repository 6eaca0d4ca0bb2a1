package reminder

import (
	"context"
	"testing"
	"time"

	"memenote/internal/storage"
	logx "memenote/pkg/logx"
)

func seedReminderID(t *testing.T, st storage.Store, id string, at time.Time) *storage.Reminder {
	t.Helper()
	r := &storage.Reminder{ID: id, UserID: "alice", Message: "stand up", ReminderTime: at}
	if err := st.CreateReminder(context.Background(), r); err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	return r
}

func TestSweepRearmsMissingTrigger(t *testing.T) {
	st := openStore(t)
	q := &fakeQueue{}
	rec := NewReconciler(ReconcilerConfig{}, st, q, logx.Nop())

	r := seedReminder(t, st, time.Now().UTC().Add(time.Hour))

	rec.sweep()

	trig := q.byKind(KindTrigger)
	if len(trig) != 1 {
		t.Fatalf("trigger submissions = %d, want 1", len(trig))
	}
	if trig[0].Key != TriggerKey(r.ID) {
		t.Fatalf("key = %q, want %q", trig[0].Key, TriggerKey(r.ID))
	}
	if !trig[0].RunAt.Equal(r.ReminderTime) {
		t.Fatalf("run_at = %v, want %v", trig[0].RunAt, r.ReminderTime)
	}
}

func TestSweepSkipsPendingAndTriggered(t *testing.T) {
	st := openStore(t)
	q := &fakeQueue{}
	rec := NewReconciler(ReconcilerConfig{}, st, q, logx.Nop())
	ctx := context.Background()

	armed := seedReminder(t, st, time.Now().UTC().Add(time.Hour))
	if err := st.UpsertTask(ctx, string(KindTrigger), TriggerKey(armed.ID), nil, armed.ReminderTime); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	fired := seedReminderID(t, st, "rem-2", time.Now().UTC().Add(2*time.Hour))
	if _, err := st.ConditionalSetTriggered(ctx, fired.ID); err != nil {
		t.Fatalf("flip: %v", err)
	}

	rec.sweep()

	if n := len(q.subs); n != 0 {
		t.Fatalf("submissions = %d; armed and fired reminders must be skipped", n)
	}
}
