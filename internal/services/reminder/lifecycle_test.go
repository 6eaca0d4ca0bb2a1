package reminder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"memenote/internal/services/taskqueue"
	"memenote/internal/storage"
	logx "memenote/pkg/logx"
)

type submission struct {
	Kind    taskqueue.Kind
	Key     string
	Payload []byte
	RunAt   time.Time
}

// fakeQueue records submissions and cancels in order.
type fakeQueue struct {
	subs      []submission
	cancels   []string
	submitErr error
	cancelErr error
}

func (q *fakeQueue) Submit(_ context.Context, kind taskqueue.Kind, key string, payload []byte, runAt time.Time) error {
	if q.submitErr != nil {
		return q.submitErr
	}
	q.subs = append(q.subs, submission{Kind: kind, Key: key, Payload: payload, RunAt: runAt})
	return nil
}

func (q *fakeQueue) Cancel(_ context.Context, kind taskqueue.Kind, key string) error {
	if q.cancelErr != nil {
		return q.cancelErr
	}
	q.cancels = append(q.cancels, string(kind)+"/"+key)
	return nil
}

func (q *fakeQueue) byKind(kind taskqueue.Kind) []submission {
	var out []submission
	for _, s := range q.subs {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func testReminder(at time.Time) *storage.Reminder {
	return &storage.Reminder{
		ID:           "rem-1",
		UserID:       "alice",
		Message:      "stand up",
		ReminderTime: at,
	}
}

func TestOnCreateArmsTriggerAndNotifies(t *testing.T) {
	q := &fakeQueue{}
	lc := NewLifecycle(q, NewDispatcher(q, logx.Nop()), logx.Nop())
	at := time.Now().Add(time.Hour)
	r := testReminder(at)

	if err := lc.OnCreate(context.Background(), r); err != nil {
		t.Fatalf("OnCreate: %v", err)
	}

	trig := q.byKind(KindTrigger)
	if len(trig) != 1 {
		t.Fatalf("trigger submissions = %d, want 1", len(trig))
	}
	if trig[0].Key != "trigger:rem-1" {
		t.Fatalf("trigger key = %q", trig[0].Key)
	}
	if !trig[0].RunAt.Equal(at) {
		t.Fatalf("trigger run_at = %v, want %v", trig[0].RunAt, at)
	}

	ntf := q.byKind(KindNotify)
	if len(ntf) != 1 {
		t.Fatalf("notify submissions = %d, want 1", len(ntf))
	}
	if !strings.HasPrefix(ntf[0].Key, "notify:create:rem-1:") {
		t.Fatalf("notify key = %q", ntf[0].Key)
	}
	if !ntf[0].RunAt.IsZero() {
		t.Fatalf("notify run_at = %v, want immediate", ntf[0].RunAt)
	}
}

func TestTriggerKeyStableAcrossReschedules(t *testing.T) {
	q := &fakeQueue{}
	lc := NewLifecycle(q, NewDispatcher(q, logx.Nop()), logx.Nop())
	ctx := context.Background()

	prev := testReminder(time.Now().Add(time.Hour))
	if err := lc.OnCreate(ctx, prev); err != nil {
		t.Fatalf("OnCreate: %v", err)
	}
	cur := testReminder(time.Now().Add(2 * time.Hour))
	if err := lc.OnUpdate(ctx, prev, cur); err != nil {
		t.Fatalf("OnUpdate: %v", err)
	}

	trig := q.byKind(KindTrigger)
	if len(trig) != 2 {
		t.Fatalf("trigger submissions = %d, want 2", len(trig))
	}
	if trig[0].Key != trig[1].Key {
		t.Fatalf("trigger keys differ across reschedule: %q vs %q", trig[0].Key, trig[1].Key)
	}
}

func TestOnUpdateSkipsRearmWhenFiredAndUnchanged(t *testing.T) {
	q := &fakeQueue{}
	lc := NewLifecycle(q, NewDispatcher(q, logx.Nop()), logx.Nop())
	at := time.Now().Add(-time.Hour)

	prev := testReminder(at)
	prev.IsTriggered = true
	cur := testReminder(at)
	cur.IsTriggered = true
	cur.Message = "stand up now"

	if err := lc.OnUpdate(context.Background(), prev, cur); err != nil {
		t.Fatalf("OnUpdate: %v", err)
	}
	if n := len(q.byKind(KindTrigger)); n != 0 {
		t.Fatalf("trigger re-armed %d times for a fired, unmoved reminder", n)
	}
	if n := len(q.byKind(KindNotify)); n != 1 {
		t.Fatalf("notify submissions = %d, want 1", n)
	}
}

func TestOnUpdateRearmsUntriggered(t *testing.T) {
	q := &fakeQueue{}
	lc := NewLifecycle(q, NewDispatcher(q, logx.Nop()), logx.Nop())
	at := time.Now().Add(time.Hour)

	prev := testReminder(at)
	cur := testReminder(at)
	cur.Message = "edited"

	if err := lc.OnUpdate(context.Background(), prev, cur); err != nil {
		t.Fatalf("OnUpdate: %v", err)
	}
	if n := len(q.byKind(KindTrigger)); n != 1 {
		t.Fatalf("trigger submissions = %d, want 1 (pending trigger refreshed)", n)
	}
}

func TestOnDeleteNotifiesAndCancels(t *testing.T) {
	q := &fakeQueue{}
	lc := NewLifecycle(q, NewDispatcher(q, logx.Nop()), logx.Nop())
	r := testReminder(time.Now().Add(time.Hour))

	if err := lc.OnDelete(context.Background(), r); err != nil {
		t.Fatalf("OnDelete: %v", err)
	}
	ntf := q.byKind(KindNotify)
	if len(ntf) != 1 || !strings.HasPrefix(ntf[0].Key, "notify:delete:rem-1:") {
		t.Fatalf("delete notify = %+v", ntf)
	}
	if len(q.cancels) != 1 || q.cancels[0] != "trigger/trigger:rem-1" {
		t.Fatalf("cancels = %v", q.cancels)
	}
}

func TestOnDeleteToleratesCancelFailure(t *testing.T) {
	q := &fakeQueue{cancelErr: errors.New("queue down")}
	lc := NewLifecycle(q, NewDispatcher(q, logx.Nop()), logx.Nop())

	if err := lc.OnDelete(context.Background(), testReminder(time.Now())); err != nil {
		t.Fatalf("OnDelete with failing cancel: %v", err)
	}
}

func TestOnCreateReportsQueueFailure(t *testing.T) {
	q := &fakeQueue{submitErr: taskqueue.ErrUnavailable}
	lc := NewLifecycle(q, NewDispatcher(q, logx.Nop()), logx.Nop())

	err := lc.OnCreate(context.Background(), testReminder(time.Now().Add(time.Hour)))
	if !errors.Is(err, taskqueue.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestNotifyKeysAreUniquePerEvent(t *testing.T) {
	q := &fakeQueue{}
	d := NewDispatcher(q, logx.Nop())
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	n := base
	d.now = func() time.Time { n = n.Add(time.Nanosecond); return n }

	r := testReminder(base.Add(time.Hour))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := d.Dispatch(ctx, "update", r); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	seen := map[string]bool{}
	for _, s := range q.subs {
		if seen[s.Key] {
			t.Fatalf("duplicate notify key %q; repeated events must not supersede", s.Key)
		}
		seen[s.Key] = true
	}
}
