package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"memenote/internal/services/taskqueue"
	"memenote/internal/storage"
	logx "memenote/pkg/logx"
)

func testCRUD(t *testing.T) (*Service, *fakeQueue, storage.Store) {
	t.Helper()
	st := openStore(t)
	q := &fakeQueue{}
	lc := NewLifecycle(q, NewDispatcher(q, logx.Nop()), logx.Nop())
	return NewService(st, lc, logx.Nop()), q, st
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := testCRUD(t)
	ctx := context.Background()
	at := time.Now().Add(time.Hour)

	if _, err := svc.Create(ctx, "alice", CreateInput{ReminderTime: at}); !errors.Is(err, ErrMessageRequired) {
		t.Fatalf("missing message: err = %v", err)
	}
	if _, err := svc.Create(ctx, "alice", CreateInput{Message: "   ", ReminderTime: at}); !errors.Is(err, ErrMessageRequired) {
		t.Fatalf("blank message: err = %v", err)
	}
	if _, err := svc.Create(ctx, "alice", CreateInput{Message: "hi"}); !errors.Is(err, ErrTimeRequired) {
		t.Fatalf("missing time: err = %v", err)
	}
}

func TestCreateRejectsForeignNote(t *testing.T) {
	svc, _, st := testCRUD(t)
	ctx := context.Background()

	n := &storage.Note{ID: "note-1", UserID: "bob", Title: "bob's"}
	if err := st.CreateNote(ctx, n); err != nil {
		t.Fatalf("create note: %v", err)
	}

	_, err := svc.Create(ctx, "alice", CreateInput{
		Message: "hi", ReminderTime: time.Now().Add(time.Hour), NoteID: "note-1",
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("foreign note: err = %v, want ErrNotFound", err)
	}
}

func TestCreatePersistsAndSchedules(t *testing.T) {
	svc, q, st := testCRUD(t)
	ctx := context.Background()
	at := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)

	r, err := svc.Create(ctx, "alice", CreateInput{Message: "hi", ReminderTime: at})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.ID == "" {
		t.Fatal("no id assigned")
	}

	stored, err := st.GetReminder(ctx, r.ID, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.ReminderTime.Equal(at) {
		t.Fatalf("stored time = %v, want %v", stored.ReminderTime, at)
	}
	if len(q.byKind(KindTrigger)) != 1 || len(q.byKind(KindNotify)) != 1 {
		t.Fatalf("submissions = %+v, want one trigger and one notify", q.subs)
	}
}

func TestCreateSurvivesQueueOutage(t *testing.T) {
	st := openStore(t)
	q := &fakeQueue{submitErr: taskqueue.ErrUnavailable}
	lc := NewLifecycle(q, NewDispatcher(q, logx.Nop()), logx.Nop())
	svc := NewService(st, lc, logx.Nop())
	ctx := context.Background()

	r, err := svc.Create(ctx, "alice", CreateInput{Message: "hi", ReminderTime: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("create during queue outage: %v", err)
	}
	if _, err := st.GetReminder(ctx, r.ID, "alice"); err != nil {
		t.Fatalf("reminder not persisted: %v", err)
	}
}

func TestUpdateRescheduleResetsTriggered(t *testing.T) {
	svc, q, st := testCRUD(t)
	ctx := context.Background()

	r, err := svc.Create(ctx, "alice", CreateInput{Message: "hi", ReminderTime: time.Now().UTC().Add(time.Minute)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.ConditionalSetTriggered(ctx, r.ID); err != nil {
		t.Fatalf("flip: %v", err)
	}

	newAt := time.Now().UTC().Add(time.Hour)
	cur, err := svc.Update(ctx, "alice", r.ID, UpdateInput{ReminderTime: &newAt})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if cur.IsTriggered {
		t.Fatal("reschedule to a future time must reset is_triggered")
	}
	if n := len(q.byKind(KindTrigger)); n != 2 {
		t.Fatalf("trigger submissions = %d, want 2 (create + reschedule)", n)
	}
}

func TestUpdateUnchangedTimeKeepsTriggered(t *testing.T) {
	svc, _, st := testCRUD(t)
	ctx := context.Background()
	at := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)

	r, err := svc.Create(ctx, "alice", CreateInput{Message: "hi", ReminderTime: at})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.ConditionalSetTriggered(ctx, r.ID); err != nil {
		t.Fatalf("flip: %v", err)
	}

	msg := "edited"
	cur, err := svc.Update(ctx, "alice", r.ID, UpdateInput{Message: &msg})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !cur.IsTriggered {
		t.Fatal("message edit must not reset is_triggered")
	}
}

func TestUpdateDetachesNote(t *testing.T) {
	svc, _, st := testCRUD(t)
	ctx := context.Background()

	if err := st.CreateNote(ctx, &storage.Note{ID: "note-1", UserID: "alice", Title: "list"}); err != nil {
		t.Fatalf("create note: %v", err)
	}
	r, err := svc.Create(ctx, "alice", CreateInput{
		Message: "hi", ReminderTime: time.Now().Add(time.Hour), NoteID: "note-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	empty := ""
	cur, err := svc.Update(ctx, "alice", r.ID, UpdateInput{NoteID: &empty})
	if err != nil {
		t.Fatalf("detach: %v", err)
	}
	if cur.NoteID != "" {
		t.Fatalf("note_id = %q after detach", cur.NoteID)
	}
}

func TestAcknowledgeIsSilent(t *testing.T) {
	svc, q, _ := testCRUD(t)
	ctx := context.Background()

	r, err := svc.Create(ctx, "alice", CreateInput{Message: "hi", ReminderTime: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before := len(q.subs)

	got, err := svc.Acknowledge(ctx, "alice", r.ID)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if !got.IsAcknowledged {
		t.Fatal("not acknowledged")
	}
	if len(q.subs) != before {
		t.Fatalf("acknowledge produced %d new submissions", len(q.subs)-before)
	}
}

func TestDeleteRemovesAndCancels(t *testing.T) {
	svc, q, st := testCRUD(t)
	ctx := context.Background()

	r, err := svc.Create(ctx, "alice", CreateInput{Message: "hi", ReminderTime: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Delete(ctx, "alice", r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetReminder(ctx, r.ID, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("reminder still present: %v", err)
	}
	if len(q.cancels) != 1 {
		t.Fatalf("cancels = %v, want the pending trigger", q.cancels)
	}
	if err := svc.Delete(ctx, "alice", r.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("double delete: err = %v", err)
	}
}
