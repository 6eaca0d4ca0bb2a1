package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"memenote/internal/storage"
	logx "memenote/pkg/logx"
)

var (
	ErrMessageRequired = errors.New("reminder message is required")
	ErrTimeRequired    = errors.New("reminder time is required")
)

// Service is the reminder CRUD surface used by the request path. Every
// mutation persists first and schedules second: a queue failure degrades
// scheduling but never the reminder itself.
type Service struct {
	store     storage.Store
	lifecycle *Lifecycle
	log       logx.Logger
}

func NewService(store storage.Store, lifecycle *Lifecycle, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, lifecycle: lifecycle, log: log}
}

func (s *Service) Create(ctx context.Context, owner string, in CreateInput) (*storage.Reminder, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, ErrMessageRequired
	}
	if in.ReminderTime.IsZero() {
		return nil, ErrTimeRequired
	}
	if in.NoteID != "" {
		if _, err := s.store.GetNote(ctx, in.NoteID, owner); err != nil {
			return nil, fmt.Errorf("note %s: %w", in.NoteID, err)
		}
	}

	r := &storage.Reminder{
		ID:           uuid.NewString(),
		UserID:       owner,
		NoteID:       in.NoteID,
		Message:      in.Message,
		ReminderTime: in.ReminderTime.UTC(),
	}
	if err := s.store.CreateReminder(ctx, r); err != nil {
		return nil, err
	}

	if err := s.lifecycle.OnCreate(ctx, r); err != nil {
		// Availability of the CRUD path wins over guaranteed scheduling;
		// the reconciler re-arms missing triggers.
		s.log.Warn("reminder created with degraded scheduling",
			logx.String("reminder_id", r.ID), logx.Err(err))
	}
	return r, nil
}

func (s *Service) Get(ctx context.Context, owner, id string) (*storage.Reminder, error) {
	return s.store.GetReminder(ctx, id, owner)
}

func (s *Service) List(ctx context.Context, owner string, f storage.ReminderFilter) ([]*storage.Reminder, error) {
	return s.store.ListReminders(ctx, owner, f)
}

func (s *Service) Update(ctx context.Context, owner, id string, in UpdateInput) (*storage.Reminder, error) {
	prev, err := s.store.GetReminder(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	if in.NoteID != nil && *in.NoteID != "" {
		if _, err := s.store.GetNote(ctx, *in.NoteID, owner); err != nil {
			return nil, fmt.Errorf("note %s: %w", *in.NoteID, err)
		}
	}

	patch := storage.ReminderPatch{
		Message: in.Message,
		NoteID:  in.NoteID,
	}
	if in.ReminderTime != nil {
		t := in.ReminderTime.UTC()
		patch.ReminderTime = &t
		// Rescheduling to a new future instant means "not yet triggered for
		// the new time"; this is the only path that resets the flag.
		if !t.Equal(prev.ReminderTime) && t.After(time.Now()) {
			f := false
			patch.IsTriggered = &f
		}
	}

	cur, err := s.store.UpdateReminder(ctx, id, owner, patch)
	if err != nil {
		return nil, err
	}

	if err := s.lifecycle.OnUpdate(ctx, prev, cur); err != nil {
		s.log.Warn("reminder updated with degraded scheduling",
			logx.String("reminder_id", id), logx.Err(err))
	}
	return cur, nil
}

// Acknowledge marks the reminder as seen by its owner. It emits no
// notification; the flag rides along in whatever alert fires later.
func (s *Service) Acknowledge(ctx context.Context, owner, id string) (*storage.Reminder, error) {
	ack := true
	return s.store.UpdateReminder(ctx, id, owner, storage.ReminderPatch{IsAcknowledged: &ack})
}

func (s *Service) Delete(ctx context.Context, owner, id string) error {
	r, err := s.store.GetReminder(ctx, id, owner)
	if err != nil {
		return err
	}
	if err := s.store.DeleteReminder(ctx, id, owner); err != nil {
		return err
	}

	if err := s.lifecycle.OnDelete(ctx, r); err != nil {
		s.log.Warn("reminder deleted with degraded notification",
			logx.String("reminder_id", id), logx.Err(err))
	}
	return nil
}
