// Package note implements note CRUD. Notes are plain records reminders may
// attach to; deleting a note detaches its reminders rather than cascading.
package note

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"memenote/internal/storage"
	logx "memenote/pkg/logx"
)

var ErrTitleRequired = errors.New("note title is required")

type CreateInput struct {
	Title   string
	Content string
}

type UpdateInput struct {
	Title   *string
	Content *string
}

type Service struct {
	store storage.Store
	log   logx.Logger
}

func NewService(store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log}
}

func (s *Service) Create(ctx context.Context, owner string, in CreateInput) (*storage.Note, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, ErrTitleRequired
	}
	n := &storage.Note{
		ID:      uuid.NewString(),
		UserID:  owner,
		Title:   in.Title,
		Content: in.Content,
	}
	if err := s.store.CreateNote(ctx, n); err != nil {
		return nil, err
	}
	s.log.Debug("note created", logx.String("note_id", n.ID))
	return n, nil
}

func (s *Service) Get(ctx context.Context, owner, id string) (*storage.Note, error) {
	return s.store.GetNote(ctx, id, owner)
}

func (s *Service) List(ctx context.Context, owner string, f storage.NoteFilter) ([]*storage.Note, error) {
	return s.store.ListNotes(ctx, owner, f)
}

func (s *Service) Update(ctx context.Context, owner, id string, in UpdateInput) (*storage.Note, error) {
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, ErrTitleRequired
	}
	return s.store.UpdateNote(ctx, id, owner, storage.NotePatch{
		Title:   in.Title,
		Content: in.Content,
	})
}

// Delete removes the note. Reminders attached to it survive with their
// note link cleared; their pending triggers are untouched.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	if err := s.store.DeleteNote(ctx, id, owner); err != nil {
		return err
	}
	s.log.Debug("note deleted", logx.String("note_id", id))
	return nil
}
