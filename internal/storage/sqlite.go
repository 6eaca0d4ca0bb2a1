package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "memenote/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Reminders ----

const reminderCols = `id, user_id, note_id, message, reminder_time, is_acknowledged, is_triggered, created_at, updated_at`

func (s *sqliteStore) CreateReminder(ctx context.Context, r *Reminder) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = r.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(`+reminderCols+`) VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, r.UserID, nullStr(r.NoteID), r.Message, timeStr(r.ReminderTime),
		boolInt(r.IsAcknowledged), boolInt(r.IsTriggered),
		timeStr(r.CreatedAt), timeStr(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetReminder(ctx context.Context, id, owner string) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE id = ? AND user_id = ?`, id, owner)
	return scanReminder(row)
}

func (s *sqliteStore) GetReminderByID(ctx context.Context, id string) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE id = ?`, id)
	return scanReminder(row)
}

func (s *sqliteStore) ListReminders(ctx context.Context, owner string, f ReminderFilter) ([]*Reminder, error) {
	q := `SELECT ` + reminderCols + ` FROM reminders WHERE user_id = ?`
	args := []any{owner}
	if f.NoteID != "" {
		q += ` AND note_id = ?`
		args = append(args, f.NoteID)
	}
	if f.Search != "" {
		q += ` AND message LIKE ?`
		args = append(args, "%"+f.Search+"%")
	}
	q += ` ORDER BY ` + orderClause(f.OrderBy, "reminder_time", map[string]string{
		"reminder_time": "reminder_time",
		"created_at":    "created_at",
		"updated_at":    "updated_at",
	})
	q += limitClause(f.Limit, f.Offset, &args)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var out []*Reminder
	for rows.Next() {
		r, err := scanReminderRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateReminder(ctx context.Context, id, owner string, p ReminderPatch) (*Reminder, error) {
	sets := []string{"updated_at = ?"}
	args := []any{timeStr(time.Now().UTC())}

	if p.Message != nil {
		sets = append(sets, "message = ?")
		args = append(args, *p.Message)
	}
	if p.ReminderTime != nil {
		sets = append(sets, "reminder_time = ?")
		args = append(args, timeStr(*p.ReminderTime))
	}
	if p.NoteID != nil {
		sets = append(sets, "note_id = ?")
		args = append(args, nullStr(*p.NoteID))
	}
	if p.IsAcknowledged != nil {
		sets = append(sets, "is_acknowledged = ?")
		args = append(args, boolInt(*p.IsAcknowledged))
	}
	if p.IsTriggered != nil {
		sets = append(sets, "is_triggered = ?")
		args = append(args, boolInt(*p.IsTriggered))
	}

	args = append(args, id, owner)
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetReminder(ctx, id, owner)
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, id, owner string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE id = ? AND user_id = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ConditionalSetTriggered(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET is_triggered = 1, updated_at = ? WHERE id = ? AND is_triggered = 0`,
		timeStr(time.Now().UTC()), id)
	if err != nil {
		return false, fmt.Errorf("set triggered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) ListUntriggered(ctx context.Context, limit int) ([]*Reminder, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE is_triggered = 0 ORDER BY reminder_time LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list untriggered: %w", err)
	}
	defer rows.Close()

	var out []*Reminder
	for rows.Next() {
		r, err := scanReminderRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- Notes ----

const noteCols = `id, user_id, title, content, created_at, updated_at`

func (s *sqliteStore) CreateNote(ctx context.Context, n *Note) error {
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = n.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes(`+noteCols+`) VALUES(?,?,?,?,?,?)`,
		n.ID, n.UserID, n.Title, n.Content, timeStr(n.CreatedAt), timeStr(n.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create note: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetNote(ctx context.Context, id, owner string) (*Note, error) {
	var n Note
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT `+noteCols+` FROM notes WHERE id = ? AND user_id = ?`, id, owner).
		Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	n.CreatedAt = parseTime(created)
	n.UpdatedAt = parseTime(updated)
	return &n, nil
}

func (s *sqliteStore) ListNotes(ctx context.Context, owner string, f NoteFilter) ([]*Note, error) {
	q := `SELECT ` + noteCols + ` FROM notes WHERE user_id = ?`
	args := []any{owner}
	if f.Search != "" {
		q += ` AND (title LIKE ? OR content LIKE ?)`
		pat := "%" + f.Search + "%"
		args = append(args, pat, pat)
	}
	q += ` ORDER BY ` + orderClause(f.OrderBy, "created_at", map[string]string{
		"created_at": "created_at",
		"updated_at": "updated_at",
		"title":      "title",
	})
	q += limitClause(f.Limit, f.Offset, &args)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		var n Note
		var created, updated string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &created, &updated); err != nil {
			return nil, err
		}
		n.CreatedAt = parseTime(created)
		n.UpdatedAt = parseTime(updated)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateNote(ctx context.Context, id, owner string, p NotePatch) (*Note, error) {
	sets := []string{"updated_at = ?"}
	args := []any{timeStr(time.Now().UTC())}
	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *p.Title)
	}
	if p.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *p.Content)
	}
	args = append(args, id, owner)
	res, err := s.db.ExecContext(ctx,
		`UPDATE notes SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetNote(ctx, id, owner)
}

func (s *sqliteStore) DeleteNote(ctx context.Context, id, owner string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notes WHERE id = ? AND user_id = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- Task queue rows ----

func (s *sqliteStore) UpsertTask(ctx context.Context, kind, key string, payload []byte, runAt time.Time) error {
	// run_at is stored as unix millis so the due comparison in ClaimDue is a
	// plain integer compare.
	var run any
	if !runAt.IsZero() {
		run = runAt.UnixMilli()
	}
	if payload == nil {
		payload = []byte{}
	}
	// Resubmission under the same (kind, key) replaces the pending row in
	// place and bumps its generation so an in-flight old instance cannot
	// consume the new submission.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(kind, key, payload, run_at, ver, attempts, leased_until, created_at)
		 VALUES(?,?,?,?,1,0,NULL,?)
		 ON CONFLICT(kind, key) DO UPDATE SET
		   payload = excluded.payload,
		   run_at = excluded.run_at,
		   ver = tasks.ver + 1,
		   attempts = 0,
		   leased_until = NULL`,
		kind, key, payload, run, timeStr(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (s *sqliteStore) CancelTask(ctx context.Context, kind, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE kind = ? AND key = ?`, kind, key)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	return nil
}

func (s *sqliteStore) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*ClaimedTask, error) {
	if limit <= 0 {
		limit = 32
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	nowMs := now.UnixMilli()
	rows, err := s.db.QueryContext(ctx,
		`UPDATE tasks SET leased_until = ?, attempts = attempts + 1
		 WHERE id IN (
		   SELECT id FROM tasks
		   WHERE (run_at IS NULL OR run_at <= ?)
		     AND (leased_until IS NULL OR leased_until <= ?)
		   ORDER BY run_at IS NULL DESC, run_at
		   LIMIT ?
		 )
		 RETURNING id, kind, key, payload, run_at, ver, attempts`,
		now.Add(lease).UnixMilli(), nowMs, nowMs, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	defer rows.Close()

	var out []*ClaimedTask
	for rows.Next() {
		var t ClaimedTask
		var run sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Kind, &t.Key, &t.Payload, &run, &t.Ver, &t.Attempts); err != nil {
			return nil, err
		}
		if run.Valid {
			t.RunAt = time.UnixMilli(run.Int64).UTC()
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) FinishTask(ctx context.Context, id, ver int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND ver = ?`, id, ver)
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	return nil
}

func (s *sqliteStore) ReleaseTask(ctx context.Context, id, ver int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET leased_until = NULL WHERE id = ? AND ver = ?`, id, ver)
	if err != nil {
		return fmt.Errorf("release task: %w", err)
	}
	return nil
}

func (s *sqliteStore) PendingTask(ctx context.Context, kind, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM tasks WHERE kind = ? AND key = ?`, kind, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pending task: %w", err)
	}
	return true, nil
}

// ---- helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row *sql.Row) (*Reminder, error) {
	r, err := scanReminderFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func scanReminderRows(rows *sql.Rows) (*Reminder, error) {
	return scanReminderFrom(rows)
}

func scanReminderFrom(sc rowScanner) (*Reminder, error) {
	var r Reminder
	var noteID sql.NullString
	var remTime, created, updated string
	var ack, trig int
	err := sc.Scan(&r.ID, &r.UserID, &noteID, &r.Message, &remTime, &ack, &trig, &created, &updated)
	if err != nil {
		return nil, err
	}
	r.NoteID = noteID.String
	r.ReminderTime = parseTime(remTime)
	r.IsAcknowledged = ack == 1
	r.IsTriggered = trig == 1
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return &r, nil
}

func orderClause(requested, def string, allowed map[string]string) string {
	col := strings.TrimSpace(requested)
	desc := strings.HasPrefix(col, "-")
	col = strings.TrimPrefix(col, "-")
	mapped, ok := allowed[col]
	if !ok {
		mapped = allowed[def]
		desc = false
	}
	if desc {
		return mapped + " DESC"
	}
	return mapped
}

func limitClause(limit, offset int, args *[]any) string {
	if limit <= 0 {
		return ""
	}
	*args = append(*args, limit)
	q := ` LIMIT ?`
	if offset > 0 {
		*args = append(*args, offset)
		q += ` OFFSET ?`
	}
	return q
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeStr(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
