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

	logx "github.com/mityayka1/Personal-Knowledge-Graph-sub002/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite event store.
func Open(cfg Config, log logx.Logger) (EventStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
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

func (s *sqliteStore) InsertEvent(ctx context.Context, e Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	payload := string(e.Payload)
	if strings.TrimSpace(payload) == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(id, chat_id, type, payload, confidence, status, source, start_at, deadline, created_at, notification_sent_at, user_response_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ChatID, string(e.Type), payload, e.Confidence, string(e.Status),
		nonEmpty(e.Source, "human"), nullUnix(e.StartAt), nullStr(e.Deadline),
		e.CreatedAt.UnixNano(), nullUnix(e.NotificationSentAt), nullUnix(e.UserResponseAt),
	)
	return err
}

const eventColumns = `id, chat_id, type, payload, confidence, status, source, start_at, deadline, created_at, notification_sent_at, user_response_at`

func (s *sqliteStore) GetEvent(ctx context.Context, id string) (Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	return e, err
}

func (s *sqliteStore) ListPending(ctx context.Context, window int) ([]Event, error) {
	if window <= 0 {
		window = 200
	}
	// Bounded scan window: newest N pending rows, returned in creation order.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM (
		     SELECT `+eventColumns+` FROM events
		     WHERE status = ? AND notification_sent_at IS NULL
		     ORDER BY created_at DESC LIMIT ?
		 ) ORDER BY created_at ASC`,
		string(StatusPending), window)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET notification_sent_at = ?
		 WHERE id = ? AND notification_sent_at IS NULL`,
		at.UnixNano(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) MarkNotifiedBatch(ctx context.Context, ids []string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if at.IsZero() {
		at = time.Now()
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, at.UnixNano())
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET notification_sent_at = ?
		 WHERE id IN (`+placeholders(len(ids))+`) AND notification_sent_at IS NULL`,
		args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) SetStatus(ctx context.Context, id string, st EventStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET status = ?, user_response_at = ? WHERE id = ?`,
		string(st), time.Now().UnixNano(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ExpirePending(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET status = ? WHERE status = ? AND created_at < ?`,
		string(StatusExpired), string(StatusPending), cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) ContactName(ctx context.Context, chatID int64) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT display_name FROM contacts WHERE chat_id = ?`, chatID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return name, err
}

// UpsertContact exists for bootstrap/tests; the contact list itself is owned
// by the excluded domain layer.
func (s *sqliteStore) UpsertContact(ctx context.Context, c Contact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts(chat_id, display_name) VALUES(?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET display_name=excluded.display_name`,
		c.ChatID, c.DisplayName)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (Event, error) {
	var (
		e                  Event
		typ, status        string
		payload            string
		source             string
		deadline           sql.NullString
		startAt            sql.NullInt64
		createdAt          int64
		notifiedAt, respAt sql.NullInt64
	)
	err := r.Scan(&e.ID, &e.ChatID, &typ, &payload, &e.Confidence, &status, &source,
		&startAt, &deadline, &createdAt, &notifiedAt, &respAt)
	if err != nil {
		return Event{}, err
	}
	e.Type = EventType(typ)
	e.Status = EventStatus(status)
	e.Payload = []byte(payload)
	e.Source = source
	e.Deadline = deadline.String
	e.CreatedAt = time.Unix(0, createdAt)
	e.StartAt = parseNullUnix(startAt)
	e.NotificationSentAt = parseNullUnix(notifiedAt)
	e.UserResponseAt = parseNullUnix(respAt)
	return e, nil
}

func parseNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// Comparison-bound timestamps are stored as unix nanosecond integers so SQL
// ordering and cutoff comparisons are numeric, independent of string
// formatting and of the writer's timezone.
func nullUnix(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

func nonEmpty(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
