package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/michaelbrown/toolgraph/internal/llm"
	"github.com/michaelbrown/toolgraph/internal/storage"

	_ "modernc.org/sqlite"
)

// Fixed width so that text ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

const threadColumns = `id, agent_id, title, status, model, profile, created_at, updated_at`

// Store implements storage.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open creates or opens the database at path and runs migrations.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: the in-memory database and PRAGMA foreign_keys are
	// both per connection.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) CreateThread(ctx context.Context, t *storage.Thread) error {
	if t.Status == "" {
		t.Status = storage.StatusIdle
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO threads (`+threadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AgentID, t.Title, t.Status, t.Model, t.Profile,
		now.Format(timeFormat), now.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting thread: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO thread_messages (thread_id, messages, updated_at) VALUES (?, '[]', ?)`,
		t.ID, now.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting thread messages: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetThread(ctx context.Context, id string) (*storage.Thread, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", storage.ErrNotFound)
	}

	t, err := scanThread(s.db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE id = ?`, id))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying thread: %w", err)
	}

	// Fall back to a prefix match. LIKE wildcards in id are escaped.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE id LIKE ? ESCAPE '\' LIMIT 2`,
		escapeLike(id)+"%")
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}
	defer rows.Close()

	var matches []*storage.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: prefix %q matches several threads", storage.ErrAmbiguous, id)
	}
}

func (s *Store) ListThreads(ctx context.Context, opts storage.ListOptions) ([]storage.Thread, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		where []string
		args  []any
	)
	if opts.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, opts.AgentID)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}

	query := `SELECT ` + threadColumns + ` FROM threads`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	defer rows.Close()

	threads := []storage.Thread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}

func (s *Store) UpdateThread(ctx context.Context, t *storage.Thread) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE threads SET title = ?, status = ?, model = ?, updated_at = ? WHERE id = ?`,
		t.Title, t.Status, t.Model, t.UpdatedAt.Format(timeFormat), t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, t.ID)
	}
	return nil
}

func (s *Store) DeleteThread(ctx context.Context, id string) error {
	t, err := s.GetThread(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, t.ID); err != nil {
		return fmt.Errorf("deleting thread: %w", err)
	}
	return nil
}

func (s *Store) SaveMessages(ctx context.Context, threadID string, messages []llm.Message) error {
	if messages == nil {
		messages = []llm.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshaling messages: %w", err)
	}

	now := time.Now().UTC().Format(timeFormat)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO thread_messages (thread_id, messages, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET messages = excluded.messages, updated_at = excluded.updated_at`,
		threadID, string(data), now,
	)
	if err != nil {
		return fmt.Errorf("saving messages: %w", err)
	}
	return nil
}

func (s *Store) LoadMessages(ctx context.Context, threadID string) ([]llm.Message, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages FROM thread_messages WHERE thread_id = ?`, threadID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}

	var messages []llm.Message
	if err := json.Unmarshal([]byte(data), &messages); err != nil {
		return nil, fmt.Errorf("unmarshaling messages: %w", err)
	}
	return messages, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanThread(s scanner) (*storage.Thread, error) {
	var (
		t                    storage.Thread
		createdAt, updatedAt string
	)
	err := s.Scan(&t.ID, &t.AgentID, &t.Title, &t.Status, &t.Model, &t.Profile, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	t.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &t, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
