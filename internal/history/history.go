package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aishah914/smolpc-gimp/internal/ids"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Entry is one tools/call made through the engine.
type Entry struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	RunID      string          `json:"run_id,omitempty"`
	Tool       string          `json:"tool"`
	Arguments  json.RawMessage `json:"arguments"`
	Status     string          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMS int64           `json:"duration_ms"`
}

// Store owns the SQLite audit log of tool calls.
type Store struct {
	db   *sql.DB
	path string
}

func (s *Store) Path() string {
	return s.path
}

// Open prepares a SQLite database at path. Init must run before use.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init applies pragmas and the schema.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("nil store")
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','1');`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			run_id TEXT,
			tool TEXT NOT NULL,
			arguments TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('ok','error')),
			result TEXT,
			error TEXT,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_run ON tool_calls(run_id);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Record stores e and returns it with its id filled in.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.Status == "" {
		e.Status = StatusOK
		if e.Error != "" {
			e.Status = StatusError
		}
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	args := string(e.Arguments)
	if args == "" {
		args = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_calls(id, session_id, run_id, tool, arguments, status, result, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, e.ID, e.SessionID, nullString(e.RunID), e.Tool, args, e.Status,
		nullString(string(e.Result)), nullString(e.Error), e.StartedAt.UnixMilli(), e.DurationMS)
	if err != nil {
		return Entry{}, fmt.Errorf("record tool call: %w", err)
	}
	return e, nil
}

// List returns the most recent entries, newest first. runID narrows the
// result to one assistant run when set.
func (s *Store) List(ctx context.Context, limit int, runID string) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, session_id, run_id, tool, arguments, status, result, error, started_at, duration_ms
		FROM tool_calls`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY id DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var (
			e                     Entry
			runIDCol, result, msg sql.NullString
			arguments             string
			startedAt             int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &runIDCol, &e.Tool, &arguments, &e.Status, &result, &msg, &startedAt, &e.DurationMS); err != nil {
			return nil, err
		}
		e.RunID = runIDCol.String
		e.Arguments = json.RawMessage(arguments)
		if result.Valid {
			e.Result = json.RawMessage(result.String)
		}
		e.Error = msg.String
		e.StartedAt = time.UnixMilli(startedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune keeps the newest keep entries and deletes the rest.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tool_calls
		WHERE id NOT IN (SELECT id FROM tool_calls ORDER BY id DESC LIMIT ?);
	`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
