// Package history records executed work items in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"andyhost/internal/common/fsutil"
	"andyhost/pkg/types"
)

// Entry is one executed work item.
type Entry struct {
	ID           string
	WorkID       string
	Timestamp    time.Time
	Model        string
	RequestType  string
	Tokens       int
	ResponseTime time.Duration
	Success      bool
	Error        string
}

// Recorder persists entries. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Stats(ctx context.Context) (types.StatsResponse, error)
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Store is the SQLite-backed Recorder.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	p, err := fsutil.PrepareFile(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", p+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		work_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		model_name TEXT NOT NULL,
		request_type TEXT NOT NULL,
		tokens INTEGER NOT NULL DEFAULT 0,
		response_time REAL NOT NULL DEFAULT 0,
		success INTEGER NOT NULL,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests(timestamp);
	`)
	return err
}

// Record inserts e, assigning an id and timestamp when missing.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (id, work_id, timestamp, model_name, request_type, tokens, response_time, success, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkID, e.Timestamp.UnixMilli(), e.Model, e.RequestType, e.Tokens,
		e.ResponseTime.Seconds(), boolInt(e.Success), nullString(e.Error))
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// Stats aggregates every recorded request.
func (s *Store) Stats(ctx context.Context) (types.StatsResponse, error) {
	var (
		out  types.StatsResponse
		last int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(SUM(tokens), 0),
		       COALESCE(AVG(response_time), 0), COALESCE(MAX(timestamp), 0)
		FROM requests`).Scan(&out.TotalRequests, &out.SuccessfulRequests, &out.TotalTokens, &out.AvgResponseSeconds, &last)
	if err != nil {
		return types.StatsResponse{}, fmt.Errorf("query stats: %w", err)
	}
	out.FailedRequests = out.TotalRequests - out.SuccessfulRequests
	if last > 0 {
		out.LastRequestUnix = time.UnixMilli(last).Unix()
	}
	return out, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_id, timestamp, model_name, request_type, tokens, response_time, success, error
		FROM requests ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			ts      int64
			secs    float64
			success int
			errMsg  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.WorkID, &ts, &e.Model, &e.RequestType, &e.Tokens, &secs, &success, &errMsg); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.ResponseTime = time.Duration(secs * float64(time.Second))
		e.Success = success != 0
		e.Error = errMsg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Nop discards every entry; used when no history path is configured.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) Stats(context.Context) (types.StatsResponse, error) { return types.StatsResponse{}, nil }

func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, nil }

func (Nop) Close() error { return nil }

// OpenOrNop opens a Store at path, or returns Nop when path is empty.
func OpenOrNop(path string) (Recorder, error) {
	if path == "" {
		return Nop{}, nil
	}
	return Open(path)
}
