package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteSink implements Sink on a SQLite database. Seq is the rowid, so
// write order and read order agree without a separate counter.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) a SQLite-backed audit sink at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteSink{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteSinkFromDB wraps an existing database handle.
func NewSQLiteSinkFromDB(db *sql.DB) (*SQLiteSink, error) {
	s := &SQLiteSink{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_records (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			type TEXT NOT NULL,
			actor TEXT,
			tool_name TEXT,
			tool_call_id TEXT,
			detail TEXT,
			error INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER,
			prompt_tokens INTEGER,
			completion_tokens INTEGER,
			created_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create audit_records table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_records(session_id, seq)`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func (s *SQLiteSink) Record(ctx context.Context, record *Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_records
			(id, session_id, type, actor, tool_name, tool_call_id, detail, error,
			 latency_ms, prompt_tokens, completion_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.SessionID, string(record.Type), record.Actor,
		record.ToolName, record.ToolCallID, record.Detail, boolToInt(record.Error),
		record.Metrics.LatencyMS, record.Metrics.PromptTokens,
		record.Metrics.CompletionTokens, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	record.Seq = seq
	return nil
}

func (s *SQLiteSink) Query(ctx context.Context, q Query) ([]*Record, error) {
	query := `
		SELECT seq, id, session_id, type, actor, tool_name, tool_call_id, detail,
		       error, latency_ms, prompt_tokens, completion_tokens, created_at
		FROM audit_records WHERE 1=1`
	args := []any{}

	if q.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, q.SessionID)
	}
	if len(q.Types) > 0 {
		placeholders := make([]string, len(q.Types))
		for i, t := range q.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += " AND type IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if !q.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, q.Since)
	}
	if !q.Until.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, q.Until)
	}
	query += " ORDER BY seq ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	if q.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	out := []*Record{}
	for rows.Next() {
		var record Record
		var typ string
		var errFlag int
		if err := rows.Scan(&record.Seq, &record.ID, &record.SessionID, &typ,
			&record.Actor, &record.ToolName, &record.ToolCallID, &record.Detail,
			&errFlag, &record.Metrics.LatencyMS, &record.Metrics.PromptTokens,
			&record.Metrics.CompletionTokens, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		record.Type = InteractionType(typ)
		record.Error = errFlag != 0
		out = append(out, &record)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
