package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/steward/pkg/models"
)

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed session store at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreFromDB wraps an existing database handle.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT,
			archived INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT,
			tool_calls TEXT,
			tool_results TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id)",
		"CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	session.UpdatedAt = session.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_id, title, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.OwnerID, session.Title, boolToInt(session.Archived),
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, archived, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *SQLiteStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET title = ?, archived = ?, updated_at = ?
		WHERE id = ?`,
		session.Title, boolToInt(session.Archived), time.Now(), session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id)
	return err
}

func (s *SQLiteStore) List(ctx context.Context, ownerID string, opts ListOptions) ([]*models.Session, error) {
	query := `
		SELECT id, owner_id, title, archived, created_at, updated_at
		FROM sessions WHERE 1=1`
	args := []any{}
	if ownerID != "" {
		query += " AND owner_id = ?"
		args = append(args, ownerID)
	}
	if !opts.IncludeArchived {
		query += " AND archived = 0"
	}
	query += " ORDER BY updated_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := []*models.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if _, err := s.Get(ctx, sessionID); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.SessionID = sessionID

	toolCalls, err := marshalNullable(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("failed to encode tool calls: %w", err)
	}
	toolResults, err := marshalNullable(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("failed to encode tool results: %w", err)
	}
	metadata, err := marshalNullable(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, tool_calls, tool_results, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, string(msg.Role), msg.Content, toolCalls, toolResults, metadata, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now(), sessionID)
	return err
}

func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, session_id, role, content, tool_calls, tool_results, metadata, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var msg models.Message
		var role string
		var toolCalls, toolResults, metadata sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content,
			&toolCalls, &toolResults, &metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls: %w", err)
			}
		}
		if toolResults.Valid && toolResults.String != "" {
			if err := json.Unmarshal([]byte(toolResults.String), &msg.ToolResults); err != nil {
				return nil, fmt.Errorf("failed to decode tool results: %w", err)
			}
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows are newest-first for the LIMIT; flip to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var session models.Session
	var archived int
	err := row.Scan(&session.ID, &session.OwnerID, &session.Title, &archived,
		&session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	session.Archived = archived != 0
	return &session, nil
}

func marshalNullable(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case []models.ToolCall:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case []models.ToolResult:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]any:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
