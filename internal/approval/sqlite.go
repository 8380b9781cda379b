package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/steward/pkg/models"
)

// SQLiteStore implements Store on a SQLite database. Decisions use a
// guarded UPDATE so the pending-to-terminal transition is atomic even
// with concurrent resume attempts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed approval store at path.
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
		CREATE TABLE IF NOT EXISTS approval_requests (
			id TEXT PRIMARY KEY,
			token TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			tool_call_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			risk TEXT NOT NULL,
			input TEXT,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			decided_at DATETIME,
			decided_by TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create approval_requests table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS pause_states (
			request_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create pause_states table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_approvals_session ON approval_requests(session_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_approvals_tool_call ON approval_requests(tool_call_id, status)",
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

func (s *SQLiteStore) Create(ctx context.Context, req *Request, pause *PauseState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM approval_requests
		WHERE tool_call_id = ? AND status = ?`,
		req.ToolCallID, string(StatusPending),
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check pending approvals: %w", err)
	}
	if count > 0 {
		return ErrDuplicatePending
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO approval_requests
			(id, token, session_id, tool_call_id, tool_name, risk, input, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.Token, req.SessionID, req.ToolCallID, req.ToolName,
		string(req.Risk), string(req.Input), string(req.Status),
		req.CreatedAt, req.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval request: %w", err)
	}

	if pause != nil {
		state, err := json.Marshal(pause)
		if err != nil {
			return fmt.Errorf("failed to encode pause state: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pause_states (request_id, session_id, state, created_at)
			VALUES (?, ?, ?, ?)`,
			req.ID, pause.SessionID, string(state), pause.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert pause state: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetByToken(ctx context.Context, token string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, token, session_id, tool_call_id, tool_name, risk, input,
		       status, created_at, expires_at, decided_at, decided_by
		FROM approval_requests WHERE token = ?`, token)
	return scanRequest(row)
}

func (s *SQLiteStore) Decide(ctx context.Context, token string, to Status, decidedBy string) (*Request, error) {
	if !to.Terminal() {
		return nil, ErrNotPending
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = ?, decided_at = ?, decided_by = ?
		WHERE token = ? AND status = ?`,
		string(to), now, decidedBy, token, string(StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to decide approval: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Distinguish a consumed token from an unknown one.
		if _, err := s.GetByToken(ctx, token); err != nil {
			return nil, err
		}
		return nil, ErrNotPending
	}
	return s.GetByToken(ctx, token)
}

func (s *SQLiteStore) PauseState(ctx context.Context, requestID string) (*PauseState, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM pause_states WHERE request_id = ?`, requestID,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPauseStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pause state: %w", err)
	}

	var pause PauseState
	if err := json.Unmarshal([]byte(state), &pause); err != nil {
		return nil, fmt.Errorf("failed to decode pause state: %w", err)
	}
	return &pause, nil
}

func (s *SQLiteStore) DeletePauseState(ctx context.Context, requestID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pause_states WHERE request_id = ?`, requestID)
	return err
}

func (s *SQLiteStore) ListPending(ctx context.Context, sessionID string) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token, session_id, tool_call_id, tool_name, risk, input,
		       status, created_at, expires_at, decided_at, decided_by
		FROM approval_requests
		WHERE session_id = ? AND status = ?
		ORDER BY created_at ASC`,
		sessionID, string(StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	out := []*Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Sweep(ctx context.Context, now time.Time, grace time.Duration) (int, int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = ?, decided_at = ?
		WHERE status = ? AND expires_at < ?`,
		string(StatusExpired), now, string(StatusPending), now,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to expire approvals: %w", err)
	}
	expired64, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	cutoff := now.Add(-grace)
	res, err = s.db.ExecContext(ctx, `
		DELETE FROM approval_requests
		WHERE status != ? AND decided_at IS NOT NULL AND decided_at < ?`,
		string(StatusPending), cutoff,
	)
	if err != nil {
		return int(expired64), 0, fmt.Errorf("failed to prune approvals: %w", err)
	}
	removed64, err := res.RowsAffected()
	if err != nil {
		return int(expired64), 0, err
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM pause_states
		WHERE request_id NOT IN (SELECT id FROM approval_requests)`)
	if err != nil {
		return int(expired64), int(removed64), fmt.Errorf("failed to prune pause states: %w", err)
	}

	return int(expired64), int(removed64), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var req Request
	var risk, status, input string
	var decidedAt sql.NullTime
	var decidedBy sql.NullString
	err := row.Scan(&req.ID, &req.Token, &req.SessionID, &req.ToolCallID,
		&req.ToolName, &risk, &input, &status, &req.CreatedAt, &req.ExpiresAt,
		&decidedAt, &decidedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan approval request: %w", err)
	}
	req.Risk = models.RiskLevel(risk)
	req.Status = Status(status)
	if input != "" {
		req.Input = json.RawMessage(input)
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	if decidedBy.Valid {
		req.DecidedBy = decidedBy.String
	}
	return &req, nil
}
