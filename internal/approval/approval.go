// Package approval manages the human approval workflow for high-risk tool
// calls: single-use tokens, guarded status transitions, and the persisted
// pause state that lets a suspended turn resume on a later request.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/haasonsaas/steward/pkg/models"
)

// Status tracks the lifecycle of an approval request.
// Pending is the only state that accepts a decision; every other state
// is terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Terminal reports whether the status accepts no further decisions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusExpired
}

var (
	// ErrNotFound indicates no approval request exists for the token.
	ErrNotFound = errors.New("approval request not found")

	// ErrNotPending indicates the request already received a decision.
	ErrNotPending = errors.New("approval request is not pending")

	// ErrDuplicatePending indicates a pending request already exists for
	// the same tool call.
	ErrDuplicatePending = errors.New("pending approval already exists for tool call")

	// ErrPauseStateNotFound indicates no pause state exists for the request.
	ErrPauseStateNotFound = errors.New("pause state not found")
)

// Request is a single approval request for one high-risk tool call.
// The token is single use: it identifies the request on the resume path
// and is consumed by the first decision.
type Request struct {
	ID         string           `json:"id"`
	Token      string           `json:"token"`
	SessionID  string           `json:"session_id"`
	ToolCallID string           `json:"tool_call_id"`
	ToolName   string           `json:"tool_name"`
	Risk       models.RiskLevel `json:"risk"`
	Input      json.RawMessage  `json:"input"`
	Status     Status           `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
	DecidedAt  *time.Time       `json:"decided_at,omitempty"`
	DecidedBy  string           `json:"decided_by,omitempty"`
}

// ExpiredAt reports whether the request's TTL has elapsed at the given time.
func (r *Request) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// PauseState is the suspended remainder of a turn: the conversation window
// as it stood at the gate, the gated call itself, and any sibling calls
// that were deferred behind it. It carries everything Resume needs, so a
// resume can run on a different process than the one that paused.
type PauseState struct {
	RequestID    string            `json:"request_id"`
	SessionID    string            `json:"session_id"`
	SystemPrompt string            `json:"system_prompt"`
	Model        string            `json:"model"`
	Iteration    int               `json:"iteration"`
	Window       []models.Message  `json:"window"`
	Gated        models.ToolCall   `json:"gated"`
	Remaining    []models.ToolCall `json:"remaining,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Store persists approval requests and their pause states.
type Store interface {
	// Create stores a pending request together with its pause state.
	// Fails with ErrDuplicatePending if a pending request already exists
	// for the same tool call.
	Create(ctx context.Context, req *Request, pause *PauseState) error

	// GetByToken looks up a request by its token.
	GetByToken(ctx context.Context, token string) (*Request, error)

	// Decide transitions a pending request to the given terminal status.
	// The transition is atomic: a request that is no longer pending
	// fails with ErrNotPending and is left untouched.
	Decide(ctx context.Context, token string, to Status, decidedBy string) (*Request, error)

	// PauseState returns the pause state for a request.
	PauseState(ctx context.Context, requestID string) (*PauseState, error)

	// DeletePauseState removes the pause state once the turn has resumed.
	DeletePauseState(ctx context.Context, requestID string) error

	// ListPending returns pending requests for a session, oldest first.
	ListPending(ctx context.Context, sessionID string) ([]*Request, error)

	// Sweep expires overdue pending requests and removes terminal
	// requests older than grace. Returns counts of each.
	Sweep(ctx context.Context, now time.Time, grace time.Duration) (expired, removed int, err error)
}
