// Package audit records every state transition of a conversation as an
// append-only trail: user messages, tool execution requests and results,
// approval decisions, and assistant responses. Records carry latency and
// token metrics and are queryable for administrative review.
package audit

import (
	"context"
	"time"
)

// InteractionType categorizes audit records.
type InteractionType string

const (
	TypeUserMessage          InteractionType = "user_message"
	TypeToolExecutionRequest InteractionType = "tool_execution_request"
	TypeToolExecutionResult  InteractionType = "tool_execution_result"
	TypeApprovalDecision     InteractionType = "approval_decision"
	TypeAssistantResponse    InteractionType = "assistant_response"
)

// Metrics carries measurements attached to a record.
type Metrics struct {
	LatencyMS        int64 `json:"latency_ms,omitempty"`
	PromptTokens     int   `json:"prompt_tokens,omitempty"`
	CompletionTokens int   `json:"completion_tokens,omitempty"`
}

// Record is a single audit trail entry. Seq is assigned by the sink and
// increases in write order, so records read back in Seq order reproduce
// the causal order of the turn.
type Record struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	SessionID  string          `json:"session_id"`
	Type       InteractionType `json:"type"`
	Actor      string          `json:"actor,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	Error      bool            `json:"error,omitempty"`
	Metrics    Metrics         `json:"metrics,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Query filters audit records. Zero values match everything.
type Query struct {
	SessionID string
	Types     []InteractionType
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// Sink persists audit records.
type Sink interface {
	// Record appends a record to the trail, assigning ID and Seq.
	Record(ctx context.Context, record *Record) error

	// Query returns matching records in Seq order.
	Query(ctx context.Context, q Query) ([]*Record, error)
}
