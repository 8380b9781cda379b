package agent

import (
	"encoding/json"
	"time"

	"github.com/haasonsaas/steward/pkg/models"
)

// ChunkType categorizes stream chunks delivered to the caller.
type ChunkType string

const (
	// ChunkAssistant carries incremental assistant text.
	ChunkAssistant ChunkType = "assistant"

	// ChunkSystem carries an operational notice such as a failure or
	// timeout, reported in place of assistant output.
	ChunkSystem ChunkType = "system"

	// ChunkApprovalRequired is terminal for the stream: the turn is
	// suspended until the attached approval token is decided.
	ChunkApprovalRequired ChunkType = "approval_required"
)

// StreamChunk is one element of a turn's response stream.
type StreamChunk struct {
	Type     ChunkType       `json:"type"`
	Content  string          `json:"content,omitempty"`
	Approval *ApprovalNotice `json:"approval,omitempty"`
}

// ApprovalNotice describes a pending approval to the client. The token is
// the handle the client posts back with its decision.
type ApprovalNotice struct {
	Token     string           `json:"token"`
	ToolName  string           `json:"tool_name"`
	Risk      models.RiskLevel `json:"risk_level"`
	Input     json.RawMessage  `json:"input,omitempty"`
	ExpiresAt time.Time        `json:"expires_at"`
}

func assistantChunk(text string) *StreamChunk {
	return &StreamChunk{Type: ChunkAssistant, Content: text}
}

func systemChunk(text string) *StreamChunk {
	return &StreamChunk{Type: ChunkSystem, Content: text}
}
