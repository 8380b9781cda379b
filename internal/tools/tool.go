// Package tools defines the tool abstraction used by the turn controller:
// a registry of named, schema-validated tools with a risk classification,
// and a sequential executor that never lets a tool failure escape as a
// turn failure.
package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/steward/pkg/models"
)

// Tool is the interface implemented by all executable tools.
type Tool interface {
	// Name returns the unique tool identifier used in LLM tool calls.
	Name() string

	// Description returns a human-readable description for the LLM.
	Description() string

	// Schema returns the JSON Schema for the tool's input parameters.
	Schema() json.RawMessage

	// Risk classifies the tool. High-risk tools are gated behind
	// explicit user approval before execution.
	Risk() models.RiskLevel

	// Execute runs the tool with the given JSON input.
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Result is the output of a tool execution.
type Result struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Spec is the provider-facing description of a registered tool.
type Spec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}
