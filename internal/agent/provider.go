// Package agent implements the turn controller: the loop that streams a
// model response, executes the tool calls it requests, feeds results back,
// and repeats until the model answers in plain text. High-risk tool calls
// suspend the loop behind an approval request; Resume picks the suspended
// turn back up once the user decides.
package agent

import (
	"context"

	"github.com/haasonsaas/steward/internal/tools"
	"github.com/haasonsaas/steward/pkg/models"
)

// LLMProvider is the interface implemented by LLM backends.
type LLMProvider interface {
	// Name returns the provider identifier used for routing and metrics.
	Name() string

	// Complete sends a completion request and streams the response.
	// The returned channel is closed when the response is complete.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

// CompletionRequest is a provider-agnostic completion request.
type CompletionRequest struct {
	// Model is the model identifier to use.
	Model string

	// System is the system prompt, kept separate from Messages because
	// providers place it differently.
	System string

	// Messages is the conversation window, oldest first.
	Messages []models.Message

	// Tools lists the tools the model may call.
	Tools []tools.Spec

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int

	// EnableThinking requests extended reasoning from providers that
	// support it.
	EnableThinking bool

	// ThinkingBudgetTokens caps reasoning tokens when thinking is enabled.
	ThinkingBudgetTokens int
}

// CompletionChunk is a single increment of a streaming response.
type CompletionChunk struct {
	// Text is an incremental piece of assistant text.
	Text string

	// ToolCall is a complete tool call. Providers accumulate streamed
	// fragments and emit the call only once it is whole.
	ToolCall *models.ToolCall

	// Done signals the end of the response.
	Done bool

	// Error signals a stream failure. The channel closes after it.
	Error error

	// InputTokens and OutputTokens carry usage, reported on Done.
	InputTokens  int
	OutputTokens int
}
