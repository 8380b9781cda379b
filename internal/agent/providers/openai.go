// Package providers contains LLMProvider implementations for the supported
// model APIs. Each provider converts between the internal conversation
// format and its API's wire format, streams responses as they arrive, and
// retries transient failures.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/steward/internal/agent"
	"github.com/haasonsaas/steward/internal/tools"
	"github.com/haasonsaas/steward/pkg/models"
)

// OpenAIProvider implements agent.LLMProvider against OpenAI's chat
// completions API. Safe for concurrent use; each Complete call creates an
// independent stream and goroutine.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string

	// maxRetries applies to stream creation only, never to a stream that
	// already produced output.
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIProvider creates an OpenAI provider. An empty API key defers the
// failure to the first Complete call.
func NewOpenAIProvider(apiKey, defaultModel string) *OpenAIProvider {
	p := &OpenAIProvider{
		defaultModel: defaultModel,
		maxRetries:   3,
		retryDelay:   time.Second,
	}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
	}
	return p
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete sends a streaming chat completion request. The returned channel
// is closed when the stream ends; errors during streaming arrive as chunks.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if p.client == nil {
		return nil, errors.New("OpenAI API key not configured")
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("non-retryable error: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

// processStream converts the OpenAI stream to internal chunks. Tool calls
// arrive fragmented across deltas and are accumulated by index until the
// finish reason signals they are complete.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	var order []int
	var inputTokens, outputTokens int

	flush := func() {
		for _, index := range order {
			tc := toolCalls[index]
			if tc.ID != "" && tc.Name != "" {
				chunks <- &agent.CompletionChunk{ToolCall: tc}
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
		order = nil
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flush()
				chunks <- &agent.CompletionChunk{
					Done:         true,
					InputTokens:  inputTokens,
					OutputTokens: outputTokens,
				}
				return
			}
			chunks <- &agent.CompletionChunk{Error: err, Done: true}
			return
		}

		// The usage-only frame has no choices.
		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta
		if delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
				order = append(order, index)
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = append(toolCalls[index].Input, tc.Function.Arguments...)
			}
		}

		if response.Choices[0].FinishReason == "tool_calls" {
			flush()
		}
	}
}

// convertOpenAIMessages maps the conversation window to OpenAI's format.
// The system prompt becomes the leading message, and each tool result
// becomes its own message with role "tool".
func convertOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}
	}

	return result
}

func convertOpenAITools(specs []tools.Spec) []openai.Tool {
	result := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		var schemaMap map[string]any
		if err := json.Unmarshal(spec.Schema, &schemaMap); err != nil {
			// One bad schema must not break function calling for the rest.
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}

// isRetryable classifies stream-creation errors. Rate limits, server errors
// and timeouts are worth retrying; authentication and validation are not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"rate limit", "429",
		"500", "502", "503", "504",
		"timeout", "deadline exceeded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
