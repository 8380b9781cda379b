package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/steward/internal/agent"
	"github.com/haasonsaas/steward/internal/tools"
	"github.com/haasonsaas/steward/pkg/models"
)

// maxEmptyStreamEvents bounds consecutive events that produce no output
// before the stream is declared malformed.
const maxEmptyStreamEvents = 300

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// minThinkingBudgetTokens is the smallest budget the API accepts.
const minThinkingBudgetTokens = 1024

// AnthropicProvider implements agent.LLMProvider against Anthropic's
// Messages API. Safe for concurrent use.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string

	// maxRetries and retryDelay control exponential backoff on stream
	// creation: retryDelay * 2^attempt.
	maxRetries int
	retryDelay time.Duration
}

// AnthropicConfig configures an AnthropicProvider. Only APIKey is required.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultAnthropicModel
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
	}, nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete sends a streaming messages request. Stream creation retries with
// exponential backoff; errors after the stream starts arrive as chunks.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chunks := make(chan *agent.CompletionChunk)

	go func() {
		defer close(chunks)

		model := p.getModel(req.Model)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}

			wrapped := p.wrapError(err, model)
			if !p.isRetryableError(wrapped) {
				chunks <- &agent.CompletionChunk{Error: wrapped, Done: true}
				return
			}
			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
					return
				case <-time.After(backoff):
				}
			}
		}
		if err != nil {
			chunks <- &agent.CompletionChunk{
				Error: fmt.Errorf("anthropic: max retries exceeded: %w", p.wrapError(err, model)),
				Done:  true,
			}
			return
		}

		p.processStream(stream, chunks, model)
	}()

	return chunks, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *agent.CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(req.MaxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}
	if len(req.Tools) > 0 {
		toolParams, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = toolParams
	}
	if req.EnableThinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget < minThinkingBudgetTokens {
			budget = minThinkingBudgetTokens
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// processStream converts Anthropic SSE events into internal chunks. Tool
// input arrives as partial JSON deltas and is assembled until the content
// block closes.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk, model string) {
	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	emptyEventCount := 0

	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			eventProcessed = true

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentToolCall = &models.ToolCall{
					ID:   toolUse.ID,
					Name: toolUse.Name,
				}
				currentToolInput.Reset()
			}
			eventProcessed = true

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &agent.CompletionChunk{Text: delta.Text}
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					eventProcessed = true
				}
			case "thinking_delta":
				// Reasoning content is not surfaced to callers.
				eventProcessed = true
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Input = json.RawMessage(currentToolInput.String())
				chunks <- &agent.CompletionChunk{ToolCall: currentToolCall}
				currentToolCall = nil
			}
			eventProcessed = true

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			eventProcessed = true

		case "message_stop":
			chunks <- &agent.CompletionChunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			}
			return

		case "error":
			chunks <- &agent.CompletionChunk{
				Error: p.wrapError(errors.New("anthropic stream error"), model),
				Done:  true,
			}
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				chunks <- &agent.CompletionChunk{
					Error: p.wrapError(
						fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEventCount),
						model,
					),
					Done: true,
				}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model), Done: true}
	}
}

// convertAnthropicMessages maps the conversation window to Anthropic's
// content-block format. The system prompt travels separately in the request
// params, and tool results ride in user-role messages.
func convertAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, toolResult := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				toolResult.ToolCallID,
				toolResult.Content,
				toolResult.IsError,
			))
		}
		for _, toolCall := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(toolCall.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(
				toolCall.ID,
				input,
				toolCall.Name,
			))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertAnthropicTools(specs []tools.Spec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, spec := range specs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(spec.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", spec.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", spec.Name)
		}
		toolParam.OfTool.Description = anthropic.String(spec.Description)
		result = append(result, toolParam)
	}

	return result, nil
}

func (p *AnthropicProvider) getModel(model string) string {
	if model != "" {
		return model
	}
	return p.defaultModel
}

func (p *AnthropicProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok && providerErr.StatusCode > 0 {
		return providerErr.Retryable()
	}

	msg := err.Error()
	for _, marker := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// wrapError attaches provider context, pulling the status code and message
// out of SDK errors where available.
func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	providerErr := &ProviderError{
		Provider: "anthropic",
		Model:    model,
		Cause:    err,
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr.StatusCode = apiErr.StatusCode
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil && payload.Error.Message != "" {
				providerErr.Message = payload.Error.Message
			}
		}
		if providerErr.Message == "" {
			providerErr.Message = "anthropic request failed"
		}
	}

	return providerErr
}
