package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/steward/internal/approval"
	"github.com/haasonsaas/steward/internal/audit"
	"github.com/haasonsaas/steward/internal/observability"
	"github.com/haasonsaas/steward/internal/sessions"
	"github.com/haasonsaas/steward/internal/tools"
	"github.com/haasonsaas/steward/pkg/models"
)

// Size limits guarding against runaway model output.
const (
	// MaxResponseTextSize is the maximum accumulated response text (1MB).
	MaxResponseTextSize = 1 << 20

	// MaxToolCallsPerIteration limits tool calls in a single model response.
	MaxToolCallsPerIteration = 16
)

// Notices delivered as system chunks when a turn ends abnormally.
const (
	noticeProviderFailure = "The assistant is temporarily unavailable. Please try again."
	noticeMaxIterations   = "The conversation required too many tool rounds and was stopped. Please rephrase your request."
)

// Config configures the turn controller.
type Config struct {
	// MaxIterations limits model round trips per turn.
	// Default: 12
	MaxIterations int

	// MaxTokens is the max tokens per model response.
	// Default: 4096
	MaxTokens int

	// ApprovalTTL is how long an approval request stays decidable.
	// Default: 15m
	ApprovalTTL time.Duration
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxIterations: 12,
		MaxTokens:     4096,
		ApprovalTTL:   15 * time.Minute,
	}
}

func sanitizeConfig(config *Config) *Config {
	if config == nil {
		return DefaultConfig()
	}
	out := *config
	if out.MaxIterations <= 0 {
		out.MaxIterations = 12
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}
	if out.ApprovalTTL <= 0 {
		out.ApprovalTTL = 15 * time.Minute
	}
	return &out
}

// Controller drives conversation turns. It owns no session locking and no
// HTTP concerns; callers hand it a session, a window, and a chunk channel.
type Controller struct {
	provider  LLMProvider
	registry  *tools.Registry
	executor  *tools.Executor
	sessions  sessions.Store
	approvals approval.Store
	auditor   audit.Sink
	metrics   *observability.Metrics
	logger    *slog.Logger
	config    *Config
}

// NewController creates a turn controller. The metrics argument may be nil.
func NewController(
	provider LLMProvider,
	registry *tools.Registry,
	executor *tools.Executor,
	sessionStore sessions.Store,
	approvalStore approval.Store,
	auditor audit.Sink,
	metrics *observability.Metrics,
	logger *slog.Logger,
	config *Config,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		provider:  provider,
		registry:  registry,
		executor:  executor,
		sessions:  sessionStore,
		approvals: approvalStore,
		auditor:   auditor,
		metrics:   metrics,
		logger:    logger,
		config:    sanitizeConfig(config),
	}
}

// TurnOptions carries per-turn parameters from the caller.
type TurnOptions struct {
	// SystemPrompt for the model.
	SystemPrompt string

	// Model identifier. Empty uses the provider default.
	Model string

	// EnableThinking requests extended reasoning for this turn.
	EnableThinking bool

	// ClientGone, when non-nil, is closed if the client disconnects.
	// A turn that has not yet executed a tool aborts on disconnect;
	// once a tool has run, the turn finishes server side regardless.
	ClientGone <-chan struct{}

	// DecidedBy identifies the deciding user on the resume path.
	DecidedBy string
}

// turnState is the in-flight state of a single turn.
type turnState struct {
	window        []models.Message
	system        string
	model         string
	iteration     int
	toolsExecuted bool
}

// streamUsage carries measurements from a single model round trip.
type streamUsage struct {
	latency          time.Duration
	promptTokens     int
	completionTokens int
}

// Run executes one turn of the conversation against the given window.
// Chunks are written to the channel as they are produced; the caller owns
// the channel and closes it after Run returns.
//
// A nil error means the turn ended normally: either with a final assistant
// response or suspended behind an approval request.
func (c *Controller) Run(ctx context.Context, session *models.Session, window []models.Message, opts TurnOptions, chunks chan<- *StreamChunk) error {
	if c.provider == nil {
		return ErrNoProvider
	}
	state := &turnState{
		window: repairWindow(window),
		system: opts.SystemPrompt,
		model:  opts.Model,
	}
	return c.runLoop(ctx, session, state, opts, chunks)
}

// runLoop is the shared loop body for Run and Resume.
func (c *Controller) runLoop(ctx context.Context, session *models.Session, state *turnState, opts TurnOptions, chunks chan<- *StreamChunk) error {
	for state.iteration < c.config.MaxIterations {
		select {
		case <-ctx.Done():
			return &TurnError{Phase: PhaseStream, Iteration: state.iteration, Cause: ctx.Err()}
		default:
		}
		state.iteration++

		text, toolCalls, usage, err := c.streamPhase(ctx, state, opts, chunks)
		if err != nil {
			c.recordAudit(ctx, &audit.Record{
				SessionID: session.ID,
				Type:      audit.TypeAssistantResponse,
				Actor:     "assistant",
				Detail:    "model request failed: " + err.Error(),
				Error:     true,
			})
			c.countTurn("error")
			// When the turn context itself ended the stream the caller
			// reports that; a second notice here would duplicate it.
			if ctxErr := ctx.Err(); ctxErr == nil || !errors.Is(err, ctxErr) {
				c.emit(opts, chunks, systemChunk(noticeProviderFailure))
			}
			return &TurnError{Phase: PhaseStream, Iteration: state.iteration, Cause: err}
		}

		if len(toolCalls) == 0 {
			if !state.toolsExecuted && clientGone(opts.ClientGone) {
				// Nothing irreversible happened; drop the attempt.
				return ErrClientDisconnected
			}
			if _, err := c.persistAssistant(ctx, session, state, text, nil); err != nil {
				return &TurnError{Phase: PhaseComplete, Iteration: state.iteration, Cause: err}
			}
			c.recordAudit(ctx, &audit.Record{
				SessionID: session.ID,
				Type:      audit.TypeAssistantResponse,
				Actor:     "assistant",
				Metrics: audit.Metrics{
					LatencyMS:        usage.latency.Milliseconds(),
					PromptTokens:     usage.promptTokens,
					CompletionTokens: usage.completionTokens,
				},
			})
			c.countTurn("completed")
			return nil
		}

		if !state.toolsExecuted && clientGone(opts.ClientGone) {
			return ErrClientDisconnected
		}

		if _, err := c.persistAssistant(ctx, session, state, text, toolCalls); err != nil {
			return &TurnError{Phase: PhaseExecuteTools, Iteration: state.iteration, Cause: err}
		}

		names := make([]string, len(toolCalls))
		for i, call := range toolCalls {
			names[i] = call.Name
		}
		c.recordAudit(ctx, &audit.Record{
			SessionID: session.ID,
			Type:      audit.TypeToolExecutionRequest,
			Actor:     "assistant",
			Detail:    "requested tools: " + strings.Join(names, ", "),
			Metrics: audit.Metrics{
				LatencyMS:        usage.latency.Milliseconds(),
				PromptTokens:     usage.promptTokens,
				CompletionTokens: usage.completionTokens,
			},
		})

		gated, err := c.processCalls(ctx, session, state, toolCalls, opts, chunks)
		if err != nil {
			return err
		}
		if gated {
			c.countTurn("suspended")
			return nil
		}
	}

	c.recordAudit(ctx, &audit.Record{
		SessionID: session.ID,
		Type:      audit.TypeAssistantResponse,
		Actor:     "assistant",
		Detail:    fmt.Sprintf("stopped after %d iterations", c.config.MaxIterations),
		Error:     true,
	})
	c.countTurn("error")
	c.emit(opts, chunks, systemChunk(noticeMaxIterations))
	return &TurnError{Phase: PhaseStream, Iteration: state.iteration, Cause: ErrMaxIterations}
}

// streamPhase performs one model round trip: it streams assistant text to
// the caller as it arrives and collects any tool calls.
func (c *Controller) streamPhase(ctx context.Context, state *turnState, opts TurnOptions, chunks chan<- *StreamChunk) (string, []models.ToolCall, streamUsage, error) {
	req := &CompletionRequest{
		Model:          state.model,
		System:         state.system,
		Messages:       state.window,
		MaxTokens:      c.config.MaxTokens,
		EnableThinking: opts.EnableThinking,
	}
	if c.registry != nil && c.registry.Len() > 0 {
		req.Tools = c.registry.Specs()
	}

	start := time.Now()
	usage := streamUsage{}

	completion, err := c.provider.Complete(ctx, req)
	if err != nil {
		c.countLLM(state.model, "error", usage)
		return "", nil, usage, err
	}

	var toolCalls []models.ToolCall
	var textBuilder strings.Builder

	for chunk := range completion {
		if chunk.Error != nil {
			drainCompletion(completion)
			usage.latency = time.Since(start)
			c.countLLM(state.model, "error", usage)
			return "", nil, usage, chunk.Error
		}
		if chunk.Text != "" {
			if textBuilder.Len()+len(chunk.Text) > MaxResponseTextSize {
				drainCompletion(completion)
				return "", nil, usage, fmt.Errorf("response text exceeds maximum size of %d bytes", MaxResponseTextSize)
			}
			textBuilder.WriteString(chunk.Text)
			c.emit(opts, chunks, assistantChunk(chunk.Text))
		}
		if chunk.ToolCall != nil {
			if len(toolCalls) >= MaxToolCallsPerIteration {
				drainCompletion(completion)
				return "", nil, usage, fmt.Errorf("tool calls exceed maximum of %d per iteration", MaxToolCallsPerIteration)
			}
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			usage.promptTokens = chunk.InputTokens
			usage.completionTokens = chunk.OutputTokens
		}
	}

	usage.latency = time.Since(start)
	c.countLLM(state.model, "success", usage)
	return textBuilder.String(), toolCalls, usage, nil
}

// drainCompletion consumes the rest of a completion stream in the
// background. Provider goroutines send on an unbuffered channel and would
// block forever if an early exit left the stream unread.
func drainCompletion(completion <-chan *CompletionChunk) {
	go func() {
		for range completion {
		}
	}()
}

// processCalls walks a batch of tool calls strictly in the order the model
// emitted them. Low-risk calls execute immediately and their results join
// the window before the next call runs. The first high-risk call halts the
// batch: the turn suspends behind an approval request and the calls behind
// it are deferred into the pause state.
func (c *Controller) processCalls(ctx context.Context, session *models.Session, state *turnState, calls []models.ToolCall, opts TurnOptions, chunks chan<- *StreamChunk) (bool, error) {
	for i, call := range calls {
		if c.registry.Risk(call.Name) == models.RiskHigh {
			notice, err := c.gate(ctx, session, state, call, calls[i+1:])
			if err != nil {
				return false, &TurnError{Phase: PhaseExecuteTools, Iteration: state.iteration, Cause: err}
			}
			c.emit(opts, chunks, &StreamChunk{Type: ChunkApprovalRequired, Approval: notice})
			return true, nil
		}

		outcome := c.executor.Execute(ctx, call)
		state.toolsExecuted = true
		result := outcome.AsToolResult()
		c.observeTool(call.Name, outcome)

		if err := c.persistToolResult(ctx, session, state, result); err != nil {
			return false, &TurnError{Phase: PhaseExecuteTools, Iteration: state.iteration, Cause: err}
		}
		c.recordAudit(ctx, &audit.Record{
			SessionID:  session.ID,
			Type:       audit.TypeToolExecutionResult,
			Actor:      "system",
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Error:      result.IsError,
			Metrics:    audit.Metrics{LatencyMS: outcome.Duration.Milliseconds()},
		})
	}
	return false, nil
}

// gate suspends the turn behind an approval request for a high-risk call.
// The pause state snapshots the window and the deferred siblings so the
// turn can resume on a later request, possibly in another process.
func (c *Controller) gate(ctx context.Context, session *models.Session, state *turnState, call models.ToolCall, remaining []models.ToolCall) (*ApprovalNotice, error) {
	now := time.Now()
	req := &approval.Request{
		ID:         uuid.NewString(),
		Token:      uuid.NewString(),
		SessionID:  session.ID,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Risk:       models.RiskHigh,
		Input:      call.Input,
		Status:     approval.StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.config.ApprovalTTL),
	}
	pause := &approval.PauseState{
		RequestID:    req.ID,
		SessionID:    session.ID,
		SystemPrompt: state.system,
		Model:        state.model,
		Iteration:    state.iteration,
		Window:       append([]models.Message(nil), state.window...),
		Gated:        call,
		Remaining:    append([]models.ToolCall(nil), remaining...),
		CreatedAt:    now,
	}
	if err := c.approvals.Create(ctx, req, pause); err != nil {
		return nil, err
	}

	c.logger.Info("turn suspended for approval",
		"session_id", session.ID,
		"tool", call.Name,
		"tool_call_id", call.ID,
		"deferred_siblings", len(remaining),
		"expires_at", req.ExpiresAt,
	)
	if c.metrics != nil {
		c.metrics.ApprovalCounter.WithLabelValues("requested").Inc()
	}

	return &ApprovalNotice{
		Token:     req.Token,
		ToolName:  call.Name,
		Risk:      models.RiskHigh,
		Input:     call.Input,
		ExpiresAt: req.ExpiresAt,
	}, nil
}

func (c *Controller) persistAssistant(ctx context.Context, session *models.Session, state *turnState, text string, toolCalls []models.ToolCall) (*models.Message, error) {
	msg := &models.Message{
		SessionID: session.ID,
		Role:      models.RoleAssistant,
		Content:   text,
		ToolCalls: toolCalls,
	}
	if err := c.sessions.AppendMessage(ctx, session.ID, msg); err != nil {
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}
	state.window = append(state.window, *msg)
	return msg, nil
}

func (c *Controller) persistToolResult(ctx context.Context, session *models.Session, state *turnState, result models.ToolResult) error {
	msg := &models.Message{
		SessionID:   session.ID,
		Role:        models.RoleTool,
		ToolResults: []models.ToolResult{result},
	}
	if err := c.sessions.AppendMessage(ctx, session.ID, msg); err != nil {
		return fmt.Errorf("failed to persist tool result: %w", err)
	}
	state.window = append(state.window, *msg)
	return nil
}

// emit delivers a chunk unless the client has gone away, in which case the
// chunk is dropped so the turn never blocks on a dead reader.
func (c *Controller) emit(opts TurnOptions, chunks chan<- *StreamChunk, chunk *StreamChunk) {
	if opts.ClientGone == nil {
		chunks <- chunk
		return
	}
	select {
	case chunks <- chunk:
	case <-opts.ClientGone:
	}
}

func (c *Controller) recordAudit(ctx context.Context, record *audit.Record) {
	if c.auditor == nil {
		return
	}
	if err := c.auditor.Record(ctx, record); err != nil {
		c.logger.Error("failed to write audit record",
			"session_id", record.SessionID,
			"type", string(record.Type),
			"error", err,
		)
	}
}

func (c *Controller) countTurn(outcome string) {
	if c.metrics != nil {
		c.metrics.TurnCounter.WithLabelValues(outcome).Inc()
	}
}

func (c *Controller) countLLM(model, status string, usage streamUsage) {
	if c.metrics == nil {
		return
	}
	provider := c.provider.Name()
	c.metrics.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	if usage.latency > 0 {
		c.metrics.LLMRequestDuration.WithLabelValues(provider, model).Observe(usage.latency.Seconds())
	}
	if usage.promptTokens > 0 {
		c.metrics.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(usage.promptTokens))
	}
	if usage.completionTokens > 0 {
		c.metrics.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(usage.completionTokens))
	}
}

func (c *Controller) observeTool(name string, outcome *tools.Outcome) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if outcome.Err != nil || (outcome.Result != nil && outcome.Result.IsError) {
		status = "error"
	}
	c.metrics.ToolExecutionCounter.WithLabelValues(name, status).Inc()
	c.metrics.ToolExecutionDuration.WithLabelValues(name).Observe(outcome.Duration.Seconds())
}

func clientGone(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
