package agent

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/steward/internal/approval"
	"github.com/haasonsaas/steward/internal/audit"
	"github.com/haasonsaas/steward/pkg/models"
)

// Decision is a user's verdict on a pending approval request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// Result content injected into the window when a gated call does not run.
const (
	deniedResultContent  = "Tool execution denied by the user."
	expiredResultContent = "Tool execution request expired before a decision was made."
)

// Resume settles a pending approval request and continues the suspended
// turn. The token is single use: a second call with the same token fails
// with ErrTokenConsumed and changes nothing.
//
// On approve the gated tool executes and the turn picks up where it left
// off, including any tool calls that were queued behind the gate. On deny
// (or if the request expired before the decision) the model is told the
// tool did not run and the turn continues the same way.
func (c *Controller) Resume(ctx context.Context, session *models.Session, token string, decision Decision, opts TurnOptions, chunks chan<- *StreamChunk) error {
	if c.provider == nil {
		return ErrNoProvider
	}

	req, err := c.approvals.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			c.emit(opts, chunks, systemChunk("Unknown approval token."))
			return ErrInvalidToken
		}
		return &TurnError{Phase: PhaseResume, Message: "failed to load approval request", Cause: err}
	}
	if req.SessionID != session.ID {
		// A token bound to another session is indistinguishable from an
		// unknown one as far as the caller is concerned.
		c.emit(opts, chunks, systemChunk("Unknown approval token."))
		return ErrInvalidToken
	}
	if req.Status.Terminal() {
		c.recordAudit(ctx, &audit.Record{
			SessionID:  session.ID,
			Type:       audit.TypeApprovalDecision,
			Actor:      opts.DecidedBy,
			ToolName:   req.ToolName,
			ToolCallID: req.ToolCallID,
			Detail:     "rejected reused approval token",
			Error:      true,
		})
		c.emit(opts, chunks, systemChunk("This approval request has already been decided."))
		return ErrTokenConsumed
	}

	to := approval.StatusDenied
	decidedBy := opts.DecidedBy
	if decision == DecisionApprove {
		to = approval.StatusApproved
	}
	if req.ExpiredAt(time.Now()) {
		// Too late either way; the decision on record is the expiry.
		to = approval.StatusExpired
		decidedBy = "system"
	}

	req, err = c.approvals.Decide(ctx, token, to, decidedBy)
	if err != nil {
		if errors.Is(err, approval.ErrNotPending) {
			c.emit(opts, chunks, systemChunk("This approval request has already been decided."))
			return ErrTokenConsumed
		}
		return &TurnError{Phase: PhaseResume, Message: "failed to decide approval request", Cause: err}
	}

	// The status transition is committed; the decision record must land
	// even if loading the suspended turn fails below.
	c.recordAudit(ctx, &audit.Record{
		SessionID:  session.ID,
		Type:       audit.TypeApprovalDecision,
		Actor:      decidedBy,
		ToolName:   req.ToolName,
		ToolCallID: req.ToolCallID,
		Detail:     string(to),
	})
	if c.metrics != nil {
		c.metrics.ApprovalCounter.WithLabelValues(string(to)).Inc()
	}

	pause, err := c.approvals.PauseState(ctx, req.ID)
	if err != nil {
		return &TurnError{Phase: PhaseResume, Message: "failed to load suspended turn", Cause: err}
	}

	c.logger.Info("approval decided",
		"session_id", session.ID,
		"tool", req.ToolName,
		"tool_call_id", req.ToolCallID,
		"status", string(to),
		"decided_by", decidedBy,
	)

	state := &turnState{
		window:    pause.Window,
		system:    pause.SystemPrompt,
		model:     pause.Model,
		iteration: pause.Iteration,
	}

	switch to {
	case approval.StatusApproved:
		outcome := c.executor.Execute(ctx, pause.Gated)
		state.toolsExecuted = true
		result := outcome.AsToolResult()
		c.observeTool(pause.Gated.Name, outcome)

		if err := c.persistToolResult(ctx, session, state, result); err != nil {
			return &TurnError{Phase: PhaseResume, Iteration: state.iteration, Cause: err}
		}
		c.recordAudit(ctx, &audit.Record{
			SessionID:  session.ID,
			Type:       audit.TypeToolExecutionResult,
			Actor:      "system",
			ToolName:   pause.Gated.Name,
			ToolCallID: pause.Gated.ID,
			Error:      result.IsError,
			Metrics:    audit.Metrics{LatencyMS: outcome.Duration.Milliseconds()},
		})
	case approval.StatusExpired:
		if err := c.persistToolResult(ctx, session, state, models.ToolResult{
			ToolCallID: pause.Gated.ID,
			Content:    expiredResultContent,
			IsError:    true,
		}); err != nil {
			return &TurnError{Phase: PhaseResume, Iteration: state.iteration, Cause: err}
		}
	default:
		if err := c.persistToolResult(ctx, session, state, models.ToolResult{
			ToolCallID: pause.Gated.ID,
			Content:    deniedResultContent,
			IsError:    true,
		}); err != nil {
			return &TurnError{Phase: PhaseResume, Iteration: state.iteration, Cause: err}
		}
	}

	if err := c.approvals.DeletePauseState(ctx, req.ID); err != nil {
		c.logger.Error("failed to delete pause state",
			"session_id", session.ID,
			"request_id", req.ID,
			"error", err,
		)
	}

	if len(pause.Remaining) > 0 {
		gated, err := c.processCalls(ctx, session, state, pause.Remaining, opts, chunks)
		if err != nil {
			return err
		}
		if gated {
			c.countTurn("suspended")
			return nil
		}
	}

	return c.runLoop(ctx, session, state, opts, chunks)
}
