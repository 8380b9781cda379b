package agent

import (
	"errors"
	"fmt"
)

// Common sentinel errors for turn operations.
var (
	// ErrMaxIterations indicates the turn loop exceeded its iteration limit.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoProvider indicates no LLM provider is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrClientDisconnected indicates the client went away before any
	// tool executed, so the turn was abandoned.
	ErrClientDisconnected = errors.New("client disconnected")

	// ErrInvalidToken indicates the approval token is unknown or belongs
	// to a different session.
	ErrInvalidToken = errors.New("invalid approval token")

	// ErrTokenConsumed indicates the approval token already received a
	// decision.
	ErrTokenConsumed = errors.New("approval token already consumed")
)

// TurnPhase identifies where in the loop an error occurred.
type TurnPhase string

const (
	PhaseInit         TurnPhase = "init"
	PhaseStream       TurnPhase = "stream"
	PhaseExecuteTools TurnPhase = "execute_tools"
	PhaseResume       TurnPhase = "resume"
	PhaseComplete     TurnPhase = "complete"
)

// TurnError wraps an error with loop position context.
type TurnError struct {
	Phase     TurnPhase
	Iteration int
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *TurnError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return fmt.Sprintf("[turn:%s iteration=%d] %s", e.Phase, e.Iteration, msg)
}

// Unwrap returns the underlying error.
func (e *TurnError) Unwrap() error {
	return e.Cause
}
