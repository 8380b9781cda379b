package tools

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for tool execution.
var (
	// ErrToolNotFound indicates a requested tool doesn't exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution.
	ErrToolPanic = errors.New("tool panicked")
)

// ToolErrorType categorizes tool execution errors.
type ToolErrorType string

const (
	// ToolErrorNotFound indicates the tool doesn't exist.
	ToolErrorNotFound ToolErrorType = "not_found"

	// ToolErrorInvalidInput indicates the input failed schema validation.
	ToolErrorInvalidInput ToolErrorType = "invalid_input"

	// ToolErrorTimeout indicates the tool timed out.
	ToolErrorTimeout ToolErrorType = "timeout"

	// ToolErrorExecution indicates a runtime error during execution.
	ToolErrorExecution ToolErrorType = "execution"

	// ToolErrorPanic indicates the tool panicked.
	ToolErrorPanic ToolErrorType = "panic"
)

// ToolError is a structured error from tool execution. It carries the tool
// name and call ID so failures can be reported back into the conversation
// as error results rather than aborting the turn.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError creates a ToolError for the named tool.
func NewToolError(toolName string, cause error) *ToolError {
	return &ToolError{
		Type:     ToolErrorExecution,
		ToolName: toolName,
		Cause:    cause,
	}
}

// WithType sets the error type.
func (e *ToolError) WithType(t ToolErrorType) *ToolError {
	e.Type = t
	return e
}

// WithToolCallID sets the tool call ID.
func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// WithMessage sets a human-readable message.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

// GetToolError extracts a ToolError from an error chain.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}
