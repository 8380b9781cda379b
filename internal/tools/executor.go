package tools

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/haasonsaas/steward/pkg/models"
)

// ExecutorConfig configures tool execution timeouts.
type ExecutorConfig struct {
	// DefaultTimeout bounds a single tool execution.
	// Default: 30s
	DefaultTimeout time.Duration

	// ToolTimeouts overrides the default timeout per tool name.
	ToolTimeouts map[string]time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		DefaultTimeout: 30 * time.Second,
	}
}

// Executor runs tool calls one at a time with per-call timeouts and panic
// recovery. Calls within a batch execute strictly in the order the model
// emitted them, so each result lands in the window before the next call runs.
type Executor struct {
	registry *Registry
	config   *ExecutorConfig

	mu      sync.Mutex
	metrics ExecutorMetrics
}

// ExecutorMetrics tracks execution counts, failures, timeouts, and panics.
type ExecutorMetrics struct {
	TotalExecutions int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// NewExecutor creates a sequential tool executor.
// If config is nil, DefaultExecutorConfig is used.
func NewExecutor(registry *Registry, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	return &Executor{
		registry: registry,
		config:   config,
	}
}

// Outcome holds the result of a single tool execution with timing.
type Outcome struct {
	ToolCallID string
	ToolName   string
	Result     *Result
	Err        error
	Duration   time.Duration
}

// AsToolResult converts the outcome into a conversation tool result.
// Failures become error results so the model can react to them.
func (o *Outcome) AsToolResult() models.ToolResult {
	if o.Err != nil {
		return models.ToolResult{
			ToolCallID: o.ToolCallID,
			Content:    "Error: " + o.Err.Error(),
			IsError:    true,
		}
	}
	return models.ToolResult{
		ToolCallID: o.ToolCallID,
		Content:    o.Result.Content,
		IsError:    o.Result.IsError,
	}
}

// Execute runs a single tool call with timeout and panic recovery.
// The returned outcome always carries either a result or an error.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) *Outcome {
	start := time.Now()
	outcome := &Outcome{
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}

	timeout := e.config.DefaultTimeout
	if t, ok := e.config.ToolTimeouts[call.Name]; ok && t > 0 {
		timeout = t
	}

	result, err := e.executeWithTimeout(ctx, call, timeout)
	outcome.Result = result
	outcome.Err = err
	outcome.Duration = time.Since(start)

	e.mu.Lock()
	e.metrics.TotalExecutions++
	if err != nil {
		e.metrics.TotalFailures++
		if toolErr, ok := GetToolError(err); ok {
			switch toolErr.Type {
			case ToolErrorTimeout:
				e.metrics.TotalTimeouts++
			case ToolErrorPanic:
				e.metrics.TotalPanics++
			}
		}
	}
	e.mu.Unlock()

	return outcome
}

func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall, timeout time.Duration) (*Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execResult struct {
		result *Result
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				err := NewToolError(call.Name, fmt.Errorf("panic: %v\n%s", r, stack)).
					WithType(ToolErrorPanic).
					WithToolCallID(call.ID)
				resultCh <- execResult{err: err}
			}
		}()

		result, err := e.registry.Execute(execCtx, call.Name, call.Input)
		if err != nil {
			resultCh <- execResult{err: NewToolError(call.Name, err).WithToolCallID(call.ID)}
			return
		}
		resultCh <- execResult{result: result}
	}()

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-execCtx.Done():
		return nil, NewToolError(call.Name, execCtx.Err()).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID).
			WithMessage(fmt.Sprintf("tool execution exceeded %s", timeout))
	}
}

// MetricsSnapshot returns a copy of the current executor metrics.
func (e *Executor) MetricsSnapshot() ExecutorMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}
