package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/steward/pkg/models"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolInputSize is the maximum size of tool input JSON (1MB).
	MaxToolInputSize = 1 << 20
)

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry manages available tools with thread-safe registration and lookup.
// Input schemas are compiled at registration time and every execution
// validates its input against the compiled schema.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*registeredTool),
	}
}

// Register adds a tool to the registry, compiling its input schema.
// If a tool with the same name already exists, it is replaced.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}

	compiled, err := jsonschema.CompileString(name+".schema.json", string(tool.Schema()))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = &registeredTool{tool: tool, schema: compiled}
	return nil
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return rt.tool, true
}

// Risk returns the risk classification for the named tool.
// Unknown tools report low risk so their failure result flows back into
// the conversation without an approval round trip.
func (r *Registry) Risk(name string) models.RiskLevel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rt, ok := r.tools[name]; ok {
		return rt.tool.Risk()
	}
	return models.RiskLow
}

// Execute runs a tool by name with the given JSON input.
// Unknown tools and invalid input produce an error result, not an error:
// these outcomes are conversation content for the model to react to.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (*Result, error) {
	if len(name) > MaxToolNameLength {
		return &Result{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}
	if len(input) > MaxToolInputSize {
		return &Result{
			Content: fmt.Sprintf("tool input exceeds maximum size of %d bytes", MaxToolInputSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &Result{
			Content: "tool not found: " + name,
			IsError: true,
		}, nil
	}

	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return &Result{
			Content: fmt.Sprintf("invalid tool input for %s: %v", name, err),
			IsError: true,
		}, nil
	}
	if err := rt.schema.Validate(decoded); err != nil {
		return &Result{
			Content: fmt.Sprintf("tool input for %s failed validation: %v", name, err),
			IsError: true,
		}, nil
	}

	return rt.tool.Execute(ctx, input)
}

// Specs returns provider-facing descriptions of all registered tools,
// sorted by name for deterministic request construction.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.tools))
	for _, rt := range r.tools {
		specs = append(specs, Spec{
			Name:        rt.tool.Name(),
			Description: rt.tool.Description(),
			Schema:      rt.tool.Schema(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
