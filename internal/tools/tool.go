// Package tools provides tool registration, lookup, and dispatch for the
// conversational agent.
package tools

import (
	"context"
	"errors"
	"sync"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// Sentinel errors for per-call dispatch failures. Each is converted to a
// diagnostic ToolResult and surfaced to the model; none aborts the turn.
var (
	// ErrInvalidArguments indicates the accumulated arguments string did not
	// parse as JSON.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrUnknownTool indicates the requested tool is not registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrExecutionFailed indicates the tool's own execution returned an error.
	ErrExecutionFailed = errors.New("tool execution failed")
)

// Tool is a callable capability the model may invoke by name.
type Tool interface {
	// Name returns the unique identifier of the tool.
	Name() string

	// Description tells the model when to call the tool.
	Description() string

	// Parameters returns the JSON schema for the tool's arguments.
	Parameters() *jsonschema.Definition

	// Execute runs the tool with parsed arguments and returns the string
	// result handed back to the model.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Registry maps tool names to callable capabilities.
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry, replacing any previous tool with the
// same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Resolve retrieves a tool by name.
func (r *Registry) Resolve(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Specs returns the OpenAI tool declarations for every registered tool,
// suitable for passing on a chat-completion request.
func (r *Registry) Specs() []openai.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]openai.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return specs
}
