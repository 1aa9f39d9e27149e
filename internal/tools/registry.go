// Package tools implements the tool execution registry for the careline engine.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/careline-ai/careline/internal/llm"
)

// Executor executes a tool call and returns the result as a JSON string.
type Executor interface {
	Execute(ctx context.Context, input map[string]any) (string, error)
}

// Result is the outcome of one tool call. Content is always a JSON payload;
// executor failures are embedded as error payloads rather than surfaced as
// Go errors, so one failing call never loses its siblings' results.
type Result struct {
	CallID  string
	Name    string
	Content string
}

// Registry manages tool executors and dispatches tool calls.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	tools     map[string]llm.ToolDefinition
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		tools:     make(map[string]llm.ToolDefinition),
	}
}

// Register adds a tool executor to the registry.
func (r *Registry) Register(def llm.ToolDefinition, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[def.Name] = executor
	r.tools[def.Name] = def
}

// Execute dispatches a tool call to its registered executor.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	r.mu.RLock()
	executor, ok := r.executors[call.Name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("tool %q not registered", call.Name)
	}

	return executor.Execute(ctx, call.Input)
}

// ExecuteConcurrent dispatches multiple tool calls concurrently. Results are
// returned in call order, each carrying its originating call ID.
func (r *Registry) ExecuteConcurrent(ctx context.Context, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc llm.ToolCall) {
			defer wg.Done()
			content, err := r.Execute(ctx, tc)
			if err != nil {
				content = errorPayload("execution_error",
					fmt.Sprintf("Failed to execute tool %s: %v", tc.Name, err))
			}
			results[idx] = Result{CallID: tc.ID, Name: tc.Name, Content: content}
		}(i, call)
	}

	wg.Wait()
	return results
}

// Definitions returns all registered tool definitions.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, d := range r.tools {
		defs = append(defs, d)
	}
	return defs
}

// errorPayload builds the standard tool failure payload.
func errorPayload(code, message string) string {
	data, _ := json.Marshal(map[string]any{
		"success": false,
		"error":   code,
		"message": message,
	})
	return string(data)
}
