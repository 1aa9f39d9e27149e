// Package llm defines the chat-completion client abstraction for the careline backend.
package llm

import (
	"context"
	"fmt"
)

// Role represents a message sender role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopToolUse   StopReason = "tool_use"
)

// Message represents a single conversation turn. Which fields are legal
// depends on the role: ToolCalls only on assistant messages, ToolCallID only
// on tool messages. Use the constructors below rather than filling the struct
// by hand; Validate enforces the variant rules.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// System constructs a system message.
func System(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// User constructs a user message.
func User(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// Assistant constructs a plain assistant message.
func Assistant(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// AssistantToolCalls constructs an assistant message that carries only tool
// call requests. Content is empty: such messages have no user-facing text.
func AssistantToolCalls(calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, ToolCalls: calls}
}

// Tool constructs a tool-result message referencing the originating call ID.
func Tool(callID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: content}
}

// Validate checks that the message carries exactly the fields legal for its role.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser:
		if len(m.ToolCalls) > 0 || m.ToolCallID != "" {
			return fmt.Errorf("llm: %s message must not carry tool fields", m.Role)
		}
	case RoleAssistant:
		if m.ToolCallID != "" {
			return fmt.Errorf("llm: assistant message must not carry a tool_call_id")
		}
		if m.Content == "" && len(m.ToolCalls) == 0 {
			return fmt.Errorf("llm: assistant message must carry content or tool calls")
		}
	case RoleTool:
		if m.ToolCallID == "" {
			return fmt.Errorf("llm: tool message must reference a tool_call_id")
		}
		if len(m.ToolCalls) > 0 {
			return fmt.Errorf("llm: tool message must not carry tool calls")
		}
	default:
		return fmt.Errorf("llm: unknown role %q", m.Role)
	}
	return nil
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall represents the model requesting a tool invocation.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// TokenUsage tracks token consumption for a single call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns the sum of all token fields.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// ChatRequest contains parameters for a chat-completion call.
type ChatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature *float64         `json:"temperature,omitempty"`

	// JSONResponse asks the provider to constrain output to a single JSON
	// object, where the provider supports a response format parameter.
	JSONResponse bool `json:"json_response,omitempty"`
}

// ChatResponse contains the model's response to a chat request.
type ChatResponse struct {
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason StopReason `json:"stop_reason"`
	Usage      TokenUsage `json:"usage"`
}

// Client is the interface for chat-completion interactions.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
