package engine

import (
	"github.com/careline-ai/careline/internal/llm"
)

// prepareMessages builds the completion message list: the rendered system
// prompt first, then the stored history with two repairs applied. Stored
// system prompts identical to the current one are dropped (the prompt is
// re-rendered each turn, not replayed from history), and tool results whose
// originating call is missing are dropped, since providers reject tool
// messages with no matching tool_calls entry.
func prepareMessages(history []llm.Message, systemPrompt string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.System(systemPrompt))

	seenCalls := make(map[string]bool)
	for _, msg := range history {
		switch msg.Role {
		case llm.RoleSystem:
			if msg.Content == systemPrompt {
				continue
			}
			messages = append(messages, msg)

		case llm.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				seenCalls[tc.ID] = true
			}
			messages = append(messages, msg)

		case llm.RoleTool:
			if msg.ToolCallID == "" || !seenCalls[msg.ToolCallID] {
				continue
			}
			messages = append(messages, msg)

		case llm.RoleUser:
			messages = append(messages, msg)
		}
	}

	return messages
}
