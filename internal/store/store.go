// Package store persists conversation history and derived state in Redis.
package store

import (
	"context"

	"github.com/careline-ai/careline/internal/llm"
	"github.com/careline-ai/careline/internal/track"
)

// Store manages conversation persistence.
type Store interface {
	// AppendMessage appends a message to a conversation, creating the
	// conversation if needed. If userID is non-empty the conversation is
	// bound to that user.
	AppendMessage(ctx context.Context, conversationID string, msg llm.Message, userID string) error

	// Messages returns the full message history for a conversation.
	// A missing conversation yields an empty slice, not an error.
	// Reading refreshes the conversation's TTL and index position.
	Messages(ctx context.Context, conversationID string) ([]llm.Message, error)

	// State returns the derived state for a conversation. A missing
	// conversation yields a zero-value state.
	State(ctx context.Context, conversationID string) (*track.State, error)

	// Clear deletes a conversation's messages and resets its derived
	// state, keeping the metadata. It reports whether the conversation
	// existed; clearing an absent conversation is not an error.
	Clear(ctx context.Context, conversationID string) (bool, error)

	// GetOrCreateConversationID returns the conversation bound to userID,
	// or a fresh ID (bound to the user when userID is non-empty).
	GetOrCreateConversationID(ctx context.Context, userID string) (string, error)

	// BindUser associates a user with a conversation. It reports whether
	// the binding changed.
	BindUser(ctx context.Context, conversationID, userID string) (bool, error)
}
