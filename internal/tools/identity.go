package tools

import "context"

// Identity carries the request's user and conversation IDs. Tools that call
// external services on the user's behalf read it from the context, so the
// model never has to (and never gets to) supply those IDs itself.
type Identity struct {
	UserID         string
	ConversationID string
}

type identityKey struct{}

// WithIdentity attaches a request identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom extracts the request identity from the context.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
