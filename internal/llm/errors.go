package llm

import "errors"

// Sentinel errors classifying provider failures. Callers match with
// errors.Is to select the appropriate user-facing fallback.
var (
	// ErrRateLimited indicates the provider rejected the call for quota reasons.
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrAuthentication indicates the provider rejected the credentials.
	ErrAuthentication = errors.New("llm: authentication failed")

	// ErrConnection indicates the provider could not be reached.
	ErrConnection = errors.New("llm: connection failed")
)
