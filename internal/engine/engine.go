// Package engine orchestrates conversation turns: persistence, the primary
// completion, concurrent tool dispatch, and the follow-up completion that
// folds tool results into a structured reply.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/careline-ai/careline/internal/llm"
	"github.com/careline-ai/careline/internal/response"
	"github.com/careline-ai/careline/internal/store"
	"github.com/careline-ai/careline/internal/telemetry"
	"github.com/careline-ai/careline/internal/tools"
)

// User-facing fallback texts, selected by failure class.
const (
	apologyGeneric     = "I'm sorry, I encountered an error processing your request. Please try again."
	apologyRateLimited = "I'm experiencing high demand right now. Please try again in a few moments."
	apologyAuth        = "There's a configuration issue with the service. Please contact support."
	apologyConnection  = "I'm having trouble connecting to my services. Please check your internet connection and try again."
)

// conversationOpened marks the turn where an existing conversation was first
// bound to a user.
const conversationOpened = "New conversation started"

// Request is one user turn.
type Request struct {
	Text               string
	ConversationID     string
	UserID             string
	PreviousResponseID string
}

// Engine generates structured responses to user turns.
type Engine struct {
	store        store.Store
	client       llm.Client
	registry     *tools.Registry
	logger       *slog.Logger
	metrics      *telemetry.Metrics
	model        string
	temperature  float64
	maxTokens    int
	promptSource func(now time.Time) string
	reminder     string
	now          func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTemperature sets the sampling temperature for both completions.
func WithTemperature(t float64) EngineOption {
	return func(e *Engine) { e.temperature = t }
}

// WithMaxTokens sets the completion token cap.
func WithMaxTokens(n int) EngineOption {
	return func(e *Engine) { e.maxTokens = n }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithSchemaReminder overrides the system reminder injected before the
// second completion.
func WithSchemaReminder(text string) EngineOption {
	return func(e *Engine) { e.reminder = text }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// New creates an engine. promptSource renders the system prompt for a given
// time; the registry supplies the tools offered on the first completion.
func New(st store.Store, client llm.Client, registry *tools.Registry, model string, promptSource func(now time.Time) string, opts ...EngineOption) *Engine {
	e := &Engine{
		store:        st,
		client:       client,
		registry:     registry,
		logger:       slog.Default(),
		model:        model,
		temperature:  0.7,
		maxTokens:    1024,
		promptSource: promptSource,
		reminder:     defaultSchemaReminder,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

const defaultSchemaReminder = "IMPORTANT: Your response MUST be a valid JSON object following one of the schema formats defined earlier. The response should be a single JSON object with the correct structure - no additional text. Use the appropriate structure based on the content type (text, button, list, or call_to_action)."

// Generate runs one conversation turn. It never returns an error: every
// failure mode degrades to a structured text response so the caller always
// has something to deliver.
func (e *Engine) Generate(ctx context.Context, req Request) response.Structured {
	responseID := uuid.NewString()

	conversationID, err := e.resolveConversation(ctx, req)
	if err != nil {
		e.logger.Error("conversation resolution failed", "error", err)
		return response.NewText(apologyGeneric, req.ConversationID, responseID)
	}

	logger := telemetry.RequestLogger(ctx, e.logger, conversationID)

	if err := e.store.AppendMessage(ctx, conversationID, llm.User(req.Text), req.UserID); err != nil {
		logger.Error("failed to persist user message", "error", err)
		return response.NewText(apologyGeneric, conversationID, responseID)
	}

	history, err := e.store.Messages(ctx, conversationID)
	if err != nil {
		logger.Error("failed to load history", "error", err)
		return response.NewText(apologyGeneric, conversationID, responseID)
	}

	systemPrompt := e.promptSource(e.now())
	temp := e.temperature

	first, err := e.client.Chat(ctx, llm.ChatRequest{
		Model:        e.model,
		Messages:     prepareMessages(history, systemPrompt),
		Tools:        e.registry.Definitions(),
		MaxTokens:    e.maxTokens,
		Temperature:  &temp,
		JSONResponse: true,
	})
	if err != nil {
		logger.Error("initial completion failed", "error", err)
		e.recordCompletion("initial", "error")
		return response.NewText(apologyFor(err), conversationID, responseID)
	}
	e.recordCompletion("initial", "ok")
	e.recordTokens(first.Usage)

	var content string
	if len(first.ToolCalls) > 0 {
		content = e.runToolTurn(ctx, logger, conversationID, req.UserID, systemPrompt, first.ToolCalls)
	} else {
		content = first.Content
	}

	if err := e.store.AppendMessage(ctx, conversationID, llm.Assistant(content), req.UserID); err != nil {
		logger.Error("failed to persist assistant message", "error", err)
	}

	return response.Parse(content, conversationID, responseID, logger)
}

// ClearConversation removes a conversation's history.
func (e *Engine) ClearConversation(ctx context.Context, conversationID string) (bool, error) {
	return e.store.Clear(ctx, conversationID)
}

// resolveConversation determines the conversation for this request,
// recording a marker message when an existing conversation is adopted by a
// user for the first time.
func (e *Engine) resolveConversation(ctx context.Context, req Request) (string, error) {
	if req.ConversationID == "" {
		id, err := e.store.GetOrCreateConversationID(ctx, req.UserID)
		if err != nil {
			return "", err
		}
		e.logger.Info("created conversation", "conversation_id", id)
		return id, nil
	}

	if req.UserID != "" {
		changed, err := e.store.BindUser(ctx, req.ConversationID, req.UserID)
		if err != nil {
			return "", err
		}
		if changed {
			if err := e.store.AppendMessage(ctx, req.ConversationID, llm.System(conversationOpened), req.UserID); err != nil {
				return "", err
			}
		}
	}
	return req.ConversationID, nil
}

// runToolTurn executes the requested tools, records the exchange, and runs
// the second completion over the updated history. Its return value is raw
// model output (or a fallback payload), ready for response.Parse.
func (e *Engine) runToolTurn(ctx context.Context, logger *slog.Logger, conversationID, userID, systemPrompt string, calls []llm.ToolCall) string {
	logger.Info("dispatching tool calls", "count", len(calls))

	toolCtx := tools.WithIdentity(ctx, tools.Identity{
		UserID:         userID,
		ConversationID: conversationID,
	})
	results := e.registry.ExecuteConcurrent(toolCtx, calls)
	for _, r := range results {
		e.recordToolCall(r.Name, toolStatus(r.Content))
	}

	if err := e.store.AppendMessage(ctx, conversationID, llm.AssistantToolCalls(calls...), ""); err != nil {
		logger.Error("failed to persist tool call message", "error", err)
	}
	for _, r := range results {
		if err := e.store.AppendMessage(ctx, conversationID, llm.Tool(r.CallID, r.Content), userID); err != nil {
			logger.Error("failed to persist tool result", "tool", r.Name, "error", err)
		}
	}

	history, err := e.store.Messages(ctx, conversationID)
	if err != nil {
		logger.Error("failed to reload history after tools", "error", err)
		return fallbackPayload()
	}

	messages := prepareMessages(history, systemPrompt)
	messages = append(messages, llm.System(e.reminder))

	temp := e.temperature
	second, err := e.client.Chat(ctx, llm.ChatRequest{
		Model:        e.model,
		Messages:     messages,
		MaxTokens:    e.maxTokens,
		Temperature:  &temp,
		JSONResponse: true,
	})
	if err != nil {
		logger.Error("final completion failed", "error", err)
		e.recordCompletion("final", "error")
		return fallbackPayload()
	}
	e.recordCompletion("final", "ok")
	e.recordTokens(second.Usage)

	return second.Content
}

// fallbackPayload is a well-formed text response used when the tool turn
// breaks after results were already recorded.
func fallbackPayload() string {
	data, _ := json.Marshal(map[string]any{
		"type":    "text",
		"content": map[string]any{"text": apologyGeneric},
	})
	return string(data)
}

func apologyFor(err error) string {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return apologyRateLimited
	case errors.Is(err, llm.ErrAuthentication):
		return apologyAuth
	case errors.Is(err, llm.ErrConnection):
		return apologyConnection
	default:
		return apologyGeneric
	}
}

// toolStatus classifies a tool result payload for metrics.
func toolStatus(content string) string {
	var payload struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return "ok"
	}
	if payload.Error != "" || (payload.Success != nil && !*payload.Success) {
		return "error"
	}
	return "ok"
}

func (e *Engine) recordCompletion(phase, status string) {
	if e.metrics != nil {
		e.metrics.RecordCompletion(phase, status)
	}
}

func (e *Engine) recordTokens(usage llm.TokenUsage) {
	if e.metrics != nil {
		e.metrics.RecordTokens(usage.InputTokens, usage.OutputTokens)
	}
}

func (e *Engine) recordToolCall(tool, status string) {
	if e.metrics != nil {
		e.metrics.RecordToolCall(tool, status)
	}
}
