// Package infoservice queries a secondary model for healthcare provider
// information. Failures are reported in the result payload rather than as
// errors, so callers can always embed the outcome in a tool response.
package infoservice

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/careline-ai/careline/internal/llm"
)

// Result is the structured outcome of a lookup.
type Result struct {
	Success bool   `json:"success"`
	Data    string `json:"data,omitempty"`
	Query   string `json:"query,omitempty"`
	// ErrorCode is a machine-readable failure class: configuration_error,
	// invalid_response, or api_error.
	ErrorCode string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Service wraps a secondary LLM used as a provider-information source.
type Service struct {
	client      llm.Client
	model       string
	prompt      string
	maxTokens   int
	temperature float64
	logger      *slog.Logger
	group       singleflight.Group
	now         func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMaxTokens sets the completion token cap.
func WithMaxTokens(n int) ServiceOption {
	return func(s *Service) { s.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ServiceOption {
	return func(s *Service) { s.temperature = t }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// New creates an information service. promptTemplate may contain
// {current_date}, {current_time}, and {current_day} placeholders, which are
// substituted at lookup time.
func New(client llm.Client, model, promptTemplate string, opts ...ServiceOption) *Service {
	s := &Service{
		client:      client,
		model:       model,
		prompt:      promptTemplate,
		maxTokens:   2048,
		temperature: 0.7,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup queries the information service with a natural-language prompt.
// Identical prompts in flight are collapsed into a single upstream call.
func (s *Service) Lookup(ctx context.Context, prompt string) Result {
	if s.client == nil {
		s.logger.Error("info service has no client configured")
		return Result{
			Success:   false,
			ErrorCode: "configuration_error",
			Message:   "Unable to retrieve healthcare information due to a configuration issue.",
		}
	}

	v, _, _ := s.group.Do(prompt, func() (any, error) {
		return s.lookup(ctx, prompt), nil
	})
	return v.(Result)
}

func (s *Service) lookup(ctx context.Context, prompt string) Result {
	temp := s.temperature
	resp, err := s.client.Chat(ctx, llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{
			llm.System(s.renderPrompt()),
			llm.User(prompt),
		},
		MaxTokens:   s.maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		s.logger.Error("info service call failed", "error", err)
		return Result{
			Success:   false,
			ErrorCode: "api_error",
			Message:   "Unable to retrieve healthcare information due to an API error.",
		}
	}

	if resp.Content == "" {
		s.logger.Error("info service returned empty content")
		return Result{
			Success:   false,
			ErrorCode: "invalid_response",
			Message:   "No information available at this time.",
		}
	}

	return Result{
		Success: true,
		Data:    CleanResponseText(resp.Content),
		Query:   prompt,
	}
}

func (s *Service) renderPrompt() string {
	now := s.now()
	p := strings.ReplaceAll(s.prompt, "{current_date}", now.Format("02-01-2006"))
	p = strings.ReplaceAll(p, "{current_time}", now.Format("15:04"))
	return strings.ReplaceAll(p, "{current_day}", now.Format("Monday"))
}

// CleanResponseText strips markdown code fences and trailing commas that
// models commonly emit around JSON payloads. Output that still fails to
// parse as JSON is returned as-is and treated as plain text downstream.
func CleanResponseText(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") && strings.HasSuffix(text, "```") {
		text = strings.TrimSpace(text[7 : len(text)-3])
	} else if strings.HasPrefix(text, "```") && strings.HasSuffix(text, "```") {
		text = strings.TrimSpace(text[3 : len(text)-3])
	}

	text = strings.ReplaceAll(text, ",\n}", "\n}")
	text = strings.ReplaceAll(text, ",\n]", "\n]")
	return text
}
