package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIClient implements Client using the OpenAI-compatible chat completions API.
// Works with OpenAI, Ollama, vLLM, LiteLLM, and any OpenAI-compatible endpoint.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// OpenAIOption configures the OpenAI client.
type OpenAIOption func(*OpenAIClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(o *OpenAIClient) { o.httpClient = c }
}

// NewOpenAIClient creates a client for the OpenAI API.
func NewOpenAIClient(apiKey string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		baseURL:    "https://api.openai.com/v1",
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewOllamaClient creates a client for a local Ollama instance.
func NewOllamaClient(host string, opts ...OpenAIOption) *OpenAIClient {
	if host == "" {
		host = "http://localhost:11434"
	}
	c := &OpenAIClient{
		baseURL:    strings.TrimRight(host, "/") + "/v1",
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewOpenAICompatibleClient creates a client for any OpenAI-compatible endpoint.
func NewOpenAICompatibleClient(baseURL, apiKey string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- OpenAI API request/response types ---

type oaiRequest struct {
	Model          string       `json:"model"`
	Messages       []oaiMessage `json:"messages"`
	Tools          []oaiTool    `json:"tools,omitempty"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	Temperature    *float64     `json:"temperature,omitempty"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
}

type oaiFormat struct {
	Type string `json:"type"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    *string       `json:"content"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters,omitempty"`
}

type oaiToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function oaiToolCallFunc `json:"function"`
}

type oaiToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
	Error   *oaiError   `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w: %v", ErrConnection, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp.StatusCode, resp.Body)
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}

	if oaiResp.Error != nil {
		return nil, fmt.Errorf("openai: %s: %s", oaiResp.Error.Type, oaiResp.Error.Message)
	}

	return c.parseResponse(&oaiResp), nil
}

func (c *OpenAIClient) statusError(status int, body io.Reader) error {
	var detail string
	var oaiErr oaiResponse
	if err := json.NewDecoder(body).Decode(&oaiErr); err == nil && oaiErr.Error != nil {
		detail = fmt.Sprintf(": %s: %s", oaiErr.Error.Type, oaiErr.Error.Message)
	}

	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("openai: HTTP %d%s: %w", status, detail, ErrRateLimited)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("openai: HTTP %d%s: %w", status, detail, ErrAuthentication)
	default:
		return fmt.Errorf("openai: HTTP %d%s", status, detail)
	}
}

func (c *OpenAIClient) buildRequest(req ChatRequest) oaiRequest {
	messages := make([]oaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := oaiMessage{Role: string(m.Role)}
		switch m.Role {
		case RoleTool:
			content := m.Content
			msg.Content = &content
			msg.ToolCallID = m.ToolCallID
		case RoleAssistant:
			if m.Content != "" {
				content := m.Content
				msg.Content = &content
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Input)
				msg.ToolCalls = append(msg.ToolCalls, oaiToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: oaiToolCallFunc{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
		default:
			content := m.Content
			msg.Content = &content
		}
		messages = append(messages, msg)
	}

	oaiReq := oaiRequest{
		Model:    req.Model,
		Messages: messages,
	}

	if req.MaxTokens > 0 {
		oaiReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		oaiReq.Temperature = req.Temperature
	}
	if req.JSONResponse {
		oaiReq.ResponseFormat = &oaiFormat{Type: "json_object"}
	}

	for _, t := range req.Tools {
		oaiReq.Tools = append(oaiReq.Tools, oaiTool{
			Type: "function",
			Function: oaiFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	return oaiReq
}

func (c *OpenAIClient) parseResponse(resp *oaiResponse) *ChatResponse {
	usage := TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}

	if len(resp.Choices) == 0 {
		return &ChatResponse{StopReason: StopEndTurn, Usage: usage}
	}

	choice := resp.Choices[0]
	result := &ChatResponse{
		StopReason: mapOAIStopReason(choice.FinishReason),
		Usage:      usage,
	}
	if choice.Message.Content != nil {
		result.Content = *choice.Message.Content
	}

	for _, tc := range choice.Message.ToolCalls {
		input := make(map[string]any)
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}

	return result
}

func mapOAIStopReason(reason string) StopReason {
	switch reason {
	case "length":
		return StopMaxTokens
	case "tool_calls":
		return StopToolUse
	default:
		return StopEndTurn
	}
}
