package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMessageConstructors(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		role Role
	}{
		{"system", System("be helpful"), RoleSystem},
		{"user", User("hello"), RoleUser},
		{"assistant", Assistant("hi there"), RoleAssistant},
		{"assistant tool calls", AssistantToolCalls(ToolCall{ID: "c1", Name: "lookup"}), RoleAssistant},
		{"tool", Tool("c1", `{"ok":true}`), RoleTool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.msg.Role != tt.role {
				t.Errorf("role = %q, want %q", tt.msg.Role, tt.role)
			}
			if err := tt.msg.Validate(); err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"user with tool call id", Message{Role: RoleUser, Content: "x", ToolCallID: "c1"}, true},
		{"system with tool calls", Message{Role: RoleSystem, Content: "x", ToolCalls: []ToolCall{{ID: "c1"}}}, true},
		{"assistant with tool call id", Message{Role: RoleAssistant, Content: "x", ToolCallID: "c1"}, true},
		{"empty assistant", Message{Role: RoleAssistant}, true},
		{"tool without call id", Message{Role: RoleTool, Content: "x"}, true},
		{"tool with tool calls", Message{Role: RoleTool, ToolCallID: "c1", ToolCalls: []ToolCall{{ID: "c2"}}}, true},
		{"unknown role", Message{Role: "robot", Content: "x"}, true},
		{"valid tool", Tool("c1", "result"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseModelString(t *testing.T) {
	tests := []struct {
		input        string
		wantProvider Provider
		wantModel    string
	}{
		{"openai/gpt-4.1-mini", ProviderOpenAI, "gpt-4.1-mini"},
		{"ollama/llama3.2", ProviderOllama, "llama3.2"},
		{"anthropic/claude-sonnet-4-20250514", ProviderAnthropic, "claude-sonnet-4-20250514"},
		{"claude-sonnet-4-20250514", ProviderAnthropic, "claude-sonnet-4-20250514"},
		{"gpt-4.1-mini", ProviderOpenAI, "gpt-4.1-mini"},
		{"o3-mini", ProviderOpenAI, "o3-mini"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			provider, model := ParseModelString(tt.input)
			if provider != tt.wantProvider {
				t.Errorf("provider = %q, want %q", provider, tt.wantProvider)
			}
			if model != tt.wantModel {
				t.Errorf("model = %q, want %q", model, tt.wantModel)
			}
		})
	}
}

func TestOpenAIChat(t *testing.T) {
	var got oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth header = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		content := "hello back"
		resp := oaiResponse{
			Choices: []oaiChoice{{
				Message:      oaiMessage{Role: "assistant", Content: &content},
				FinishReason: "stop",
			}},
			Usage: oaiUsage{PromptTokens: 12, CompletionTokens: 4},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewOpenAICompatibleClient(srv.URL, "test-key")
	temp := 0.3
	resp, err := client.Chat(context.Background(), ChatRequest{
		Model:        "gpt-4.1-mini",
		Messages:     []Message{System("sys"), User("hello")},
		MaxTokens:    256,
		Temperature:  &temp,
		JSONResponse: true,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if resp.Content != "hello back" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.StopReason != StopEndTurn {
		t.Errorf("stop reason = %q", resp.StopReason)
	}
	if resp.Usage.Total() != 16 {
		t.Errorf("usage total = %d, want 16", resp.Usage.Total())
	}

	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %+v, want json_object", got.ResponseFormat)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.Temperature == nil || *got.Temperature != 0.3 {
		t.Errorf("temperature = %v", got.Temperature)
	}
}

func TestOpenAIChatToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := oaiResponse{
			Choices: []oaiChoice{{
				Message: oaiMessage{
					Role: "assistant",
					ToolCalls: []oaiToolCall{{
						ID:   "call_1",
						Type: "function",
						Function: oaiToolCallFunc{
							Name:      "provider_lookup",
							Arguments: `{"specialty":"cardiology"}`,
						},
					}},
				},
				FinishReason: "tool_calls",
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewOpenAICompatibleClient(srv.URL, "")
	resp, err := client.Chat(context.Background(), ChatRequest{
		Model:    "gpt-4.1-mini",
		Messages: []Message{User("find me a cardiologist")},
		Tools: []ToolDefinition{{
			Name:        "provider_lookup",
			Description: "look up providers",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if resp.StopReason != StopToolUse {
		t.Errorf("stop reason = %q, want %q", resp.StopReason, StopToolUse)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "provider_lookup" || tc.Input["specialty"] != "cardiology" {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestOpenAIErrorClassification(t *testing.T) {
	tests := []struct {
		status   int
		sentinel error
	}{
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusUnauthorized, ErrAuthentication},
		{http.StatusForbidden, ErrAuthentication},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test_error"}}`))
		}))

		client := NewOpenAICompatibleClient(srv.URL, "k")
		_, err := client.Chat(context.Background(), ChatRequest{Model: "m", Messages: []Message{User("hi")}})
		srv.Close()

		if !errors.Is(err, tt.sentinel) {
			t.Errorf("status %d: error = %v, want %v", tt.status, err, tt.sentinel)
		}
	}
}

func TestOpenAIConnectionError(t *testing.T) {
	client := NewOpenAICompatibleClient("http://127.0.0.1:1", "k")
	_, err := client.Chat(context.Background(), ChatRequest{Model: "m", Messages: []Message{User("hi")}})
	if !errors.Is(err, ErrConnection) {
		t.Errorf("error = %v, want %v", err, ErrConnection)
	}
}

func TestMockClientSequence(t *testing.T) {
	mock := NewMockClient(
		MockResponse{Content: "first", StopReason: StopEndTurn},
		MockResponse{Content: "second", StopReason: StopEndTurn},
	)

	ctx := context.Background()
	r1, _ := mock.Chat(ctx, ChatRequest{Messages: []Message{User("a")}})
	r2, _ := mock.Chat(ctx, ChatRequest{Messages: []Message{User("b")}})
	r3, _ := mock.Chat(ctx, ChatRequest{Messages: []Message{User("c")}})

	if r1.Content != "first" || r2.Content != "second" {
		t.Errorf("sequence = %q, %q", r1.Content, r2.Content)
	}
	if r3.Content != "second" {
		t.Errorf("exhausted sequence should repeat last, got %q", r3.Content)
	}
	if calls := mock.Calls(); len(calls) != 3 {
		t.Errorf("calls = %d, want 3", len(calls))
	}
}
