package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/careline-ai/careline/internal/infoservice"
	"github.com/careline-ai/careline/internal/llm"
)

type stubExecutor struct {
	result string
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (s *stubExecutor) Execute(ctx context.Context, input map[string]any) (string, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.result, s.err
}

func decodePayload(t *testing.T, content string) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		t.Fatalf("payload %q not JSON: %v", content, err)
	}
	return payload
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), llm.ToolCall{ID: "c1", Name: "nope"})
	if err == nil {
		t.Fatal("want error for unregistered tool")
	}
}

func TestExecuteConcurrentPreservesOrderAndIsolatesFailures(t *testing.T) {
	r := NewRegistry()
	ok := &stubExecutor{result: `{"success":true}`, delay: 20 * time.Millisecond}
	broken := &stubExecutor{err: errors.New("exploded")}
	r.Register(llm.ToolDefinition{Name: "slow_ok"}, ok)
	r.Register(llm.ToolDefinition{Name: "broken"}, broken)

	results := r.ExecuteConcurrent(context.Background(), []llm.ToolCall{
		{ID: "c1", Name: "slow_ok"},
		{ID: "c2", Name: "broken"},
	})

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].CallID != "c1" || results[1].CallID != "c2" {
		t.Errorf("order = %q, %q", results[0].CallID, results[1].CallID)
	}

	// The failing call is reported as a structured payload, and the slow
	// successful sibling still completes.
	payload := decodePayload(t, results[1].Content)
	if payload["success"] != false || payload["error"] != "execution_error" {
		t.Errorf("failure payload = %v", payload)
	}
	if results[0].Content != `{"success":true}` {
		t.Errorf("sibling result = %q", results[0].Content)
	}
}

func TestLookupToolBuildsPrompt(t *testing.T) {
	mock := llm.NewMockClient(llm.MockResponse{Content: "Dr. Hany, cardiologist, available Tuesdays"})
	svc := infoservice.New(mock, "m", "info prompt")
	tool := NewLookupTool(svc, nil)

	content, err := tool.Execute(context.Background(), map[string]any{
		"query":     "who is available this week",
		"location":  "Cairo",
		"specialty": "cardiology",
		"symptoms":  "chest pain",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	payload := decodePayload(t, content)
	if payload["service_info"] != "Dr. Hany, cardiologist, available Tuesdays" {
		t.Errorf("service_info = %v", payload["service_info"])
	}
	if payload["location"] != "Cairo" || payload["specialty"] != "cardiology" {
		t.Errorf("echoed params = %v", payload)
	}

	prompt := mock.Calls()[0].Messages[1].Content
	want := "I need information about cardiology doctors in Cairo for treating chest pain . who is available this week"
	if prompt != want {
		t.Errorf("prompt = %q, want %q", prompt, want)
	}
}

func TestLookupToolDefaultsEmptyQuery(t *testing.T) {
	mock := llm.NewMockClient(llm.MockResponse{Content: "info"})
	svc := infoservice.New(mock, "m", "p")
	tool := NewLookupTool(svc, nil)

	content, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	payload := decodePayload(t, content)
	if payload["query"] != "information about doctors" {
		t.Errorf("query = %v", payload["query"])
	}
}

func TestLookupToolEmbedsServiceFailure(t *testing.T) {
	mock := llm.NewMockClient(llm.MockResponse{Error: errors.New("upstream down")})
	svc := infoservice.New(mock, "m", "p")
	tool := NewLookupTool(svc, nil)

	content, err := tool.Execute(context.Background(), map[string]any{"query": "find doctors"})
	if err != nil {
		t.Fatalf("Execute() error = %v, failures must be embedded", err)
	}

	payload := decodePayload(t, content)
	info, _ := payload["service_info"].(string)
	if info == "" {
		t.Errorf("service_info empty on failure, payload = %v", payload)
	}
}

func confirmInput() map[string]any {
	return map[string]any{
		"patient_details": map[string]any{
			"name": "Aya Mostafa", "age": float64(34), "gender": "female", "phone": "+20100000000",
		},
		"appointment_details": map[string]any{
			"doctor_id": "d-7", "doctor_name": "Dr. Hany", "hospital_name": "City Hospital",
			"appointment_date": "2025-04-01", "appointment_time": "14:30", "symptoms": "chest pain",
		},
	}
}

func identityCtx() context.Context {
	return WithIdentity(context.Background(), Identity{UserID: "user-1", ConversationID: "conv-1"})
}

func TestConfirmToolSuccess(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = w.Write([]byte(`{"booking_id":"b-1"}`))
	}))
	defer srv.Close()

	tool := NewConfirmTool(srv.URL, nil, nil)
	content, err := tool.Execute(identityCtx(), confirmInput())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	payload := decodePayload(t, content)
	if payload["success"] != true {
		t.Fatalf("payload = %v", payload)
	}

	// Identity comes from the request context, not from the model.
	if received["user_id"] != "user-1" || received["conversation_id"] != "conv-1" {
		t.Errorf("webhook payload identity = %v", received)
	}
	if _, ok := received["patient_details"].(map[string]any); !ok {
		t.Errorf("webhook payload missing patient details: %v", received)
	}
}

func TestConfirmToolWebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tool := NewConfirmTool(srv.URL, nil, nil)
	content, err := tool.Execute(identityCtx(), confirmInput())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	payload := decodePayload(t, content)
	if payload["success"] != false || payload["error"] != "api_error" {
		t.Errorf("payload = %v, want api_error", payload)
	}
}

func TestConfirmToolNetworkError(t *testing.T) {
	tool := NewConfirmTool("http://127.0.0.1:1/webhook", nil, nil)
	content, err := tool.Execute(identityCtx(), confirmInput())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	payload := decodePayload(t, content)
	if payload["error"] != "network_error" {
		t.Errorf("payload = %v, want network_error", payload)
	}
}

func TestConfirmToolMissingIdentity(t *testing.T) {
	tool := NewConfirmTool("http://unused", nil, nil)
	content, err := tool.Execute(context.Background(), confirmInput())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	payload := decodePayload(t, content)
	if payload["error"] != "missing_fields" {
		t.Errorf("payload = %v, want missing_fields", payload)
	}
}

func TestConfirmToolMissingPatientFields(t *testing.T) {
	input := confirmInput()
	patient := input["patient_details"].(map[string]any)
	delete(patient, "phone")

	tool := NewConfirmTool("http://unused", nil, nil)
	content, err := tool.Execute(identityCtx(), input)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	payload := decodePayload(t, content)
	if payload["error"] != "missing_fields" {
		t.Errorf("payload = %v, want missing_fields", payload)
	}
}

func TestConfirmToolMalformedDetails(t *testing.T) {
	tool := NewConfirmTool("http://unused", nil, nil)
	content, err := tool.Execute(identityCtx(), map[string]any{
		"patient_details":     "not an object",
		"appointment_details": map[string]any{},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	payload := decodePayload(t, content)
	if payload["error"] != "invalid_arguments" {
		t.Errorf("payload = %v, want invalid_arguments", payload)
	}
}
