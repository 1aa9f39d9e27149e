package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/careline-ai/careline/internal/llm"
)

// ConfirmToolName is the function name the model uses to book appointments.
const ConfirmToolName = "appointment_confirm"

var patientFields = []string{"name", "age", "gender", "phone"}

var appointmentFields = []string{
	"doctor_id", "doctor_name", "hospital_name",
	"appointment_date", "appointment_time", "symptoms",
}

// ConfirmDefinition describes the appointment confirmation tool to the model.
// The user and conversation IDs are deliberately absent from the schema; they
// come from the request identity, not from the model.
func ConfirmDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ConfirmToolName,
		Description: "Send appointment confirmation to the backend server.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"patient_details": map[string]any{
					"type":        "object",
					"description": "Details of the patient",
					"properties": map[string]any{
						"name":   map[string]any{"type": "string", "description": "Patient's full name"},
						"age":    map[string]any{"type": "integer", "description": "Patient's age"},
						"gender": map[string]any{"type": "string", "description": "Patient's gender"},
						"phone":  map[string]any{"type": "string", "description": "Patient's contact number"},
					},
					"required": patientFields,
				},
				"appointment_details": map[string]any{
					"type":        "object",
					"description": "Details of the appointment",
					"properties": map[string]any{
						"doctor_id":        map[string]any{"type": "string", "description": "ID of the selected doctor"},
						"doctor_name":      map[string]any{"type": "string", "description": "Name of the selected doctor"},
						"hospital_name":    map[string]any{"type": "string", "description": "Name of the hospital"},
						"appointment_date": map[string]any{"type": "string", "description": "Date of the appointment (YYYY-MM-DD)"},
						"appointment_time": map[string]any{"type": "string", "description": "Time of the appointment (HH:MM)"},
						"symptoms":         map[string]any{"type": "string", "description": "Patient's symptoms"},
					},
					"required": appointmentFields,
				},
			},
			"required": []string{"patient_details", "appointment_details"},
		},
	}
}

// ConfirmTool posts appointment confirmations to an external webhook.
type ConfirmTool struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewConfirmTool creates the appointment confirmation executor.
func NewConfirmTool(webhookURL string, httpClient *http.Client, logger *slog.Logger) *ConfirmTool {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfirmTool{webhookURL: webhookURL, httpClient: httpClient, logger: logger}
}

// Execute validates the confirmation details and posts them to the webhook.
// All failure modes are reported in the payload under a machine-readable
// error code: invalid_arguments, missing_fields, network_error, or api_error.
func (t *ConfirmTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	patient, ok := input["patient_details"].(map[string]any)
	if !ok {
		return errorPayload("invalid_arguments", "Failed to parse appointment confirmation details."), nil
	}
	appointment, ok := input["appointment_details"].(map[string]any)
	if !ok {
		return errorPayload("invalid_arguments", "Failed to parse appointment confirmation details."), nil
	}

	identity, _ := IdentityFrom(ctx)
	if identity.UserID == "" || identity.ConversationID == "" {
		t.logger.Error("confirmation requested without request identity")
		return errorPayload("missing_fields", "Missing required fields in appointment confirmation request."), nil
	}

	if missing := missingKeys(patient, patientFields); len(missing) > 0 {
		return errorPayload("missing_fields",
			fmt.Sprintf("Missing required patient details: %v.", missing)), nil
	}
	if missing := missingKeys(appointment, appointmentFields); len(missing) > 0 {
		return errorPayload("missing_fields",
			fmt.Sprintf("Missing required appointment details: %v.", missing)), nil
	}

	payload, err := json.Marshal(map[string]any{
		"user_id":             identity.UserID,
		"conversation_id":     identity.ConversationID,
		"patient_details":     patient,
		"appointment_details": appointment,
	})
	if err != nil {
		return errorPayload("invalid_arguments", "Failed to encode appointment confirmation details."), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return errorPayload("invalid_arguments", "Failed to build confirmation request."), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Error("confirmation webhook unreachable", "error", err)
		return errorPayload("network_error", "Failed to connect to confirmation service. Please try again."), nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var responseData any
	if err := json.Unmarshal(body, &responseData); err != nil {
		responseData = map[string]any{"message": string(body)}
	}

	if resp.StatusCode != http.StatusOK {
		t.logger.Error("confirmation webhook rejected request", "status", resp.StatusCode)
		return errorPayload("api_error",
			fmt.Sprintf("Failed to confirm appointment. Status: %d", resp.StatusCode)), nil
	}

	success, _ := json.Marshal(map[string]any{
		"success": true,
		"message": "Appointment confirmed successfully",
		"data":    responseData,
	})
	return string(success), nil
}

func missingKeys(m map[string]any, keys []string) []string {
	var missing []string
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil || v == "" {
			missing = append(missing, k)
		}
	}
	return missing
}
