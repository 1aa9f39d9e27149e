package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/careline-ai/careline/internal/infoservice"
	"github.com/careline-ai/careline/internal/llm"
)

// LookupToolName is the function name the model uses to search providers.
const LookupToolName = "provider_lookup"

// LookupDefinition describes the provider lookup tool to the model.
func LookupDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        LookupToolName,
		Description: "Get information about doctors including their availability, specialties, diagnostic tests, pricing, and timings.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "User's query about doctors, specialties, hospitals, or medical services",
				},
				"location": map[string]any{
					"type":        "string",
					"description": "Location or city where the user is looking for doctors",
				},
				"specialty": map[string]any{
					"type":        "string",
					"description": "Medical specialty the user is looking for (e.g., cardiologist, dermatologist)",
				},
				"symptoms": map[string]any{
					"type":        "string",
					"description": "Symptoms the user is experiencing",
				},
			},
			"required": []string{"query"},
		},
	}
}

// LookupTool answers provider searches through the information service.
type LookupTool struct {
	service *infoservice.Service
	logger  *slog.Logger
}

// NewLookupTool creates the provider lookup executor.
func NewLookupTool(service *infoservice.Service, logger *slog.Logger) *LookupTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &LookupTool{service: service, logger: logger}
}

// Execute builds a natural-language prompt from the model's arguments and
// queries the information service. Service failures are embedded as
// human-readable text in service_info; the call itself never fails.
func (t *LookupTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	query := strings.TrimSpace(stringArg(input, "query"))
	location := strings.TrimSpace(stringArg(input, "location"))
	specialty := strings.TrimSpace(stringArg(input, "specialty"))
	symptoms := strings.TrimSpace(stringArg(input, "symptoms"))

	if query == "" {
		query = "information about doctors"
	}

	prompt := buildLookupPrompt(query, location, specialty, symptoms)
	t.logger.Info("provider lookup", "prompt", prompt)

	result := t.service.Lookup(ctx, prompt)

	serviceInfo := result.Data
	if !result.Success {
		t.logger.Warn("info service lookup failed", "error", result.ErrorCode)
		serviceInfo = result.Message
	}

	payload, err := json.Marshal(map[string]any{
		"service_info": serviceInfo,
		"location":     location,
		"specialty":    specialty,
		"symptoms":     symptoms,
		"query":        query,
	})
	if err != nil {
		return "", fmt.Errorf("marshal lookup result: %w", err)
	}
	return string(payload), nil
}

func buildLookupPrompt(query, location, specialty, symptoms string) string {
	parts := []string{"I need information about"}

	if specialty != "" {
		parts = append(parts, specialty+" doctors")
	} else {
		parts = append(parts, "doctors")
	}
	if location != "" {
		parts = append(parts, "in "+location)
	}
	if symptoms != "" {
		parts = append(parts, "for treating "+symptoms)
	}
	parts = append(parts, ". "+query)

	return strings.Join(parts, " ")
}

func stringArg(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}
