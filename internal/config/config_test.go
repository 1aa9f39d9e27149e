package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":8000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Redis.TTL() != 24*time.Hour {
		t.Errorf("ttl = %v", cfg.Redis.TTL())
	}
	if cfg.Redis.MaxConversations != 1000 {
		t.Errorf("max conversations = %d", cfg.Redis.MaxConversations)
	}
	if cfg.LLM.Model == "" {
		t.Error("default model empty")
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  addr: ":9090"
  api_key: secret
redis:
  addr: redis.internal:6380
  tls: true
  ttl_hours: 48
llm:
  model: gpt-4.1
  temperature: 0.2
webhook:
  confirmation_url: https://hooks.example.com/confirm
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":9090" || cfg.Server.APIKey != "secret" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Redis.Addr != "redis.internal:6380" || !cfg.Redis.TLS || cfg.Redis.TTLHours != 48 {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.LLM.Model != "gpt-4.1" || cfg.LLM.Temperature != 0.2 {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Webhook.ConfirmationURL != "https://hooks.example.com/confirm" {
		t.Errorf("webhook = %+v", cfg.Webhook)
	}
	// Unset fields keep their defaults.
	if cfg.Redis.MaxConversations != 1000 {
		t.Errorf("max conversations = %d, want default", cfg.Redis.MaxConversations)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "env-redis:6379")
	t.Setenv("CARELINE_API_KEY", "env-key")
	t.Setenv("REDIS_TLS", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Redis.Addr != "env-redis:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Server.APIKey != "env-key" {
		t.Errorf("api key = %q", cfg.Server.APIKey)
	}
	if !cfg.Redis.TLS {
		t.Error("redis tls not overridden")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Redis.TTLHours = 0
	if err := cfg.Validate(); err == nil {
		t.Error("want error for zero TTL")
	}

	cfg = Default()
	cfg.LLM.Model = ""
	if err := cfg.Validate(); err == nil {
		t.Error("want error for missing model")
	}
}

func TestRenderPrompt(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	got := RenderPrompt("On {current_day} {current_date} at {current_time}.", now)
	want := "On Friday 14-03-2025 at 09:30."
	if got != want {
		t.Errorf("RenderPrompt() = %q, want %q", got, want)
	}

	rendered := RenderPrompt(DefaultSystemPrompt, now)
	if strings.Contains(rendered, "{current_") {
		t.Error("system prompt placeholders not fully substituted")
	}
}
