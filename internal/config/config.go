// Package config loads service configuration from YAML with environment
// overrides for deployment-specific values and secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	LLM         LLMConfig         `yaml:"llm"`
	InfoService InfoServiceConfig `yaml:"info_service"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// APIKey protects the API endpoints. Empty disables authentication,
	// intended for local development only.
	APIKey string `yaml:"api_key"`
}

// RedisConfig holds the conversation store settings.
type RedisConfig struct {
	Addr             string `yaml:"addr"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	TLS              bool   `yaml:"tls"`
	TTLHours         int    `yaml:"ttl_hours"`
	MaxConversations int    `yaml:"max_conversations"`
}

// TTL returns the conversation expiry as a duration.
func (c RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// LLMConfig holds the primary completion model settings.
type LLMConfig struct {
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// InfoServiceConfig holds the secondary provider-information model settings.
type InfoServiceConfig struct {
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// WebhookConfig holds external webhook endpoints.
type WebhookConfig struct {
	ConfirmationURL string `yaml:"confirmation_url"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8000",
		},
		Redis: RedisConfig{
			Addr:             "localhost:6379",
			TTLHours:         24,
			MaxConversations: 1000,
		},
		LLM: LLMConfig{
			Model:       "gpt-4.1-mini",
			Temperature: 0.7,
			MaxTokens:   1024,
		},
		InfoService: InfoServiceConfig{
			Model:       "gpt-4.1-mini",
			Temperature: 0.7,
			MaxTokens:   2048,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "CARELINE_ADDR")
	setString(&c.Server.APIKey, "CARELINE_API_KEY")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Username, "REDIS_USERNAME")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setBool(&c.Redis.TLS, "REDIS_TLS")
	setString(&c.LLM.Model, "CARELINE_MODEL")
	setString(&c.LLM.APIKey, "OPENAI_API_KEY")
	setString(&c.LLM.BaseURL, "OPENAI_BASE_URL")
	setString(&c.InfoService.Model, "CARELINE_INFO_MODEL")
	setString(&c.Webhook.ConfirmationURL, "CONFIRMATION_WEBHOOK_URL")
	setString(&c.Log.Level, "CARELINE_LOG_LEVEL")
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required")
	}
	if c.Redis.TTLHours <= 0 {
		return fmt.Errorf("config: redis.ttl_hours must be positive, got %d", c.Redis.TTLHours)
	}
	if c.Redis.MaxConversations <= 0 {
		return fmt.Errorf("config: redis.max_conversations must be positive, got %d", c.Redis.MaxConversations)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("config: llm.model is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
