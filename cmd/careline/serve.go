package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/careline-ai/careline/internal/config"
	"github.com/careline-ai/careline/internal/engine"
	"github.com/careline-ai/careline/internal/infoservice"
	"github.com/careline-ai/careline/internal/llm"
	"github.com/careline-ai/careline/internal/server"
	"github.com/careline-ai/careline/internal/store"
	"github.com/careline-ai/careline/internal/telemetry"
	"github.com/careline-ai/careline/internal/tools"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the careline API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	return cmd
}

func serve(cfg *config.Config) error {
	logger := telemetry.NewLogger(os.Stdout, telemetry.ParseLevel(cfg.Log.Level))
	metrics := telemetry.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := store.Dial(ctx, store.DialConfig{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		TLS:      cfg.Redis.TLS,
	})
	if err != nil {
		return err
	}
	defer redisClient.Close()

	conversations := store.NewRedisStore(redisClient,
		store.WithTTL(cfg.Redis.TTL()),
		store.WithMaxConversations(cfg.Redis.MaxConversations),
		store.WithLookupTool(tools.LookupToolName),
		store.WithLogger(logger),
		store.WithEvictionHook(metrics.RecordEvictions),
	)

	chatClient, chatModel := buildClient(cfg.LLM.Model, cfg.LLM.APIKey, cfg.LLM.BaseURL)
	infoClient, infoModel := buildClient(cfg.InfoService.Model, cfg.InfoService.APIKey, cfg.InfoService.BaseURL)

	info := infoservice.New(infoClient, infoModel, config.DefaultInfoServicePrompt,
		infoservice.WithMaxTokens(cfg.InfoService.MaxTokens),
		infoservice.WithTemperature(cfg.InfoService.Temperature),
		infoservice.WithLogger(logger),
	)

	registry := tools.NewRegistry()
	registry.Register(tools.LookupDefinition(), tools.NewLookupTool(info, logger))
	if cfg.Webhook.ConfirmationURL == "" {
		logger.Warn("confirmation webhook URL not configured, appointment confirmations will fail")
	}
	registry.Register(tools.ConfirmDefinition(), tools.NewConfirmTool(cfg.Webhook.ConfirmationURL, nil, logger))

	eng := engine.New(conversations, chatClient, registry, chatModel,
		func(now time.Time) string {
			return config.RenderPrompt(config.DefaultSystemPrompt, now)
		},
		engine.WithTemperature(cfg.LLM.Temperature),
		engine.WithMaxTokens(cfg.LLM.MaxTokens),
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
	)

	srv := server.NewServer(eng,
		server.WithAPIKey(cfg.Server.APIKey),
		server.WithLogger(logger),
		server.WithMetrics(metrics),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(cfg.Server.Addr); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Let in-flight state derivations settle before exiting.
	conversations.Flush()
	return nil
}

// buildClient constructs the LLM client for a configured model, preferring
// explicit config values over environment lookups.
func buildClient(model, apiKey, baseURL string) (llm.Client, string) {
	provider, name := llm.ParseModelString(model)

	switch provider {
	case llm.ProviderAnthropic:
		if apiKey != "" {
			return llm.NewAnthropicClientWithKey(apiKey), name
		}
		return llm.NewAnthropicClient(), name

	case llm.ProviderOllama:
		return llm.NewOllamaClient(os.Getenv("OLLAMA_HOST")), name

	default:
		if baseURL != "" {
			return llm.NewOpenAICompatibleClient(baseURL, apiKey), name
		}
		return llm.NewOpenAIClient(apiKey), name
	}
}
