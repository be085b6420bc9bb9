package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/ateska/markdown-notes-mcp/internal/config"
	"github.com/ateska/markdown-notes-mcp/internal/domain/chat"
	"github.com/ateska/markdown-notes-mcp/internal/domain/conversation"
	"github.com/ateska/markdown-notes-mcp/internal/domain/notes"
	"github.com/ateska/markdown-notes-mcp/internal/domain/tool"
	"github.com/ateska/markdown-notes-mcp/internal/infrastructure/llmprovider"
	"github.com/ateska/markdown-notes-mcp/internal/infrastructure/logger"
	"github.com/ateska/markdown-notes-mcp/internal/infrastructure/observability"
	"github.com/ateska/markdown-notes-mcp/internal/interfaces/httpserver"
)

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otlpEndpoint := ""
	if cfg.EnableTracing {
		otlpEndpoint = cfg.OTLPEndpoint
	}
	shutdownTelemetry, err := observability.Setup(ctx, cfg.ServiceName, otlpEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	notesService, err := notes.NewService(cfg.NotesDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize notes service")
	}

	tools := tool.NewRegistry()
	tools.Register(tool.NewPingTool(log))

	chatService := chat.NewService(ctx, conversation.NewStore(), tools, conversation.PolicyDerived, log)
	registerProviders(cfg, chatService, log)

	server := httpserver.New(cfg, log, chatService, notesService)
	if err := server.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("HTTP server stopped")
	}
	log.Info().Msg("bye")
}

// registerProviders builds one adapter per configured upstream. An unset
// URL leaves that protocol out of the selection pool.
func registerProviders(cfg *config.Config, chatService *chat.Service, log zerolog.Logger) {
	tools := []llmprovider.ToolSpec{pingToolSpec()}

	if cfg.ResponsesProviderURL != "" {
		chatService.RegisterProvider(llmprovider.NewResponsesProvider(llmprovider.Options{
			Name:          "responses",
			URL:           cfg.ResponsesProviderURL,
			APIKey:        cfg.ResponsesProviderAPIKey,
			StreamLimit:   cfg.ProviderStreamLimit,
			StreamTimeout: cfg.HTTPStreamTimeout,
			Tools:         tools,
		}, chatService, log))
	}
	if cfg.ChatProviderURL != "" {
		chatService.RegisterProvider(llmprovider.NewChatCompletionsProvider(llmprovider.Options{
			Name:          "chat-completions",
			URL:           cfg.ChatProviderURL,
			APIKey:        cfg.ChatProviderAPIKey,
			StreamLimit:   cfg.ProviderStreamLimit,
			StreamTimeout: cfg.HTTPStreamTimeout,
			Tools:         tools,
		}, chatService, log))
	}
	if cfg.MessagesProviderURL != "" {
		chatService.RegisterProvider(llmprovider.NewMessagesProvider(llmprovider.Options{
			Name:          "messages",
			URL:           cfg.MessagesProviderURL,
			APIKey:        cfg.MessagesProviderAPIKey,
			StreamLimit:   cfg.ProviderStreamLimit,
			StreamTimeout: cfg.HTTPStreamTimeout,
			Tools:         tools,
		}, chatService, log))
	}
}

func pingToolSpec() llmprovider.ToolSpec {
	return llmprovider.ToolSpec{
		Name:        "ping",
		Description: "Invoke a command-line ping tool with provided target host or service, return the textual result of the ping.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"target": map[string]any{
					"type":        "string",
					"description": "The target host or service to ping",
				},
			},
			"required": []string{"target"},
		},
	}
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
