package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the environment driven configuration for the conversation
// gateway.
type Config struct {
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"mdn-conversation-api"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"8089"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	EnableTracing   bool          `env:"ENABLE_TRACING" envDefault:"false"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	NotesDir string `env:"NOTES_DIR" envDefault:"notes"`

	ResponsesProviderURL    string `env:"RESPONSES_PROVIDER_URL"`
	ResponsesProviderAPIKey string `env:"RESPONSES_PROVIDER_API_KEY"`
	ChatProviderURL         string `env:"CHAT_PROVIDER_URL"`
	ChatProviderAPIKey      string `env:"CHAT_PROVIDER_API_KEY"`
	MessagesProviderURL     string `env:"MESSAGES_PROVIDER_URL"`
	MessagesProviderAPIKey  string `env:"MESSAGES_PROVIDER_API_KEY"`

	ProviderStreamLimit int64         `env:"PROVIDER_STREAM_LIMIT" envDefault:"2"`
	HTTPStreamTimeout   time.Duration `env:"HTTP_STREAM_TIMEOUT" envDefault:"10m"`
	WSReceiveTimeout    time.Duration `env:"WS_RECEIVE_TIMEOUT" envDefault:"60s"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	if cfg.ProviderStreamLimit <= 0 {
		cfg.ProviderStreamLimit = 2
	}
	if cfg.HTTPStreamTimeout <= 0 {
		cfg.HTTPStreamTimeout = 10 * time.Minute
	}
	if cfg.WSReceiveTimeout <= 0 {
		cfg.WSReceiveTimeout = 60 * time.Second
	}

	return cfg, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
