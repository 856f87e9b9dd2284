// Package config provides configuration loading for specd.
//
// Configuration is loaded from a YAML file with environment variable
// overrides. Secrets are wrapped in the Secret type so they cannot leak
// through logs or serialized config dumps.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete specd configuration.
type Config struct {
	Temporal      TemporalConfig      `koanf:"temporal"`
	Server        ServerConfig        `koanf:"server"`
	Tracker       TrackerConfig       `koanf:"tracker"`
	DocStore      DocStoreConfig      `koanf:"docstore"`
	LLM           LLMConfig           `koanf:"llm"`
	Metering      MeteringConfig      `koanf:"metering"`
	Events        EventsConfig        `koanf:"events"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// TemporalConfig holds Temporal cluster connection settings.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// ServerConfig holds the trigger HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// WebhookSecret signs tracker webhook payloads (HMAC-SHA256).
	WebhookSecret Secret `koanf:"webhook_secret"`
}

// TrackerConfig holds issue tracker client settings.
type TrackerConfig struct {
	BaseURL   string   `koanf:"base_url"`
	Token     Secret   `koanf:"token"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"`
	Burst     int      `koanf:"burst"`
}

// DocStoreConfig holds document store client settings.
type DocStoreConfig struct {
	BaseURL string   `koanf:"base_url"`
	Token   Secret   `koanf:"token"`
	Timeout Duration `koanf:"timeout"`
}

// LLMConfig holds AI provider settings shared by all provider clients.
type LLMConfig struct {
	AnthropicAPIKey Secret   `koanf:"anthropic_api_key"`
	OpenAIAPIKey    Secret   `koanf:"openai_api_key"`
	Timeout         Duration `koanf:"timeout"`
	MaxRetries      int      `koanf:"max_retries"`
	RateLimit       float64  `koanf:"rate_limit"`
	Burst           int      `koanf:"burst"`
}

// MeteringConfig holds usage ledger settings.
type MeteringConfig struct {
	// Path is the SQLite ledger file.
	Path string `koanf:"path"`
}

// EventsConfig holds run event publishing settings.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Temporal host/port or task queue is empty
//   - Service name is empty (when telemetry is enabled)
//
// Presence of client credentials is checked by the client constructors,
// not here, so commands that never touch a given backend still load.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Temporal.HostPort == "" {
		return errors.New("temporal host_port required")
	}
	if c.Temporal.TaskQueue == "" {
		return errors.New("temporal task_queue required")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}

// defaultMeteringPath places the ledger next to the config directory.
func defaultMeteringPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "specd-usage.db"
	}
	return filepath.Join(home, ".config", "specd", "usage.db")
}
