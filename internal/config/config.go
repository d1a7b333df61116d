package config

import (
	"fmt"
	"time"

	"github.com/quillworks/draftd/internal/logging"
)

// Config is the root configuration for draftd.
type Config struct {
	Engine  EngineConfig    `koanf:"engine"`
	Server  ServerConfig    `koanf:"server"`
	Output  OutputConfig    `koanf:"output"`
	LLM     LLMConfig       `koanf:"llm"`
	Logging *logging.Config `koanf:"logging"`
}

// EngineConfig controls pipeline execution.
type EngineConfig struct {
	// ErrorThreshold is the number of phase failures tolerated before a run
	// aborts. A run aborts when the failure count exceeds this value.
	ErrorThreshold int `koanf:"error_threshold"`

	// AutoApprove skips review gates, finalizing every phase directly.
	AutoApprove bool `koanf:"auto_approve"`

	Retry RetryConfig `koanf:"retry"`
}

// RetryConfig controls worker retry behavior.
type RetryConfig struct {
	// MaxAttempts is the total number of invocations per worker, first try
	// included.
	MaxAttempts int `koanf:"max_attempts"`

	// BaseDelay is the delay before the first retry.
	BaseDelay Duration `koanf:"base_delay"`

	// MaxDelay caps backoff growth.
	MaxDelay Duration `koanf:"max_delay"`

	// JitterFraction spreads delays by +/- this fraction.
	JitterFraction float64 `koanf:"jitter_fraction"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// OutputConfig controls where documents and checkpoints land.
type OutputConfig struct {
	// DocumentDir receives rendered requirement documents.
	DocumentDir string `koanf:"document_dir"`

	// CheckpointDir receives emergency run snapshots.
	CheckpointDir string `koanf:"checkpoint_dir"`
}

// LLMConfig selects the worker backend.
type LLMConfig struct {
	// Provider is "builtin" for deterministic workers or "openai" for
	// LLM-backed workers.
	Provider string `koanf:"provider"`

	Model  string `koanf:"model"`
	APIKey Secret `koanf:"api_key"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Engine.ErrorThreshold == 0 {
		cfg.Engine.ErrorThreshold = 3
	}
	if cfg.Engine.Retry.MaxAttempts == 0 {
		cfg.Engine.Retry.MaxAttempts = 3
	}
	if cfg.Engine.Retry.BaseDelay == 0 {
		cfg.Engine.Retry.BaseDelay = Duration(time.Second)
	}
	if cfg.Engine.Retry.MaxDelay == 0 {
		cfg.Engine.Retry.MaxDelay = Duration(30 * time.Second)
	}
	if cfg.Engine.Retry.JitterFraction == 0 {
		cfg.Engine.Retry.JitterFraction = 0.2
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Output.DocumentDir == "" {
		cfg.Output.DocumentDir = "./documents"
	}
	if cfg.Output.CheckpointDir == "" {
		cfg.Output.CheckpointDir = "./checkpoints"
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "builtin"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}

	if cfg.Logging == nil {
		cfg.Logging = logging.NewDefaultConfig()
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Engine.ErrorThreshold < 0 {
		return fmt.Errorf("engine.error_threshold must be >= 0, got %d", c.Engine.ErrorThreshold)
	}
	if c.Engine.Retry.MaxAttempts < 1 {
		return fmt.Errorf("engine.retry.max_attempts must be >= 1, got %d", c.Engine.Retry.MaxAttempts)
	}
	if c.Engine.Retry.JitterFraction < 0 || c.Engine.Retry.JitterFraction >= 1 {
		return fmt.Errorf("engine.retry.jitter_fraction must be in [0, 1), got %v", c.Engine.Retry.JitterFraction)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	switch c.LLM.Provider {
	case "builtin":
	case "openai":
		if !c.LLM.APIKey.IsSet() {
			return fmt.Errorf("llm.api_key is required when llm.provider is %q", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("llm.provider must be 'builtin' or 'openai', got %q", c.LLM.Provider)
	}
	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return fmt.Errorf("logging: %w", err)
		}
	}
	return nil
}
