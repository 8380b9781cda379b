// Package config loads the YAML configuration file. Environment variables
// referenced as ${VAR} in the file are expanded before parsing, so secrets
// like API keys never need to live in the file itself.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	Chat     ChatConfig     `yaml:"chat"`
	Approval ApprovalConfig `yaml:"approval"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LLMConfig struct {
	// Provider selects the backend: "anthropic" or "openai".
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`

	// MaxTokens per model response.
	MaxTokens int `yaml:"max_tokens"`
}

type ChatConfig struct {
	SystemPrompt string `yaml:"system_prompt"`

	// WindowSize is the number of trailing messages sent to the model.
	WindowSize int `yaml:"window_size"`

	// MaxIterations bounds model round trips per turn.
	MaxIterations int `yaml:"max_iterations"`

	// TurnTimeout bounds a whole turn including tool execution.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

type ApprovalConfig struct {
	// TTL is how long an approval request stays decidable.
	TTL time.Duration `yaml:"ttl"`

	// SweepInterval is how often expired requests are reaped.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// RetentionGrace keeps settled requests queryable for this long after
	// expiry before the sweeper removes them.
	RetentionGrace time.Duration `yaml:"retention_grace"`
}

type StorageConfig struct {
	// Driver selects the backend: "memory" or "sqlite".
	Driver string `yaml:"driver"`

	// Path to the SQLite database file. Ignored for the memory driver.
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.Chat.SystemPrompt == "" {
		cfg.Chat.SystemPrompt = "You are a helpful assistant for a subscription service. " +
			"Use the available tools to look up information and manage accounts on the user's behalf."
	}
	if cfg.Chat.WindowSize == 0 {
		cfg.Chat.WindowSize = 50
	}
	if cfg.Chat.MaxIterations == 0 {
		cfg.Chat.MaxIterations = 12
	}
	if cfg.Chat.TurnTimeout == 0 {
		cfg.Chat.TurnTimeout = 45 * time.Second
	}
	if cfg.Approval.TTL == 0 {
		cfg.Approval.TTL = 15 * time.Minute
	}
	if cfg.Approval.SweepInterval == 0 {
		cfg.Approval.SweepInterval = time.Minute
	}
	if cfg.Approval.RetentionGrace == 0 {
		cfg.Approval.RetentionGrace = time.Hour
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Chat.MaxIterations < 1 {
		return fmt.Errorf("chat.max_iterations must be positive")
	}
	if c.Approval.TTL < time.Second {
		return fmt.Errorf("approval.ttl must be at least one second")
	}
	return nil
}
