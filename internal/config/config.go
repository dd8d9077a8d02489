// Package config loads the YAML configuration file. Environment
// variables referenced as ${VAR} in the file are expanded before
// parsing, so secrets stay out of the file itself.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Database  DatabaseConfig  `yaml:"database"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	LLM       LLMConfig       `yaml:"llm"`
	Agent     AgentConfig     `yaml:"agent"`
	Skills    SkillsConfig    `yaml:"skills"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	// MetricsAddr serves Prometheus metrics when set (e.g. ":9090").
	MetricsAddr string `yaml:"metrics_addr"`
}

type WorkspaceConfig struct {
	// Dir is the root under which session working directories live.
	Dir string `yaml:"dir"`
}

type DatabaseConfig struct {
	// URL is the Postgres DSN for session storage. Empty means the
	// in-memory store.
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type ArtifactsConfig struct {
	// Dir is where artifact bytes are stored on disk.
	Dir string `yaml:"dir"`

	// SQLitePath is the artifact metadata database. Empty means an
	// in-memory database.
	SQLitePath string `yaml:"sqlite_path"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

type AgentConfig struct {
	// MaxIterations caps loop iterations per run (hard ceiling 25).
	MaxIterations int `yaml:"max_iterations"`

	// MaxTokens per completion.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature for completions. Nil means provider default.
	Temperature *float64 `yaml:"temperature"`

	// MaxSubAgents caps concurrent sub-agent runs.
	MaxSubAgents int `yaml:"max_sub_agents"`

	// SystemPrompt overrides the built-in base prompt.
	SystemPrompt string `yaml:"system_prompt"`
}

type SkillsConfig struct {
	Dirs            []string `yaml:"dirs"`
	Watch           bool     `yaml:"watch"`
	WatchDebounceMs int      `yaml:"watch_debounce_ms"`
}

type SessionsConfig struct {
	// TTL is how long an idle session survives. Zero disables expiry.
	TTL time.Duration `yaml:"ttl"`

	// Schedule is the cron expression for expiry sweeps.
	Schedule string `yaml:"schedule"`

	// HistoryLimit is the maximum messages loaded per run.
	HistoryLimit int `yaml:"history_limit"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Workspace.Dir == "" {
		cfg.Workspace.Dir = "./workspace"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = "./artifacts"
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 25
	}
	if cfg.Agent.MaxTokens == 0 {
		cfg.Agent.MaxTokens = 4096
	}
	if cfg.Agent.MaxSubAgents == 0 {
		cfg.Agent.MaxSubAgents = 5
	}
	if cfg.Sessions.Schedule == "" {
		cfg.Sessions.Schedule = "@every 10m"
	}
	if cfg.Sessions.HistoryLimit == 0 {
		cfg.Sessions.HistoryLimit = 200
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Provider returns the configuration for the named provider, falling
// back to API key environment variables when the file has none.
func (c *Config) Provider(name string) LLMProviderConfig {
	if c.LLM.Providers != nil {
		if p, ok := c.LLM.Providers[name]; ok {
			if p.APIKey == "" {
				p.APIKey = envAPIKey(name)
			}
			return p
		}
	}
	return LLMProviderConfig{APIKey: envAPIKey(name)}
}

func envAPIKey(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}
