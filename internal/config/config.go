// ABOUTME: Configuration loading and parsing for chat-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chat-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Agent     AgentConfig     `yaml:"agent"`
	Workflows WorkflowsConfig `yaml:"workflows"`
	Session   SessionConfig   `yaml:"session"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	FactCheck FactCheckConfig `yaml:"fact_check"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// AllowedOrigin restricts WebSocket upgrades to a single origin.
	// Empty or "*" allows any origin.
	AllowedOrigin string `yaml:"allowed_origin"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// AgentConfig holds response-generator configuration
type AgentConfig struct {
	Provider      string `yaml:"provider"` // "openai" or "fake"
	Model         string `yaml:"model"`
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"` // optional, for OpenAI-compatible endpoints
	ContextWindow int    `yaml:"context_window"` // most recent N messages sent for generation
}

// WorkflowsConfig holds workflow catalog configuration
type WorkflowsConfig struct {
	Dir             string `yaml:"dir"`
	DefaultWorkflow string `yaml:"default"`
}

// SessionConfig holds session lifecycle timing configuration
type SessionConfig struct {
	IdleTimeout     time.Duration `yaml:"-"`
	CleanupInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IdleTimeoutRaw     string `yaml:"idle_timeout"`
	CleanupIntervalRaw string `yaml:"cleanup_interval"`
}

// HeartbeatConfig holds connection heartbeat timing configuration
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"-"`
	Timeout  time.Duration `yaml:"-"`

	IntervalRaw string `yaml:"interval"`
	TimeoutRaw  string `yaml:"timeout"`
}

// FactCheckConfig holds fact-check polling configuration
type FactCheckConfig struct {
	PollInterval time.Duration `yaml:"-"`
	PollTimeout  time.Duration `yaml:"-"`

	PollIntervalRaw string `yaml:"poll_interval"`
	PollTimeoutRaw  string `yaml:"poll_timeout"`
}

// OAuthConfig holds OAuth-related heuristics.
type OAuthConfig struct {
	// RecencyWindow bounds how recently an OAuth completion must have
	// happened for the "already authenticated" auto-transition to apply.
	RecencyWindow time.Duration `yaml:"-"`

	RecencyWindowRaw string `yaml:"recency_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied after parsing when fields are unset.
const (
	DefaultContextWindow   = 10
	DefaultIdleTimeout     = 30 * time.Minute
	DefaultCleanupInterval = time.Minute
	DefaultHeartbeatEvery  = 30 * time.Second
	DefaultHeartbeatWait   = 10 * time.Second
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultPollTimeout     = 30 * time.Second
	DefaultRecencyWindow   = 5 * time.Minute
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued fields with production defaults.
func (c *Config) applyDefaults() {
	if c.Agent.Provider == "" {
		c.Agent.Provider = "fake"
	}
	if c.Agent.ContextWindow <= 0 {
		c.Agent.ContextWindow = DefaultContextWindow
	}
	if c.Workflows.DefaultWorkflow == "" {
		c.Workflows.DefaultWorkflow = "support"
	}
	if c.Session.IdleTimeout == 0 {
		c.Session.IdleTimeout = DefaultIdleTimeout
	}
	if c.Session.CleanupInterval == 0 {
		c.Session.CleanupInterval = DefaultCleanupInterval
	}
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = DefaultHeartbeatEvery
	}
	if c.Heartbeat.Timeout == 0 {
		c.Heartbeat.Timeout = DefaultHeartbeatWait
	}
	if c.FactCheck.PollInterval == 0 {
		c.FactCheck.PollInterval = DefaultPollInterval
	}
	if c.FactCheck.PollTimeout == 0 {
		c.FactCheck.PollTimeout = DefaultPollTimeout
	}
	if c.OAuth.RecencyWindow == 0 {
		c.OAuth.RecencyWindow = DefaultRecencyWindow
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Agent.Provider {
	case "openai":
		if c.Agent.APIKey == "" {
			return fmt.Errorf("agent.api_key is required when agent.provider is openai")
		}
		if c.Agent.Model == "" {
			return fmt.Errorf("agent.model is required when agent.provider is openai")
		}
	case "fake":
		// No credentials needed
	default:
		return fmt.Errorf("agent.provider must be one of: openai, fake (got %q)", c.Agent.Provider)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Session.IdleTimeoutRaw, &cfg.Session.IdleTimeout, "session.idle_timeout"},
		{cfg.Session.CleanupIntervalRaw, &cfg.Session.CleanupInterval, "session.cleanup_interval"},
		{cfg.Heartbeat.IntervalRaw, &cfg.Heartbeat.Interval, "heartbeat.interval"},
		{cfg.Heartbeat.TimeoutRaw, &cfg.Heartbeat.Timeout, "heartbeat.timeout"},
		{cfg.FactCheck.PollIntervalRaw, &cfg.FactCheck.PollInterval, "fact_check.poll_interval"},
		{cfg.FactCheck.PollTimeoutRaw, &cfg.FactCheck.PollTimeout, "fact_check.poll_timeout"},
		{cfg.OAuth.RecencyWindowRaw, &cfg.OAuth.RecencyWindow, "oauth.recency_window"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
