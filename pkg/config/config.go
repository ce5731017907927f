package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// ConfigFile is read from the working directory when present.
const ConfigFile = "config.yaml"

// Config holds all configuration for sqlai-console.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3000"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Remote MCP tool service that connects, scans and answers questions
	ToolService ToolServiceConfig `yaml:"tool_service"`

	Scan       ScanConfig       `yaml:"scan"`
	Session    SessionConfig    `yaml:"session"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

// ToolServiceConfig configures the tool invocation client.
type ToolServiceConfig struct {
	URL               string        `yaml:"url" env:"TOOL_SERVICE_URL" env-default:"http://localhost:8000/mcp"`
	CallTimeout       time.Duration `yaml:"call_timeout" env:"TOOL_CALL_TIMEOUT" env-default:"60s"`
	MaxAttempts       int           `yaml:"max_attempts" env:"TOOL_MAX_ATTEMPTS" env-default:"3"`
	InitialBackoff    time.Duration `yaml:"initial_backoff" env:"TOOL_INITIAL_BACKOFF" env-default:"2s"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" env:"TOOL_BACKOFF_MULTIPLIER" env-default:"2"`
}

// ScanConfig configures scan progress polling.
type ScanConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"SCAN_POLL_INTERVAL" env-default:"3s"`
	// PollDeadline bounds the whole polling loop. 0 polls until the job ends.
	PollDeadline time.Duration `yaml:"poll_deadline" env:"SCAN_POLL_DEADLINE" env-default:"30m"`
}

// SessionConfig configures browser sessions and their workspaces.
type SessionConfig struct {
	// Secret signs session cookies. Required outside the local environment.
	Secret       string        `yaml:"-" env:"SESSION_SECRET"` // Secret - not in YAML
	IdleTTL      time.Duration `yaml:"idle_ttl" env:"SESSION_IDLE_TTL" env-default:"30m"`
	CookieSecure bool          `yaml:"cookie_secure" env:"SESSION_COOKIE_SECURE" env-default:"false"`
}

// TranscriptConfig configures chat transcript storage.
type TranscriptConfig struct {
	// DBPath is the SQLite file for transcripts. Empty keeps transcripts in memory.
	DBPath     string `yaml:"db_path" env:"TRANSCRIPT_DB_PATH" env-default:""`
	MaxEntries int    `yaml:"max_entries" env:"TRANSCRIPT_MAX_ENTRIES" env-default:"500"`
}

// Load reads configuration from config.yaml (if present) with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(ConfigFile); err == nil {
		if err := cleanenv.ReadConfig(ConfigFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", ConfigFile, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", ConfigFile, err)
	}

	cfg.ToolService.URL = ResolveURLForDocker(cfg.ToolService.URL)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Session.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		cfg.Session.Secret = secret
	}

	return cfg, nil
}

// validate checks values that cleanenv cannot.
func (c *Config) validate() error {
	u, err := url.Parse(c.ToolService.URL)
	if err != nil {
		return fmt.Errorf("tool_service.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("tool_service.url must be http or https, got %q", c.ToolService.URL)
	}
	if c.ToolService.MaxAttempts < 1 {
		return fmt.Errorf("tool_service.max_attempts must be at least 1")
	}
	if c.ToolService.BackoffMultiplier < 1 {
		return fmt.Errorf("tool_service.backoff_multiplier must be at least 1")
	}
	if c.Scan.PollInterval <= 0 {
		return fmt.Errorf("scan.poll_interval must be positive")
	}
	if c.Scan.PollDeadline < 0 {
		return fmt.Errorf("scan.poll_deadline must not be negative")
	}
	// Outside local development a random per-process secret would log
	// everyone out on every restart and break multi-instance deployments.
	if c.Session.Secret == "" && !c.IsLocal() {
		return fmt.Errorf("SESSION_SECRET is required in environment %q", c.Env)
	}
	return nil
}

// IsLocal returns true for local development.
func (c *Config) IsLocal() bool {
	return c.Env == "local"
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return c.BindAddr + ":" + c.Port
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
