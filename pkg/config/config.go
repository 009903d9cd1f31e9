package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the sync engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (tokens, keys, passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// MigrationsPath is the directory containing schema migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// GitHub API client configuration
	GitHub GitHubConfig `yaml:"github"`

	// LLM provider configuration for rule extraction
	LLM LLMConfig `yaml:"llm"`

	// Sync orchestration configuration
	Sync SyncConfig `yaml:"sync"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"octorules"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"octorules"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// GitHubConfig holds GitHub API client settings.
type GitHubConfig struct {
	// BaseURL lets tests and GitHub Enterprise deployments point the client
	// at a different API host.
	BaseURL string `yaml:"base_url" env:"GITHUB_BASE_URL" env-default:"https://api.github.com"`
	Token   string `yaml:"-" env:"GITHUB_TOKEN"` // Secret - not in YAML
	// PerPage is the page size used when draining paginated listings.
	PerPage int `yaml:"per_page" env:"GITHUB_PER_PAGE" env-default:"100"`
	// RateLimitFloor pauses fetching when the remaining request budget
	// drops to this value or below.
	RateLimitFloor int `yaml:"rate_limit_floor" env:"GITHUB_RATE_LIMIT_FLOOR" env-default:"1"`
}

// LLMConfig holds the rule-extraction model settings.
type LLMConfig struct {
	// Provider selects the backend: "openai" or "anthropic".
	Provider    string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	BaseURL     string  `yaml:"base_url" env:"LLM_BASE_URL" env-default:""`
	Model       string  `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey      string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Temperature float32 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1024"`
}

// SyncConfig holds sync orchestration settings.
type SyncConfig struct {
	// Workers is the number of concurrent repository sync workers.
	Workers int `yaml:"workers" env:"SYNC_WORKERS" env-default:"3"`
	// QueueCapacity bounds the pending sync job queue.
	QueueCapacity int `yaml:"queue_capacity" env:"SYNC_QUEUE_CAPACITY" env-default:"64"`
	// MaxJobRetries bounds requeues of a job hit by transient fetch failures.
	MaxJobRetries int `yaml:"max_job_retries" env:"SYNC_MAX_JOB_RETRIES" env-default:"2"`
	// ExtractionEnabled toggles LLM rule extraction after persistence.
	ExtractionEnabled bool `yaml:"extraction_enabled" env:"SYNC_EXTRACTION_ENABLED" env-default:"true"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1, got %d", c.Sync.Workers)
	}
	if c.Sync.QueueCapacity < 1 {
		return fmt.Errorf("sync.queue_capacity must be at least 1, got %d", c.Sync.QueueCapacity)
	}
	if c.LLM.Provider != "openai" && c.LLM.Provider != "anthropic" {
		return fmt.Errorf("llm.provider must be openai or anthropic, got %q", c.LLM.Provider)
	}
	if c.GitHub.PerPage < 1 || c.GitHub.PerPage > 100 {
		return fmt.Errorf("github.per_page must be between 1 and 100, got %d", c.GitHub.PerPage)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
