package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment  string             `toml:"environment"` // "development" or "production"
	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Webhooks     WebhooksConfig     `toml:"webhooks"`
	Registry     RegistryConfig     `toml:"registry"`
	Providers    ProvidersConfig    `toml:"providers"`
	Presets      PresetsConfig      `toml:"presets"`
	Logging      LoggingConfig      `toml:"logging"`
	WebSocket    WebSocketConfig    `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// OrchestratorConfig controls batch execution behavior
type OrchestratorConfig struct {
	MaxConcurrent   int    `toml:"max_concurrent"`    // Concurrent in-flight jobs per batch
	PerItemTimeout  string `toml:"per_item_timeout"`  // e.g. "10m" - budget per item including polling
	PollInterval    string `toml:"poll_interval"`     // e.g. "5s" - provider status poll cadence
	MaxWaitDuration string `toml:"max_wait_duration"` // e.g. "30m" - single-job monitor wait budget
	ParallelEnabled bool   `toml:"parallel_enabled"`  // false = run batch items sequentially
}

// WebhooksConfig controls the callback intake and its durable queue
type WebhooksConfig struct {
	Retention     string `toml:"retention"`      // e.g. "72h" - events older than this are GC'd
	MaxRetries    int    `toml:"max_retries"`    // Processing attempts before an event is marked stuck
	RetryBackoff  string `toml:"retry_backoff"`  // e.g. "2s" - base for exponential backoff
	SweepSchedule string `toml:"sweep_schedule"` // Cron schedule for the GC sweep
	PollInterval  string `toml:"poll_interval"`  // e.g. "1s" - processor claim cadence
}

// RegistryConfig controls status-record retention
type RegistryConfig struct {
	Retention     string `toml:"retention"`      // e.g. "24h" - terminal records older than this are evicted
	SweepSchedule string `toml:"sweep_schedule"` // Cron schedule for eviction
}

// ProvidersConfig groups the external-service adapters
type ProvidersConfig struct {
	Gemini GeminiConfig  `toml:"gemini"`
	Claude ClaudeConfig  `toml:"claude"`
	Avatar PollAPIConfig `toml:"avatar"`
	Render PollAPIConfig `toml:"render"`
}

// GeminiConfig contains Google Gemini API configuration for slide analysis
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`     // Google Gemini API key
	Model       string  `toml:"model"`       // Model for vision analysis (default: "gemini-3-flash-preview")
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "5m")
	RateLimit   string  `toml:"rate_limit"`  // Minimum spacing between requests (default: "4s" for 15 RPM)
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.3)
}

// ClaudeConfig contains Anthropic Claude API configuration for narrative generation
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`    // Anthropic API key
	Model       string  `toml:"model"`      // Model for narrative generation
	MaxTokens   int     `toml:"max_tokens"` // Maximum tokens in response (default: 8192)
	Timeout     string  `toml:"timeout"`    // Operation timeout as duration string (default: "5m")
	RateLimit   string  `toml:"rate_limit"` // Minimum spacing between requests (default: "1s")
	Temperature float32 `toml:"temperature"`
}

// PollAPIConfig configures an HTTP polling provider (avatar video, render farm)
type PollAPIConfig struct {
	BaseURL        string `toml:"base_url"`
	ClientID       string `toml:"client_id"`       // OAuth2 client-credentials id
	ClientSecret   string `toml:"client_secret"`   // OAuth2 client-credentials secret
	TokenURL       string `toml:"token_url"`       // OAuth2 token endpoint
	RateLimit      string `toml:"rate_limit"`      // Minimum spacing between API requests
	RequestTimeout string `toml:"request_timeout"` // Per-request HTTP timeout
}

// PresetsConfig points at the directory of reusable batch definitions
type PresetsConfig struct {
	Dir string `toml:"dir"` // Directory containing preset files (YAML)
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// WebSocketConfig contains configuration for the progress event stream
type WebSocketConfig struct {
	AllowedEvents []string `toml:"allowed_events"` // Whitelist of event types to broadcast. Empty = all.
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in showreel.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrent:   4,
			PerItemTimeout:  "10m",
			PollInterval:    "5s",
			MaxWaitDuration: "30m",
			ParallelEnabled: true,
		},
		Webhooks: WebhooksConfig{
			Retention:     "72h",
			MaxRetries:    5,
			RetryBackoff:  "2s",
			SweepSchedule: "0 0 * * * *", // Hourly
			PollInterval:  "1s",
		},
		Registry: RegistryConfig{
			Retention:     "24h",
			SweepSchedule: "0 */10 * * * *", // Every 10 minutes
		},
		Providers: ProvidersConfig{
			Gemini: GeminiConfig{
				APIKey:      "", // User must provide API key (no fallback)
				Model:       "gemini-3-flash-preview",
				Timeout:     "5m",
				RateLimit:   "4s", // Default to 4s (15 RPM) for free tier
				Temperature: 0.3,
			},
			Claude: ClaudeConfig{
				APIKey:      "", // User must provide API key (ANTHROPIC_API_KEY or config)
				Model:       "claude-haiku-3-5-20241022",
				MaxTokens:   8192,
				Timeout:     "5m",
				RateLimit:   "1s",
				Temperature: 0.7,
			},
			Avatar: PollAPIConfig{
				RateLimit:      "1s",
				RequestTimeout: "30s",
			},
			Render: PollAPIConfig{
				RateLimit:      "1s",
				RequestTimeout: "30s",
			},
		},
		Presets: PresetsConfig{
			Dir: "./presets",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		WebSocket: WebSocketConfig{
			AllowedEvents: []string{},
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
// CLI flag overrides are applied by the caller after loading.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("SHOWREEL_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("SHOWREEL_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("SHOWREEL_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("SHOWREEL_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Orchestrator configuration
	if maxConcurrent := os.Getenv("SHOWREEL_MAX_CONCURRENT"); maxConcurrent != "" {
		if mc, err := strconv.Atoi(maxConcurrent); err == nil {
			config.Orchestrator.MaxConcurrent = mc
		}
	}
	if perItemTimeout := os.Getenv("SHOWREEL_PER_ITEM_TIMEOUT"); perItemTimeout != "" {
		if _, err := time.ParseDuration(perItemTimeout); err == nil {
			config.Orchestrator.PerItemTimeout = perItemTimeout
		}
	}
	if pollInterval := os.Getenv("SHOWREEL_POLL_INTERVAL"); pollInterval != "" {
		if _, err := time.ParseDuration(pollInterval); err == nil {
			config.Orchestrator.PollInterval = pollInterval
		}
	}
	if maxWait := os.Getenv("SHOWREEL_MAX_WAIT_DURATION"); maxWait != "" {
		if _, err := time.ParseDuration(maxWait); err == nil {
			config.Orchestrator.MaxWaitDuration = maxWait
		}
	}
	if parallel := os.Getenv("SHOWREEL_PARALLEL_ENABLED"); parallel != "" {
		if p, err := strconv.ParseBool(parallel); err == nil {
			config.Orchestrator.ParallelEnabled = p
		}
	}

	// Webhook configuration
	if retention := os.Getenv("SHOWREEL_WEBHOOK_RETENTION"); retention != "" {
		if _, err := time.ParseDuration(retention); err == nil {
			config.Webhooks.Retention = retention
		}
	}
	if maxRetries := os.Getenv("SHOWREEL_WEBHOOK_MAX_RETRIES"); maxRetries != "" {
		if mr, err := strconv.Atoi(maxRetries); err == nil {
			config.Webhooks.MaxRetries = mr
		}
	}

	// Logging configuration
	if level := os.Getenv("SHOWREEL_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// Provider keys
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Providers.Gemini.APIKey = apiKey
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Providers.Claude.APIKey = apiKey
	}
}

// Validate checks invariants the rest of the system depends on.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxConcurrent < 1 {
		return fmt.Errorf("orchestrator.max_concurrent must be >= 1, got %d", c.Orchestrator.MaxConcurrent)
	}
	for name, value := range map[string]string{
		"orchestrator.per_item_timeout":  c.Orchestrator.PerItemTimeout,
		"orchestrator.poll_interval":     c.Orchestrator.PollInterval,
		"orchestrator.max_wait_duration": c.Orchestrator.MaxWaitDuration,
		"webhooks.retention":             c.Webhooks.Retention,
		"webhooks.retry_backoff":         c.Webhooks.RetryBackoff,
		"webhooks.poll_interval":         c.Webhooks.PollInterval,
		"registry.retention":             c.Registry.Retention,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", name, value)
		}
	}
	return nil
}

// ParseDurationOr parses a duration string, returning fallback on empty or
// invalid input. Config validation catches bad values at startup; this keeps
// call sites simple.
func ParseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
