// Package config provides environment configuration for the API server.
//
// Values are read in three layers: built-in defaults, an optional YAML file
// named by CONFIG_FILE, then environment variables. A .env file is loaded by
// the composition root before Load is called.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment is "development" or "production".
	Environment string `yaml:"environment"`

	// Server settings
	ServerPort         string        `yaml:"port"`
	ServerReadTimeout  time.Duration `yaml:"read_timeout"`
	ServerWriteTimeout time.Duration `yaml:"write_timeout"`
	MaxUploadBytes     int64         `yaml:"max_upload_bytes"`
	CORSOrigins        []string      `yaml:"cors_origins"`

	// Orchestration settings
	MaxRetries         int           `yaml:"max_retries"`
	BaseDelay          time.Duration `yaml:"base_delay"`
	RequestsPerMinute  int           `yaml:"requests_per_minute"`
	TokensPerMinute    int           `yaml:"tokens_per_minute"`
	MaxContextMessages int           `yaml:"max_context_messages"`
	MaxContextTokens   int           `yaml:"max_context_tokens"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`

	// Transcription queue limits
	TranscriptionRequestsPerMinute int `yaml:"transcription_requests_per_minute"`

	// History settings
	MaxConversations int `yaml:"max_conversations"`
	MaxStoredTurns   int `yaml:"max_stored_turns"`

	// Error log
	ErrorLogLimit int `yaml:"error_log_limit"`

	// Storage settings
	StorageBackend string `yaml:"storage_backend"`
	SQLitePath     string `yaml:"sqlite_path"`
	RedisURL       string `yaml:"redis_url"`
	RedisPassword  string `yaml:"redis_password"`
	RedisPrefix    string `yaml:"redis_prefix"`

	// NATS settings
	NATSEnabled  bool   `yaml:"nats_enabled"`
	NATSURL      string `yaml:"nats_url"`
	NATSCAFile   string `yaml:"nats_ca_file"`
	NATSCertFile string `yaml:"nats_cert_file"`
	NATSKeyFile  string `yaml:"nats_key_file"`
	NATSToken    string `yaml:"nats_token"`

	// JWT settings
	JWTSecret   string `yaml:"jwt_secret"`
	AuthEnabled bool   `yaml:"auth_enabled"`

	// LLM settings
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	AnthropicBaseURL string `yaml:"anthropic_base_url"`
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenAIBaseURL    string `yaml:"openai_base_url"`
	DefaultLLM       string `yaml:"default_llm"`
	DefaultModel     string `yaml:"default_model"`

	// Inbound rate limiting
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Tracing
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment:        "production",
		ServerPort:         "8080",
		ServerReadTimeout:  30 * time.Second,
		ServerWriteTimeout: 120 * time.Second,
		MaxUploadBytes:     25 << 20,
		CORSOrigins:        []string{"*"},

		MaxRetries:         3,
		BaseDelay:          time.Second,
		RequestsPerMinute:  60,
		TokensPerMinute:    90000,
		MaxContextMessages: 20,
		MaxContextTokens:   4000,
		RequestTimeout:     60 * time.Second,

		TranscriptionRequestsPerMinute: 50,

		MaxConversations: 1000,
		MaxStoredTurns:   200,
		ErrorLogLimit:    100,

		StorageBackend: StorageSQLite,
		SQLitePath:     "voice-orchestrator.db",
		RedisURL:       "redis://localhost:6379/0",
		RedisPrefix:    "voice:",

		NATSURL: "nats://localhost:4222",

		JWTSecret:   "development-secret-change-in-production",
		AuthEnabled: true,

		DefaultLLM: "openai",

		RateLimitRequests: 120,
		RateLimitWindow:   time.Minute,

		LogLevel: "info",

		TracingEndpoint: "localhost:4318",
	}
}

// Load reads configuration from CONFIG_FILE (if set) and environment
// variables, then validates it.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnv("ENVIRONMENT", c.Environment)

	// Server
	c.ServerPort = getEnv("PORT", c.ServerPort)
	c.ServerReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", c.ServerReadTimeout)
	c.ServerWriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", c.ServerWriteTimeout)
	c.MaxUploadBytes = int64(getIntEnv("MAX_UPLOAD_BYTES", int(c.MaxUploadBytes)))
	c.CORSOrigins = getListEnv("CORS_ORIGINS", c.CORSOrigins)

	// Orchestration
	c.MaxRetries = getIntEnv("MAX_RETRIES", c.MaxRetries)
	c.BaseDelay = getDurationEnv("BASE_DELAY", c.BaseDelay)
	c.RequestsPerMinute = getIntEnv("REQUESTS_PER_MINUTE", c.RequestsPerMinute)
	c.TokensPerMinute = getIntEnv("TOKENS_PER_MINUTE", c.TokensPerMinute)
	c.MaxContextMessages = getIntEnv("MAX_CONTEXT_MESSAGES", c.MaxContextMessages)
	c.MaxContextTokens = getIntEnv("MAX_CONTEXT_TOKENS", c.MaxContextTokens)
	c.RequestTimeout = getDurationEnv("REQUEST_TIMEOUT", c.RequestTimeout)
	c.TranscriptionRequestsPerMinute = getIntEnv("TRANSCRIPTION_REQUESTS_PER_MINUTE", c.TranscriptionRequestsPerMinute)

	// History and error log
	c.MaxConversations = getIntEnv("MAX_CONVERSATIONS", c.MaxConversations)
	c.MaxStoredTurns = getIntEnv("MAX_STORED_TURNS", c.MaxStoredTurns)
	c.ErrorLogLimit = getIntEnv("ERROR_LOG_LIMIT", c.ErrorLogLimit)

	// Storage
	c.StorageBackend = getEnv("STORAGE_BACKEND", c.StorageBackend)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisPrefix = getEnv("REDIS_PREFIX", c.RedisPrefix)

	// NATS
	c.NATSEnabled = getBoolEnv("NATS_ENABLED", c.NATSEnabled)
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSCAFile = getEnv("NATS_CA_FILE", c.NATSCAFile)
	c.NATSCertFile = getEnv("NATS_CERT_FILE", c.NATSCertFile)
	c.NATSKeyFile = getEnv("NATS_KEY_FILE", c.NATSKeyFile)
	c.NATSToken = getEnv("NATS_TOKEN", c.NATSToken)

	// JWT
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.AuthEnabled = getBoolEnv("AUTH_ENABLED", c.AuthEnabled)

	// LLM
	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.AnthropicBaseURL = getEnv("ANTHROPIC_BASE_URL", c.AnthropicBaseURL)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.DefaultLLM = getEnv("DEFAULT_LLM", c.DefaultLLM)
	c.DefaultModel = getEnv("DEFAULT_MODEL", c.DefaultModel)

	// Inbound rate limiting
	c.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", c.RateLimitWindow)

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	// Tracing
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingEnabled = getBoolEnv("TRACING_ENABLED", c.TracingEnabled)
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	if c.BaseDelay <= 0 {
		errs = append(errs, errors.New("base_delay must be positive"))
	}
	if c.RequestsPerMinute < 0 || c.TokensPerMinute < 0 || c.TranscriptionRequestsPerMinute < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if c.MaxContextMessages <= 0 {
		errs = append(errs, errors.New("max_context_messages must be positive"))
	}
	if c.MaxContextTokens < 0 {
		errs = append(errs, errors.New("max_context_tokens must not be negative"))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, errors.New("request_timeout must not be negative"))
	}

	switch c.StorageBackend {
	case StorageMemory:
	case StorageSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite_path is required for the sqlite backend"))
		}
	case StorageRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage_backend %q", c.StorageBackend))
	}

	switch c.DefaultLLM {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("unknown default_llm %q", c.DefaultLLM))
	}

	if c.AuthEnabled && c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required when auth is enabled"))
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
