package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the agent gateway.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	AgentsDir      string
	WatchAgents    bool
	DefaultAgent   string
	DefaultTenant  string
	AgentTimeout   time.Duration
	TenantMaxTurns int
	ScreenMessages bool

	RedisURL               string
	SessionTTL             time.Duration
	RedisMaxConnections    int
	DatabaseURL            string
	SessionJanitorInterval time.Duration
	SessionKeyedLocking    bool

	BrainMode             string
	BrainHTTPURL          string
	BrainHTTPStreamStrict bool
	BrainHTTPMaxRetries   int
	BrainHTTPTimeout      time.Duration

	MemoryEnabled     bool
	MemoryAutoSave    bool
	MemoryDatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:               envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace:       envOrDefault("APP_METRICS_NAMESPACE", "agentgate"),
		LogLevel:               envOrDefault("LOG_LEVEL", "info"),
		LogFormat:              envOrDefault("LOG_FORMAT", "json"),
		AgentsDir:              envOrDefault("AGENTS_DIR", "agents"),
		DefaultAgent:           envOrDefault("DEFAULT_AGENT", "template_simple_agent"),
		DefaultTenant:          envOrDefault("DEFAULT_TENANT_ID", "default"),
		RedisURL:               trimmedEnv("REDIS_URL"),
		DatabaseURL:            trimmedEnv("DATABASE_URL"),
		BrainMode:              envOrDefault("BRAIN_MODE", "auto"),
		BrainHTTPURL:           trimmedEnv("BRAIN_HTTP_URL"),
		MemoryDatabaseURL:      trimmedEnv("MEMORY_DATABASE_URL"),
		ShutdownTimeout:        15 * time.Second,
		AgentTimeout:           5 * time.Minute,
		SessionTTL:             time.Hour,
		RedisMaxConnections:    10,
		SessionJanitorInterval: time.Minute,
		BrainHTTPMaxRetries:    2,
		BrainHTTPTimeout:       60 * time.Second,
		MemoryAutoSave:         true,
		ScreenMessages:         true,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.WatchAgents, err = boolFromEnv("AGENTS_WATCH", cfg.WatchAgents); err != nil {
		return Config{}, err
	}
	if cfg.AgentTimeout, err = durationFromEnv("AGENT_TIMEOUT", cfg.AgentTimeout); err != nil {
		return Config{}, err
	}
	if cfg.TenantMaxTurns, err = intFromEnv("TENANT_MAX_CONCURRENT_TURNS", cfg.TenantMaxTurns); err != nil {
		return Config{}, err
	}
	if cfg.ScreenMessages, err = boolFromEnv("MESSAGE_SCREENING", cfg.ScreenMessages); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = durationFromEnv("REDIS_SESSION_TTL", cfg.SessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.RedisMaxConnections, err = intFromEnv("REDIS_MAX_CONNECTIONS", cfg.RedisMaxConnections); err != nil {
		return Config{}, err
	}
	if cfg.SessionJanitorInterval, err = durationFromEnv("SESSION_JANITOR_INTERVAL", cfg.SessionJanitorInterval); err != nil {
		return Config{}, err
	}
	if cfg.SessionKeyedLocking, err = boolFromEnv("SESSION_KEYED_LOCKING", cfg.SessionKeyedLocking); err != nil {
		return Config{}, err
	}
	if cfg.BrainHTTPStreamStrict, err = boolFromEnv("BRAIN_HTTP_STREAM_STRICT", cfg.BrainHTTPStreamStrict); err != nil {
		return Config{}, err
	}
	if cfg.BrainHTTPMaxRetries, err = intFromEnv("BRAIN_HTTP_MAX_RETRIES", cfg.BrainHTTPMaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.BrainHTTPTimeout, err = durationFromEnv("BRAIN_HTTP_TIMEOUT", cfg.BrainHTTPTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MemoryEnabled, err = boolFromEnv("MEMORY_ENABLED", cfg.MemoryEnabled); err != nil {
		return Config{}, err
	}
	if cfg.MemoryAutoSave, err = boolFromEnv("MEMORY_AUTO_SAVE", cfg.MemoryAutoSave); err != nil {
		return Config{}, err
	}

	if cfg.MemoryDatabaseURL == "" && isPostgresURL(cfg.DatabaseURL) {
		cfg.MemoryDatabaseURL = cfg.DatabaseURL
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.AgentTimeout <= 0 {
		return fmt.Errorf("AGENT_TIMEOUT must be positive")
	}
	if c.SessionTTL < time.Second {
		return fmt.Errorf("REDIS_SESSION_TTL must be at least 1s")
	}
	if c.RedisMaxConnections <= 0 {
		return fmt.Errorf("REDIS_MAX_CONNECTIONS must be positive")
	}
	if c.TenantMaxTurns < 0 {
		return fmt.Errorf("TENANT_MAX_CONCURRENT_TURNS must be >= 0")
	}
	if c.BrainHTTPMaxRetries < 0 {
		return fmt.Errorf("BRAIN_HTTP_MAX_RETRIES must be >= 0")
	}
	if c.SessionJanitorInterval < 0 {
		return fmt.Errorf("SESSION_JANITOR_INTERVAL must be >= 0")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text")
	}
	switch strings.ToLower(c.BrainMode) {
	case "auto", "http", "mock":
	default:
		return fmt.Errorf("BRAIN_MODE must be auto, http or mock")
	}
	if strings.EqualFold(c.BrainMode, "http") && c.BrainHTTPURL == "" {
		return fmt.Errorf("BRAIN_HTTP_URL is required when BRAIN_MODE=http")
	}
	return nil
}

func isPostgresURL(v string) bool {
	return strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://")
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
