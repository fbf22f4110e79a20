package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8000" {
		t.Fatalf("BindAddr = %q, want :8000", cfg.BindAddr)
	}
	if cfg.DefaultAgent != "template_simple_agent" || cfg.DefaultTenant != "default" {
		t.Fatalf("defaults = %q/%q", cfg.DefaultAgent, cfg.DefaultTenant)
	}
	if cfg.AgentTimeout != 5*time.Minute || cfg.SessionTTL != time.Hour {
		t.Fatalf("AgentTimeout = %v, SessionTTL = %v", cfg.AgentTimeout, cfg.SessionTTL)
	}
	if cfg.RedisMaxConnections != 10 || cfg.BrainHTTPMaxRetries != 2 {
		t.Fatalf("RedisMaxConnections = %d, BrainHTTPMaxRetries = %d", cfg.RedisMaxConnections, cfg.BrainHTTPMaxRetries)
	}
	if cfg.BrainMode != "auto" || cfg.BrainHTTPURL != "" {
		t.Fatalf("BrainMode = %q, BrainHTTPURL = %q", cfg.BrainMode, cfg.BrainHTTPURL)
	}
	if cfg.MemoryEnabled || !cfg.MemoryAutoSave || !cfg.ScreenMessages {
		t.Fatalf("memory/screening defaults = %v/%v/%v", cfg.MemoryEnabled, cfg.MemoryAutoSave, cfg.ScreenMessages)
	}
	if cfg.LogFormat != "json" || cfg.LogLevel != "info" {
		t.Fatalf("log defaults = %q/%q", cfg.LogFormat, cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("AGENT_TIMEOUT", "30s")
	t.Setenv("TENANT_MAX_CONCURRENT_TURNS", "4")
	t.Setenv("AGENTS_WATCH", "yes")
	t.Setenv("MEMORY_ENABLED", "true")
	t.Setenv("BRAIN_MODE", "http")
	t.Setenv("BRAIN_HTTP_URL", " http://localhost:7777/brain ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" || cfg.AgentTimeout != 30*time.Second || cfg.TenantMaxTurns != 4 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.WatchAgents || !cfg.MemoryEnabled {
		t.Fatalf("WatchAgents = %v, MemoryEnabled = %v", cfg.WatchAgents, cfg.MemoryEnabled)
	}
	if cfg.BrainHTTPURL != "http://localhost:7777/brain" {
		t.Fatalf("BrainHTTPURL = %q, want trimmed value", cfg.BrainHTTPURL)
	}
}

func TestLoadMemoryDatabaseFallsBackToPostgres(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("DATABASE_URL", "postgres://agentgate@localhost/agentgate")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MemoryDatabaseURL != cfg.DatabaseURL {
		t.Fatalf("MemoryDatabaseURL = %q, want %q", cfg.MemoryDatabaseURL, cfg.DatabaseURL)
	}

	t.Setenv("DATABASE_URL", "sqlite:///tmp/sessions.db")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MemoryDatabaseURL != "" {
		t.Fatalf("MemoryDatabaseURL = %q, want empty for sqlite", cfg.MemoryDatabaseURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"AGENT_TIMEOUT":               "soon",
		"TENANT_MAX_CONCURRENT_TURNS": "-1",
		"REDIS_MAX_CONNECTIONS":       "0",
		"REDIS_SESSION_TTL":           "10ms",
		"AGENTS_WATCH":                "maybe",
		"LOG_FORMAT":                  "xml",
		"BRAIN_MODE":                  "cli",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q succeeded, want error", key, value)
			}
		})
	}
}

func TestLoadHTTPBrainRequiresURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("BRAIN_MODE", "http")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want missing BRAIN_HTTP_URL")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"AGENTS_DIR",
		"AGENTS_WATCH",
		"DEFAULT_AGENT",
		"DEFAULT_TENANT_ID",
		"AGENT_TIMEOUT",
		"TENANT_MAX_CONCURRENT_TURNS",
		"MESSAGE_SCREENING",
		"REDIS_URL",
		"REDIS_SESSION_TTL",
		"REDIS_MAX_CONNECTIONS",
		"DATABASE_URL",
		"SESSION_JANITOR_INTERVAL",
		"SESSION_KEYED_LOCKING",
		"BRAIN_MODE",
		"BRAIN_HTTP_URL",
		"BRAIN_HTTP_STREAM_STRICT",
		"BRAIN_HTTP_MAX_RETRIES",
		"BRAIN_HTTP_TIMEOUT",
		"MEMORY_ENABLED",
		"MEMORY_AUTO_SAVE",
		"MEMORY_DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
