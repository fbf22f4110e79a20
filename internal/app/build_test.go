package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/agentgate/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "template_simple_agent"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	def := "root_agent:\n  name: simple\n  description: Template agent\n"
	if err := os.WriteFile(filepath.Join(dir, "template_simple_agent", "agent.yaml"), []byte(def), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return config.Config{
		MetricsNamespace:       "test_app",
		AgentsDir:              dir,
		DefaultAgent:           "template_simple_agent",
		DefaultTenant:          "default",
		AgentTimeout:           time.Minute,
		SessionTTL:             time.Hour,
		SessionJanitorInterval: time.Minute,
		BrainMode:              "mock",
		MemoryEnabled:          true,
		MemoryAutoSave:         true,
		ScreenMessages:         true,
	}
}

func TestBuildServesChat(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabaseURL = "sqlite://" + filepath.Join(t.TempDir(), "sessions.db")
	cfg.SessionKeyedLocking = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := Build(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	a.Start(ctx)
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}()

	ts := httptest.NewServer(a.API.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/agents/chat", strings.NewReader(`{"message":"hello","session_id":"s1"}`))
	req.Header.Set("X-Tenant-ID", "acme")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /v1/agents/chat error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["agent"] != "template_simple_agent" || out["session_id"] != "s1" {
		t.Fatalf("response = %+v", out)
	}

	ids, err := a.Agents.ListSessions(ctx, "acme", "")
	if err != nil || len(ids) != 1 || ids[0] != "s1" {
		t.Fatalf("ListSessions() = %v, %v", ids, err)
	}
	if st := a.Agents.MemoryStatus(); !st.Initialized || st.Backend != "in-memory" {
		t.Fatalf("MemoryStatus() = %+v", st)
	}
}

func TestBuildRejectsUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisURL = "redis://127.0.0.1:1/0"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := Build(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry()); err == nil {
		t.Fatalf("Build() error = nil, want redis failure")
	}
}
