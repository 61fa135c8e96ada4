// Package config tests configuration loading and validation.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupTestHome(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	t.Setenv("CHATGPT_MCP_HOME", tmpDir)
	return tmpDir
}

func TestDefaultConfig(t *testing.T) {
	setupTestHome(t)
	cfg := DefaultConfig()

	if cfg.Browser.BaseURL != DefaultBrowserBaseURL {
		t.Errorf("browser.base_url = %q, want %q", cfg.Browser.BaseURL, DefaultBrowserBaseURL)
	}
	if cfg.Poll.IntervalMs != DefaultPollIntervalMs {
		t.Errorf("poll.interval_ms = %d, want %d", cfg.Poll.IntervalMs, DefaultPollIntervalMs)
	}
	if cfg.Jobs.Cap != DefaultJobCap {
		t.Errorf("jobs.cap = %d, want %d", cfg.Jobs.Cap, DefaultJobCap)
	}
	if cfg.EchoFilter.Containment != 0.6 {
		t.Errorf("echo_filter.containment = %v, want 0.6", cfg.EchoFilter.Containment)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	setupTestHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with no config file failed: %v", err)
	}
	if cfg.Browser.BaseURL != DefaultBrowserBaseURL {
		t.Errorf("expected defaults when config file is missing")
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	home := setupTestHome(t)

	yaml := `
browser:
  base_url: "http://10.0.0.5:9223"
chatgpt:
  workspace: "Acme Inc"
poll:
  interval_ms: 500
  settle_ms: 2000
jobs:
  ttl: "5m"
  cap: 8
`
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Browser.BaseURL != "http://10.0.0.5:9223" {
		t.Errorf("browser.base_url = %q, want overlay value", cfg.Browser.BaseURL)
	}
	if cfg.ChatGPT.Workspace != "Acme Inc" {
		t.Errorf("chatgpt.workspace = %q, want %q", cfg.ChatGPT.Workspace, "Acme Inc")
	}
	if cfg.Poll.IntervalMs != 500 {
		t.Errorf("poll.interval_ms = %d, want 500", cfg.Poll.IntervalMs)
	}
	// Untouched fields keep defaults
	if cfg.Poll.IdleTicks != DefaultIdleTicks {
		t.Errorf("poll.idle_ticks = %d, want default %d", cfg.Poll.IdleTicks, DefaultIdleTicks)
	}

	ttl, err := cfg.JobTTL()
	if err != nil {
		t.Fatalf("JobTTL: %v", err)
	}
	if ttl.Minutes() != 5 {
		t.Errorf("ttl = %v, want 5m", ttl)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	home := setupTestHome(t)

	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("browser: ["), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestEnvOverrides(t *testing.T) {
	setupTestHome(t)
	t.Setenv("CHATGPT_MCP_BROWSER_URL", "http://override:1234")
	t.Setenv("CHATGPT_SESSION_TOKEN", "tok-from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Browser.BaseURL != "http://override:1234" {
		t.Errorf("env override for browser.base_url not applied: %q", cfg.Browser.BaseURL)
	}
	if cfg.GetSessionToken() != "tok-from-env" {
		t.Errorf("session token = %q, want env value", cfg.GetSessionToken())
	}
}

func TestGetSessionTokenEnvRef(t *testing.T) {
	setupTestHome(t)
	t.Setenv("MY_TOKEN_VAR", "secret-value")

	cfg := DefaultConfig()
	cfg.ChatGPT.SessionToken = "${MY_TOKEN_VAR}"

	if got := cfg.GetSessionToken(); got != "secret-value" {
		t.Errorf("GetSessionToken = %q, want %q", got, "secret-value")
	}

	cfg.ChatGPT.SessionToken = "literal-token"
	if got := cfg.GetSessionToken(); got != "literal-token" {
		t.Errorf("GetSessionToken = %q, want literal", got)
	}
}

func TestValidateErrors(t *testing.T) {
	setupTestHome(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "missing browser url",
			mutate:  func(c *Config) { c.Browser.BaseURL = "" },
			wantSub: "browser.base_url",
		},
		{
			name:    "tiny timeout",
			mutate:  func(c *Config) { c.Browser.TimeoutMs = 10 },
			wantSub: "browser.timeout_ms",
		},
		{
			name:    "zero snapshot chunks",
			mutate:  func(c *Config) { c.Browser.SnapshotMaxChunks = 0 },
			wantSub: "snapshot_max_chunks",
		},
		{
			name:    "settle below interval",
			mutate:  func(c *Config) { c.Poll.SettleMs = 100 },
			wantSub: "poll.settle_ms",
		},
		{
			name:    "bad ttl",
			mutate:  func(c *Config) { c.Jobs.TTL = "soon" },
			wantSub: "jobs.ttl",
		},
		{
			name:    "zero cap",
			mutate:  func(c *Config) { c.Jobs.Cap = 0 },
			wantSub: "jobs.cap",
		},
		{
			name:    "containment out of range",
			mutate:  func(c *Config) { c.EchoFilter.Containment = 1.5 },
			wantSub: "echo_filter.containment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantSub)
			}
		})
	}
}
