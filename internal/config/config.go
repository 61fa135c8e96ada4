// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the global configuration for the MCP server, the prompt runner
// and the browser backend daemon.
type Config struct {
	// Home directory (config, state)
	Home string `yaml:"-"`

	// Browser automation backend settings
	Browser BrowserConfig `yaml:"browser"`

	// ChatGPT web application settings
	ChatGPT ChatGPTConfig `yaml:"chatgpt"`

	// Completion polling settings
	Poll PollConfig `yaml:"poll"`

	// Background job settings
	Jobs JobsConfig `yaml:"jobs"`

	// Image collection settings
	Images ImagesConfig `yaml:"images"`

	// Prompt-echo filter settings
	EchoFilter EchoFilterConfig `yaml:"echo_filter"`

	// Backend daemon settings (browserd command)
	Browserd BrowserdConfig `yaml:"browserd"`
}

// BrowserConfig holds the client-side settings for the automation backend.
type BrowserConfig struct {
	// BaseURL is the one base URL of the automation backend
	BaseURL string `yaml:"base_url"`

	// TimeoutMs is the per-request HTTP timeout
	TimeoutMs int `yaml:"timeout_ms"`

	// SnapshotMaxChunks bounds multi-chunk snapshot concatenation
	SnapshotMaxChunks int `yaml:"snapshot_max_chunks"`
}

// ChatGPTConfig holds settings for the chat web application itself.
type ChatGPTConfig struct {
	// BaseURL of the web application
	BaseURL string `yaml:"base_url"`

	// SessionToken is the __Secure-next-auth.session-token cookie value
	// (can use an env var reference like ${CHATGPT_SESSION_TOKEN})
	SessionToken string `yaml:"session_token"`

	// Workspace is the preferred workspace label on the account picker
	Workspace string `yaml:"workspace"`

	// Model is the default model override (empty = site default)
	Model string `yaml:"model"`
}

// PollConfig holds the completion poller tuning knobs.
type PollConfig struct {
	IntervalMs    int `yaml:"interval_ms"`
	SettleMs      int `yaml:"settle_ms"`
	IdleTicks     int `yaml:"idle_ticks"`
	GraceMs       int `yaml:"grace_ms"`
	DefaultWaitMs int `yaml:"default_wait_ms"`
	MaxWaitMs     int `yaml:"max_wait_ms"`
}

// JobsConfig holds the background job table settings.
type JobsConfig struct {
	// TTL for terminal jobs, as a duration string ("30m")
	TTL string `yaml:"ttl"`

	// Cap is the maximum number of live jobs before terminal eviction
	Cap int `yaml:"cap"`
}

// ImagesConfig holds image collection settings.
type ImagesConfig struct {
	// MaxInlineBytes caps inline image payloads stored on results
	MaxInlineBytes int `yaml:"max_inline_bytes"`

	// ScreenshotFallback enables the last-resort screenshot step
	ScreenshotFallback bool `yaml:"screenshot_fallback"`
}

// EchoFilterConfig holds the fuzzy prompt-echo filter tuning.
type EchoFilterConfig struct {
	// Containment is the mutual-containment ratio above which a candidate
	// is considered an echo of the prompt (0..1)
	Containment float64 `yaml:"containment"`
}

// BrowserdConfig holds the backend daemon settings.
type BrowserdConfig struct {
	// Listen address for the HTTP API
	Listen string `yaml:"listen"`

	// CDPURL is the Chrome DevTools HTTP endpoint
	CDPURL string `yaml:"cdp_url"`

	// SnapshotChunkBytes is the pagination unit for text snapshots
	SnapshotChunkBytes int `yaml:"snapshot_chunk_bytes"`

	// DownloadDir is where page-triggered downloads land (default: temp)
	DownloadDir string `yaml:"download_dir"`
}

// HomeDir returns the config home directory.
func HomeDir() string {
	if home := os.Getenv("CHATGPT_MCP_HOME"); home != "" {
		return home
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".chatgpt-webui-mcp")
}

// Load loads the configuration from file or returns defaults.
// A local .env file is honored first so that ${VAR} references and the
// CHATGPT_MCP_* overrides can come from it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	configPath := filepath.Join(HomeDir(), "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
	}

	applyEnv(cfg)

	return cfg, nil
}

// applyEnv applies environment overrides on top of file values.
func applyEnv(cfg *Config) {
	cfg.Home = HomeDir()
	if v := os.Getenv("CHATGPT_MCP_BROWSER_URL"); v != "" {
		cfg.Browser.BaseURL = v
	}
	if v := os.Getenv("CHATGPT_MCP_BASE_URL"); v != "" {
		cfg.ChatGPT.BaseURL = v
	}
	if v := os.Getenv("CHATGPT_SESSION_TOKEN"); v != "" {
		cfg.ChatGPT.SessionToken = v
	}
	if v := os.Getenv("CHATGPT_MCP_WORKSPACE"); v != "" {
		cfg.ChatGPT.Workspace = v
	}
	if v := os.Getenv("CHATGPT_MCP_BROWSERD_LISTEN"); v != "" {
		cfg.Browserd.Listen = v
	}
	if v := os.Getenv("CHATGPT_MCP_CDP_URL"); v != "" {
		cfg.Browserd.CDPURL = v
	}
}

// GetSessionToken returns the session token, resolving ${VAR} references.
func (c *Config) GetSessionToken() string {
	tok := c.ChatGPT.SessionToken
	if strings.HasPrefix(tok, "${") && strings.HasSuffix(tok, "}") {
		envVar := strings.TrimSuffix(strings.TrimPrefix(tok, "${"), "}")
		return os.Getenv(envVar)
	}
	return tok
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Browser.BaseURL == "" {
		errs = append(errs, "browser.base_url must be set")
	}
	if c.Browser.TimeoutMs < 1000 {
		errs = append(errs, "browser.timeout_ms must be at least 1000 ms")
	}
	if c.Browser.SnapshotMaxChunks < 1 {
		errs = append(errs, "browser.snapshot_max_chunks must be at least 1")
	}
	if c.Poll.IntervalMs < 100 {
		errs = append(errs, "poll.interval_ms must be at least 100 ms")
	}
	if c.Poll.SettleMs < c.Poll.IntervalMs {
		errs = append(errs, "poll.settle_ms must be at least poll.interval_ms")
	}
	if c.Poll.IdleTicks < 1 {
		errs = append(errs, "poll.idle_ticks must be at least 1")
	}
	if c.Poll.MaxWaitMs < c.Poll.DefaultWaitMs {
		errs = append(errs, "poll.max_wait_ms must be at least poll.default_wait_ms")
	}
	if c.Jobs.Cap < 1 {
		errs = append(errs, "jobs.cap must be at least 1")
	}
	if _, err := c.JobTTL(); err != nil {
		errs = append(errs, fmt.Sprintf("jobs.ttl is not a valid duration: %v", err))
	}
	if c.EchoFilter.Containment <= 0 || c.EchoFilter.Containment > 1 {
		errs = append(errs, "echo_filter.containment must be in (0, 1]")
	}
	if c.Images.MaxInlineBytes < 0 {
		errs = append(errs, "images.max_inline_bytes must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Save writes the configuration to config.yaml under the config home.
// The file is created 0600 since it can hold the session token.
func (c *Config) Save() error {
	dir := HomeDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
