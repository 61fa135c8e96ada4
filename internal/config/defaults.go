// internal/config/defaults.go
package config

import "time"

// Default browser backend settings
const (
	DefaultBrowserBaseURL   = "http://127.0.0.1:9223"
	DefaultBrowserTimeoutMs = 30000
	DefaultSnapshotChunks   = 8
)

// Default poller settings
const (
	DefaultPollIntervalMs = 1500
	DefaultSettleMs       = 3000
	DefaultIdleTicks      = 3
	DefaultGraceMs        = 4000
	DefaultWaitMs         = 120000  // 2 minutes
	DefaultMaxWaitMs      = 3600000 // 1 hour
)

// Default job table settings
const (
	DefaultJobTTL = "30m"
	DefaultJobCap = 64
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Home: HomeDir(),

		Browser: BrowserConfig{
			BaseURL:           DefaultBrowserBaseURL,
			TimeoutMs:         DefaultBrowserTimeoutMs,
			SnapshotMaxChunks: DefaultSnapshotChunks,
		},

		ChatGPT: ChatGPTConfig{
			BaseURL:      "https://chatgpt.com",
			SessionToken: "${CHATGPT_SESSION_TOKEN}",
		},

		Poll: PollConfig{
			IntervalMs:    DefaultPollIntervalMs,
			SettleMs:      DefaultSettleMs,
			IdleTicks:     DefaultIdleTicks,
			GraceMs:       DefaultGraceMs,
			DefaultWaitMs: DefaultWaitMs,
			MaxWaitMs:     DefaultMaxWaitMs,
		},

		Jobs: JobsConfig{
			TTL: DefaultJobTTL,
			Cap: DefaultJobCap,
		},

		Images: ImagesConfig{
			MaxInlineBytes:     2 * 1024 * 1024,
			ScreenshotFallback: false,
		},

		EchoFilter: EchoFilterConfig{
			Containment: 0.6,
		},

		Browserd: BrowserdConfig{
			Listen:             "127.0.0.1:9223",
			CDPURL:             "http://127.0.0.1:9222",
			SnapshotChunkBytes: 64 * 1024,
		},
	}
}

// JobTTL parses the jobs.ttl duration string.
func (c *Config) JobTTL() (time.Duration, error) {
	return time.ParseDuration(c.Jobs.TTL)
}

// PollInterval returns the poll tick interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMs) * time.Millisecond
}

// SettleWindow returns the minimum settle duration.
func (c *Config) SettleWindow() time.Duration {
	return time.Duration(c.Poll.SettleMs) * time.Millisecond
}

// SubmitGrace returns the submit-to-generating grace window.
func (c *Config) SubmitGrace() time.Duration {
	return time.Duration(c.Poll.GraceMs) * time.Millisecond
}

// DefaultWait returns the default overall poll deadline.
func (c *Config) DefaultWait() time.Duration {
	return time.Duration(c.Poll.DefaultWaitMs) * time.Millisecond
}

// MaxWait returns the largest accepted overall poll deadline.
func (c *Config) MaxWait() time.Duration {
	return time.Duration(c.Poll.MaxWaitMs) * time.Millisecond
}
