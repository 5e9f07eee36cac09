package config

// Config is the single on-disk configuration for shuffifyd.
//
// The file may be YAML or JSON; both are decoded strictly
// (unknown fields are rejected) so typos fail fast at startup.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1h").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Spotify   SpotifyConfig   `json:"spotify"`
	Tokens    TokensConfig    `json:"tokens"`
	Limits    LimitsConfig    `json:"limits,omitempty"`
	Alerts    *AlertsConfig   `json:"alerts,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	// Path to the SQLite database file. Required.
	Path string `json:"path"`
	// BusyTimeout of 0 means the driver default.
	BusyTimeout Duration `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls trigger registration and job execution.
//
// Defaults (when fields are omitted/zero):
//   - workers: 3
//   - queue_size: 64
//   - misfire_grace: "1h"
//   - default_timeout: "0s" (disabled)
type SchedulerConfig struct {
	Enabled   bool   `json:"enabled"`
	Workers   int    `json:"workers,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
	Timezone  string `json:"timezone,omitempty"` // IANA TZ, e.g. "America/New_York"

	// MisfireGrace bounds how stale a missed fire may be and still run
	// once on recovery (coalesced catch-up).
	MisfireGrace Duration `json:"misfire_grace,omitempty"`

	// DefaultTimeout caps a single job run. "0s" disables the cap.
	DefaultTimeout Duration `json:"default_timeout,omitempty"`
}

// SpotifyConfig configures the resilient remote-API client.
type SpotifyConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`

	// APIBase/AccountsBase override the production endpoints (used in tests).
	APIBase      string `json:"api_base,omitempty"`
	AccountsBase string `json:"accounts_base,omitempty"`

	// RatePerSec paces outgoing calls client-side, before any 429 handling.
	RatePerSec int `json:"rate_per_sec,omitempty"`

	Timeout Duration    `json:"timeout,omitempty"`
	Retry   RetryConfig `json:"retry,omitempty"`
}

// RetryConfig controls the retry envelope for transient and rate-limit failures.
//
// Defaults: max 4 retries, base "1s", max_delay "30s".
type RetryConfig struct {
	Max      int      `json:"max,omitempty"`
	Base     Duration `json:"base,omitempty"`
	MaxDelay Duration `json:"max_delay,omitempty"`
}

type TokensConfig struct {
	// Secret keys the at-rest encryption of refresh tokens. Required.
	// Changing it (or the KDF salt version) invalidates every stored credential.
	Secret string `json:"secret"`
}

type LimitsConfig struct {
	// MaxSchedulesPerUser is enforced at schedule creation. Default 5.
	MaxSchedulesPerUser int `json:"max_schedules_per_user,omitempty"`
}

// AlertsConfig controls the optional Telegram sink for failed runs.
// If the section is omitted, alerting is disabled.
type AlertsConfig struct {
	Enabled    bool   `json:"enabled"`
	BotToken   string `json:"bot_token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	RatePerMin int    `json:"rate_per_min,omitempty"`
}
