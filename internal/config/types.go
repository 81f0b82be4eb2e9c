package config

import (
	"time"
)

// Config is the full daemon configuration, loaded from a YAML or JSON file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Delivery DeliveryConfig `json:"delivery,omitempty"`
	Engine   EngineConfig   `json:"engine,omitempty"`
	Admin    AdminConfig    `json:"admin,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"` // default true
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./botcast.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// DeliveryConfig controls the outbound pipeline.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 512
//   - rate_per_sec: 25
//   - max_attempts: 3
//   - retry_base: "500ms"
//   - retry_max_delay: "10s"
type DeliveryConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	MaxAttempts   int    `json:"max_attempts,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// EngineConfig carries the notification-engine settings.
type EngineConfig struct {
	Allowlist AllowlistConfig `json:"allowlist,omitempty"`

	UnauthorizedMessage string `json:"unauthorized_message,omitempty"`
	WelcomeMessage      string `json:"welcome_message,omitempty"`
	UnsubscribedMessage string `json:"unsubscribed_message,omitempty"`

	// EventLogging is a pointer so "omitted" defaults to enabled while an
	// explicit false still turns auditing off.
	EventLogging       *bool  `json:"event_logging,omitempty"`
	EventRetentionDays int    `json:"event_retention_days,omitempty"` // default 30
	SweepSchedule      string `json:"sweep_schedule,omitempty"`       // cron spec; empty disables
}

// AllowlistConfig configures the file-expressible allowlist policies.
// A dynamic resolver callback cannot live in a config file; hosts inject it
// programmatically (see app.Options).
type AllowlistConfig struct {
	Mode      string   `json:"mode,omitempty"` // "open" (default) | "static" | "store"
	Usernames []string `json:"usernames,omitempty"`
}

type AdminConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8090"
	Token   string `json:"token,omitempty"`
}

// ---- typed accessors ----

func (c TelegramConfig) PollTimeoutOrDefault() time.Duration {
	return parseDuration(c.PollTimeout, 10*time.Second)
}

func (c LoggingConfig) ConsoleOrDefault() bool {
	if c.Console == nil {
		return true
	}
	return *c.Console
}

func (c StorageConfig) BusyTimeoutOrDefault() time.Duration {
	return parseDuration(c.BusyTimeout, 5*time.Second)
}

func (c DeliveryConfig) RetryBaseOrDefault() time.Duration {
	return parseDuration(c.RetryBase, 500*time.Millisecond)
}

func (c DeliveryConfig) RetryMaxDelayOrDefault() time.Duration {
	return parseDuration(c.RetryMaxDelay, 10*time.Second)
}

func (c EngineConfig) EventLoggingOrDefault() bool {
	if c.EventLogging == nil {
		return true
	}
	return *c.EventLogging
}

func (c EngineConfig) RetentionDaysOrDefault() int {
	if c.EventRetentionDays <= 0 {
		return 30
	}
	return c.EventRetentionDays
}

func (c AdminConfig) AddrOrDefault() string {
	if c.Addr == "" {
		return "127.0.0.1:8090"
	}
	return c.Addr
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
