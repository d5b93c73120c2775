// Package config loads and validates the daemon configuration from a TOML
// file. Server targets are immutable for the process lifetime; there is no
// hot reload.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/livinlefevreloca/budgetd/internal/coordinator"
	"github.com/livinlefevreloca/budgetd/internal/cron"
	"github.com/livinlefevreloca/budgetd/internal/db"
	"github.com/livinlefevreloca/budgetd/internal/notify"
	"github.com/livinlefevreloca/budgetd/internal/orchestrator"
	"github.com/livinlefevreloca/budgetd/internal/retry"
)

// Duration decodes TOML strings like "30s" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Value() time.Duration {
	return time.Duration(d)
}

// Config represents the application configuration
type Config struct {
	Sync          SyncConfig          `toml:"sync"`
	Servers       []ServerConfig      `toml:"server"`
	Notifications NotificationsConfig `toml:"notifications"`
	Database      db.Config           `toml:"database"`
	HTTP          HTTPConfig          `toml:"http"`
	Metrics       MetricsConfig       `toml:"metrics"`
	Logging       LoggingConfig       `toml:"logging"`
}

// SyncConfig holds the global sync policy applied to servers without
// overrides.
type SyncConfig struct {
	MaxRetries int      `toml:"max_retries"`
	RetryDelay Duration `toml:"retry_delay"`
	Schedule   string   `toml:"schedule"`
	OnStart    bool     `toml:"on_start"`
}

// ServerConfig is one remote budgeting endpoint. The override fields are
// pointers so that a configured zero is distinguishable from unset:
// defined, including zero, wins over the global policy.
type ServerConfig struct {
	Name         string `toml:"name"`
	URL          string `toml:"url"`
	Password     string `toml:"password"`
	SyncID       string `toml:"sync_id"`
	FilePassword string `toml:"file_password"`
	DataDir      string `toml:"data_dir"`

	MaxRetries *int      `toml:"max_retries"`
	RetryDelay *Duration `toml:"retry_delay"`
	Schedule   *string   `toml:"schedule"`
}

// NotificationsConfig holds alert thresholds, the rate gate, and channels.
type NotificationsConfig struct {
	ConsecutiveFailures int      `toml:"consecutive_failures"`
	FailureRate         float64  `toml:"failure_rate"`
	RatePeriod          Duration `toml:"rate_period"`
	MinInterval         Duration `toml:"min_interval"`
	MaxPerHour          int      `toml:"max_per_hour"`

	LogChannel bool            `toml:"log_channel"`
	Webhooks   []WebhookConfig `toml:"webhook"`
}

// WebhookConfig is one webhook notification channel.
type WebhookConfig struct {
	Name    string   `toml:"name"`
	URL     string   `toml:"url"`
	Timeout Duration `toml:"timeout"`
}

// HTTPConfig holds HTTP API server settings
type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// MetricsConfig holds metrics/monitoring settings
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			MaxRetries: 3,
			RetryDelay: Duration(30 * time.Second),
			Schedule:   "0 3 * * *",
		},
		Notifications: NotificationsConfig{
			ConsecutiveFailures: 3,
			FailureRate:         0.5,
			RatePeriod:          Duration(30 * time.Minute),
			MinInterval:         Duration(15 * time.Minute),
			MaxPerHour:          4,
			LogChannel:          true,
		},
		Database: db.Config{
			Driver:          "sqlite3",
			DSN:             "budgetd.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    8080,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from the given TOML file over the
// defaults. An empty path returns the defaults unchanged.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Targets resolves every configured server into a fully merged target:
// server overrides win over the global sync policy, including explicit
// zeroes.
func (c *Config) Targets() []coordinator.Target {
	targets := make([]coordinator.Target, 0, len(c.Servers))
	for _, s := range c.Servers {
		policy := retry.Policy{
			MaxRetries: c.Sync.MaxRetries,
			BaseDelay:  c.Sync.RetryDelay.Value(),
		}
		if s.MaxRetries != nil {
			policy.MaxRetries = *s.MaxRetries
		}
		if s.RetryDelay != nil {
			policy.BaseDelay = s.RetryDelay.Value()
		}

		schedule := c.Sync.Schedule
		if s.Schedule != nil && *s.Schedule != "" {
			schedule = *s.Schedule
		}

		targets = append(targets, coordinator.Target{
			Server: orchestrator.Server{
				Name:         s.Name,
				URL:          s.URL,
				Password:     s.Password,
				SyncID:       s.SyncID,
				FilePassword: s.FilePassword,
				DataDir:      s.DataDir,
			},
			Policy:   policy,
			Schedule: schedule,
		})
	}
	return targets
}

// Thresholds builds the tracker configuration.
func (c *Config) Thresholds() notify.Thresholds {
	return notify.Thresholds{
		ConsecutiveFailures: c.Notifications.ConsecutiveFailures,
		FailureRate:         c.Notifications.FailureRate,
		RatePeriod:          c.Notifications.RatePeriod.Value(),
	}
}

// GateConfig builds the rate-gate configuration.
func (c *Config) GateConfig() notify.GateConfig {
	return notify.GateConfig{
		MinInterval: c.Notifications.MinInterval.Value(),
		MaxPerHour:  c.Notifications.MaxPerHour,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Sync policy validation
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync max_retries must not be negative")
	}
	if c.Sync.RetryDelay <= 0 {
		return fmt.Errorf("sync retry_delay must be positive")
	}
	if _, err := cron.Parse(c.Sync.Schedule); err != nil {
		return fmt.Errorf("sync schedule: %w", err)
	}

	// Server validation
	if len(c.Servers) == 0 {
		return fmt.Errorf("at least one server must be configured")
	}
	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("server %d: name must be specified", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate server name: %s", s.Name)
		}
		seen[s.Name] = true

		if s.URL == "" {
			return fmt.Errorf("server %s: url must be specified", s.Name)
		}
		if s.Password == "" {
			return fmt.Errorf("server %s: password must be specified", s.Name)
		}
		if s.SyncID == "" {
			return fmt.Errorf("server %s: sync_id must be specified", s.Name)
		}
		if s.DataDir == "" {
			return fmt.Errorf("server %s: data_dir must be specified", s.Name)
		}
		if s.MaxRetries != nil && *s.MaxRetries < 0 {
			return fmt.Errorf("server %s: max_retries must not be negative", s.Name)
		}
		if s.RetryDelay != nil && *s.RetryDelay <= 0 {
			return fmt.Errorf("server %s: retry_delay must be positive", s.Name)
		}
		if s.Schedule != nil && *s.Schedule != "" {
			if _, err := cron.Parse(*s.Schedule); err != nil {
				return fmt.Errorf("server %s: schedule: %w", s.Name, err)
			}
		}
	}

	// Notification validation
	if c.Notifications.ConsecutiveFailures < 1 {
		return fmt.Errorf("notifications consecutive_failures must be at least 1")
	}
	if c.Notifications.FailureRate <= 0 || c.Notifications.FailureRate > 1 {
		return fmt.Errorf("notifications failure_rate must be in (0, 1]")
	}
	if c.Notifications.RatePeriod <= 0 {
		return fmt.Errorf("notifications rate_period must be positive")
	}
	if c.Notifications.MinInterval < 0 {
		return fmt.Errorf("notifications min_interval must not be negative")
	}
	if c.Notifications.MaxPerHour < 1 {
		return fmt.Errorf("notifications max_per_hour must be at least 1")
	}
	for _, w := range c.Notifications.Webhooks {
		if w.Name == "" || w.URL == "" {
			return fmt.Errorf("notification webhooks require both name and url")
		}
	}

	// Database validation
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver must be specified")
	}
	if c.Database.Driver != "sqlite3" {
		return fmt.Errorf("unsupported database driver: %s (must be sqlite3)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	// HTTP validation
	if c.HTTP.Enabled {
		if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
			return fmt.Errorf("HTTP port must be between 1 and 65535")
		}
	}

	// Metrics validation
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics port must be between 1 and 65535")
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}
