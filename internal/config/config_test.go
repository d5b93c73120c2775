package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "budgetd.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalServer = `
[[server]]
name = "home"
url = "https://budget.example.com"
password = "hunter2"
sync_id = "sync-1"
data_dir = "/var/lib/budgetd/home"
`

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()

	assert.Equal(t, 3, c.Sync.MaxRetries)
	assert.Equal(t, 30*time.Second, c.Sync.RetryDelay.Value())
	assert.Equal(t, "0 3 * * *", c.Sync.Schedule)
	assert.Equal(t, 3, c.Notifications.ConsecutiveFailures)
	assert.Equal(t, 0.5, c.Notifications.FailureRate)
	assert.Equal(t, "sqlite3", c.Database.Driver)
	assert.Equal(t, "text", c.Logging.Format)
	assert.True(t, c.HTTP.Enabled)
}

func TestLoadConfig_EmptyPathReturnsDefaults(t *testing.T) {
	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/budgetd.toml")
	assert.Error(t, err)
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[sync]
max_retries = 5
retry_delay = "10s"
schedule = "30 2 * * *"
on_start = true

[notifications]
consecutive_failures = 2
failure_rate = 0.75
rate_period = "1h"

[[notifications.webhook]]
name = "oncall"
url = "https://hooks.example.com/budgetd"
timeout = "5s"

[logging]
level = "debug"
format = "json"
`+minimalServer)

	c, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5, c.Sync.MaxRetries)
	assert.Equal(t, 10*time.Second, c.Sync.RetryDelay.Value())
	assert.Equal(t, "30 2 * * *", c.Sync.Schedule)
	assert.True(t, c.Sync.OnStart)
	assert.Equal(t, 2, c.Notifications.ConsecutiveFailures)
	assert.Equal(t, 0.75, c.Notifications.FailureRate)
	assert.Equal(t, time.Hour, c.Notifications.RatePeriod.Value())
	require.Len(t, c.Notifications.Webhooks, 1)
	assert.Equal(t, "oncall", c.Notifications.Webhooks[0].Name)
	assert.Equal(t, 5*time.Second, c.Notifications.Webhooks[0].Timeout.Value())
	assert.Equal(t, "debug", c.Logging.Level)
	assert.Equal(t, "json", c.Logging.Format)

	// Untouched sections keep their defaults.
	assert.Equal(t, 8080, c.HTTP.Port)
	require.NoError(t, c.Validate())
}

func TestLoadConfig_BadToml(t *testing.T) {
	path := writeConfig(t, "[sync\nmax_retries = ")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := writeConfig(t, `
[sync]
retry_delay = "thirty seconds"
`+minimalServer)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

// =============================================================================
// Target resolution
// =============================================================================

func TestTargets_GlobalPolicy(t *testing.T) {
	path := writeConfig(t, minimalServer)
	c, err := LoadConfig(path)
	require.NoError(t, err)

	targets := c.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, "home", targets[0].Server.Name)
	assert.Equal(t, 3, targets[0].Policy.MaxRetries)
	assert.Equal(t, 30*time.Second, targets[0].Policy.BaseDelay)
	assert.Equal(t, "0 3 * * *", targets[0].Schedule)
}

// TestTargets_ZeroOverrideWins pins the merge rule: a server-level value
// that is defined wins over the global policy even when it is zero.
func TestTargets_ZeroOverrideWins(t *testing.T) {
	path := writeConfig(t, minimalServer+`
max_retries = 0
`)
	c, err := LoadConfig(path)
	require.NoError(t, err)

	targets := c.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, 0, targets[0].Policy.MaxRetries)
	// Fields without overrides still inherit.
	assert.Equal(t, 30*time.Second, targets[0].Policy.BaseDelay)
}

func TestTargets_ServerOverrides(t *testing.T) {
	path := writeConfig(t, minimalServer+`
max_retries = 7
retry_delay = "5s"
schedule = "0 4 * * *"

[[server]]
name = "office"
url = "https://office.example.com"
password = "pw"
sync_id = "sync-2"
data_dir = "/var/lib/budgetd/office"
`)
	c, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	targets := c.Targets()
	require.Len(t, targets, 2)

	assert.Equal(t, 7, targets[0].Policy.MaxRetries)
	assert.Equal(t, 5*time.Second, targets[0].Policy.BaseDelay)
	assert.Equal(t, "0 4 * * *", targets[0].Schedule)

	assert.Equal(t, 3, targets[1].Policy.MaxRetries)
	assert.Equal(t, "0 3 * * *", targets[1].Schedule)
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate_MinimalValid(t *testing.T) {
	path := writeConfig(t, minimalServer)
	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.NoError(t, c.Validate())
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no servers", func(c *Config) { c.Servers = nil }},
		{"unnamed server", func(c *Config) { c.Servers[0].Name = "" }},
		{"missing url", func(c *Config) { c.Servers[0].URL = "" }},
		{"missing password", func(c *Config) { c.Servers[0].Password = "" }},
		{"missing sync id", func(c *Config) { c.Servers[0].SyncID = "" }},
		{"missing data dir", func(c *Config) { c.Servers[0].DataDir = "" }},
		{"duplicate names", func(c *Config) { c.Servers = append(c.Servers, c.Servers[0]) }},
		{"negative retries", func(c *Config) { c.Sync.MaxRetries = -1 }},
		{"zero delay", func(c *Config) { c.Sync.RetryDelay = 0 }},
		{"bad schedule", func(c *Config) { c.Sync.Schedule = "every day" }},
		{"bad server schedule", func(c *Config) { s := "nope"; c.Servers[0].Schedule = &s }},
		{"negative server retries", func(c *Config) { n := -1; c.Servers[0].MaxRetries = &n }},
		{"zero consecutive threshold", func(c *Config) { c.Notifications.ConsecutiveFailures = 0 }},
		{"failure rate above 1", func(c *Config) { c.Notifications.FailureRate = 1.5 }},
		{"failure rate zero", func(c *Config) { c.Notifications.FailureRate = 0 }},
		{"zero max per hour", func(c *Config) { c.Notifications.MaxPerHour = 0 }},
		{"webhook without url", func(c *Config) {
			c.Notifications.Webhooks = []WebhookConfig{{Name: "oncall"}}
		}},
		{"unsupported driver", func(c *Config) { c.Database.Driver = "postgres" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"bad http port", func(c *Config) { c.HTTP.Port = 70000 }},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := LoadConfig(writeConfig(t, minimalServer))
			require.NoError(t, err)
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestThresholdsAndGate(t *testing.T) {
	c := DefaultConfig()

	th := c.Thresholds()
	assert.Equal(t, 3, th.ConsecutiveFailures)
	assert.Equal(t, 0.5, th.FailureRate)
	assert.Equal(t, 30*time.Minute, th.RatePeriod)

	gc := c.GateConfig()
	assert.Equal(t, 15*time.Minute, gc.MinInterval)
	assert.Equal(t, 4, gc.MaxPerHour)
}
