package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, 25565, cfg.Server.Port)
	require.Equal(t, "extra/commands/dll", cfg.Paths.CommandDir)
	require.Equal(t, "text/cmdautoload.txt", cfg.Paths.CommandAutoload)
	require.Equal(t, 100*time.Millisecond, cfg.Scheduler.PositionUpdateInterval)
	require.Equal(t, 20*time.Millisecond, cfg.Scheduler.SessionTickInterval)
	require.Equal(t, 2*time.Hour, cfg.Update.CheckInterval)
	require.Equal(t, "release", cfg.Update.Channel)
	require.Equal(t, 75, cfg.Update.RestartExitCode)
}

func TestLoad_YAMLValues(t *testing.T) {
	path := writeConfig(t, `
server:
  name: Test
  port: 25566
  main_level: hub
scheduler:
  position_update_interval: 250ms
update:
  channel: latest
  check_interval: 30m
  launchers: [MCGalaxy.exe, MCGalaxyCLI.exe]
  retry:
    backoff: linear
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "Test", cfg.Server.Name)
	require.Equal(t, 25566, cfg.Server.Port)
	require.Equal(t, "hub", cfg.Server.MainLevel)
	require.Equal(t, 250*time.Millisecond, cfg.Scheduler.PositionUpdateInterval)
	require.Equal(t, "latest", cfg.Update.Channel)
	require.Equal(t, 30*time.Minute, cfg.Update.CheckInterval)
	require.Equal(t, []string{"MCGalaxy.exe", "MCGalaxyCLI.exe"}, cfg.Update.Launchers)
	require.Equal(t, RetryBackoffLinear, cfg.Update.Retry.Backoff)
	// Untouched fields still get defaults.
	require.Equal(t, "plugins", cfg.Paths.PluginsDir)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 25566\n")
	t.Setenv("MCG_PORT", "30000")
	t.Setenv("MCG_UPDATE_CHANNEL", "latest")
	t.Setenv("MCG_UPDATE_LAUNCHERS", "a.exe,b.exe")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 30000, cfg.Server.Port)
	require.Equal(t, "latest", cfg.Update.Channel)
	require.Equal(t, []string{"a.exe", "b.exe"}, cfg.Update.Launchers)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unterminated"))
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"no main level", func(c *Config) { c.Server.MainLevel = "" }, "server.main_level"},
		{"slow position updates", func(c *Config) { c.Scheduler.PositionUpdateInterval = 2 * time.Second }, "scheduler.position_update_interval"},
		{"bad channel", func(c *Config) { c.Update.Channel = "nightly" }, "update.channel"},
		{"bad backoff", func(c *Config) { c.Update.Retry.Backoff = "random" }, "update.retry.backoff"},
		{"bad delay", func(c *Config) { c.Update.Retry.MaxDelay = "soon" }, "update.retry.max_delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			ce, ok := ferrors.AsClassified(err)
			require.True(t, ok)
			require.Equal(t, ferrors.CategoryConfig, ce.Category())
			key, _ := ce.Context().GetString("key")
			require.Equal(t, tt.key, key)
		})
	}

	require.NoError(t, Validate(Defaults()))
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, Init(path, false))
	require.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Defaults().Server, cfg.Server)
}

func TestNormalizeHelpers(t *testing.T) {
	require.Equal(t, RetryBackoffExponential, NormalizeRetryBackoff(" Exponential "))
	require.Equal(t, RetryBackoffMode(""), NormalizeRetryBackoff("quadratic"))
	require.Equal(t, LogLevelWarn, NormalizeLogLevel("WARNING"))
	require.Equal(t, LogLevelInfo, NormalizeLogLevel("loud"))
	require.Equal(t, LogFormatJSON, NormalizeLogFormat("JSON"))
}
