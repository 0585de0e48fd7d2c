package config

import (
	"errors"
	"io/fs"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
)

// Config is the server configuration file (server.yaml).
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Paths       PathsConfig       `yaml:"paths"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Plugins     PluginsConfig     `yaml:"plugins"`
	Update      UpdateConfig      `yaml:"update"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Storage     StorageConfig     `yaml:"storage"`
}

// ServerConfig represents the network-facing identity of the server.
type ServerConfig struct {
	Name      string `yaml:"name" env:"MCG_SERVER_NAME"`
	ListenIP  string `yaml:"listen_ip" env:"MCG_LISTEN_IP"`
	Port      int    `yaml:"port" env:"MCG_PORT"`
	MainLevel string `yaml:"main_level" env:"MCG_MAIN_LEVEL"`
}

// PathsConfig locates the on-disk layout.
type PathsConfig struct {
	CommandDir      string `yaml:"command_dir" env:"MCG_COMMAND_DIR"`
	CommandAutoload string `yaml:"command_autoload" env:"MCG_COMMAND_AUTOLOAD"`
	PluginsDir      string `yaml:"plugins_dir" env:"MCG_PLUGINS_DIR"`
	ModuleExt       string `yaml:"module_ext" env:"MCG_MODULE_EXT"`
	LevelsDir       string `yaml:"levels_dir" env:"MCG_LEVELS_DIR"`
	LevelAutoload   string `yaml:"level_autoload" env:"MCG_LEVEL_AUTOLOAD"`
	ListsDir        string `yaml:"lists_dir" env:"MCG_LISTS_DIR"`
}

// SchedulerConfig controls the fixed-cadence ticks of the critical domain.
type SchedulerConfig struct {
	PositionUpdateInterval time.Duration `yaml:"position_update_interval" env:"MCG_POSITION_UPDATE_INTERVAL"`
	SessionTickInterval    time.Duration `yaml:"session_tick_interval" env:"MCG_SESSION_TICK_INTERVAL"`
	AFKTimeout             time.Duration `yaml:"afk_timeout" env:"MCG_AFK_TIMEOUT"`
	ModerationInterval     time.Duration `yaml:"moderation_interval" env:"MCG_MODERATION_INTERVAL"`

	// SessionQueueSize bounds the outbound lines buffered per player.
	SessionQueueSize int `yaml:"session_queue_size" env:"MCG_SESSION_QUEUE_SIZE"`
}

// PluginsConfig controls plugin discovery.
type PluginsConfig struct {
	Autoload bool `yaml:"autoload" env:"MCG_PLUGINS_AUTOLOAD"`
	Watch    bool `yaml:"watch" env:"MCG_PLUGINS_WATCH"`
}

// UpdateConfig configures the self-updater.
type UpdateConfig struct {
	CheckForUpdates   bool          `yaml:"check_for_updates" env:"MCG_CHECK_FOR_UPDATES"`
	CheckInterval     time.Duration `yaml:"check_interval" env:"MCG_UPDATE_CHECK_INTERVAL"`
	CheckCron         string        `yaml:"check_cron" env:"MCG_UPDATE_CHECK_CRON"`
	AutoApply         bool          `yaml:"auto_apply" env:"MCG_UPDATE_AUTO_APPLY"`
	Channel           string        `yaml:"channel" env:"MCG_UPDATE_CHANNEL"`
	Platform          string        `yaml:"platform" env:"MCG_UPDATE_PLATFORM"`
	CurrentVersionURL string        `yaml:"current_version_url" env:"MCG_UPDATE_VERSION_URL"`
	ChangelogURL      string        `yaml:"changelog_url" env:"MCG_UPDATE_CHANGELOG_URL"`
	ArtifactBaseURL   string        `yaml:"artifact_base_url" env:"MCG_UPDATE_ARTIFACT_URL"`
	Binary            string        `yaml:"binary" env:"MCG_UPDATE_BINARY"`
	Launchers         []string      `yaml:"launchers" env:"MCG_UPDATE_LAUNCHERS" envSeparator:","`
	WorkDir           string        `yaml:"work_dir" env:"MCG_UPDATE_WORK_DIR"`
	Timeout           time.Duration `yaml:"timeout" env:"MCG_UPDATE_TIMEOUT"`
	DownloadWorkers   int           `yaml:"download_workers" env:"MCG_UPDATE_DOWNLOAD_WORKERS"`
	RestartExitCode   int           `yaml:"restart_exit_code" env:"MCG_RESTART_EXIT_CODE"`
	Retry             RetryConfig   `yaml:"retry"`
}

// MaintenanceConfig schedules cron-style housekeeping.
type MaintenanceConfig struct {
	SaveCron string `yaml:"save_cron" env:"MCG_SAVE_CRON"`
}

// MonitoringConfig represents monitoring and observability configuration.
type MonitoringConfig struct {
	HTTPAddr     string        `yaml:"http_addr" env:"MCG_MONITORING_ADDR"`
	MaxRSSMB     uint64        `yaml:"max_rss_mb" env:"MCG_MAX_RSS_MB"`
	OTLPEndpoint string        `yaml:"otlp_endpoint" env:"MCG_OTLP_ENDPOINT"`
	Logging      LoggingConfig `yaml:"logging"`
}

// AlertsConfig configures operator alerting for update notifications.
type AlertsConfig struct {
	NATSURL string `yaml:"nats_url" env:"MCG_ALERTS_NATS_URL"`
	Subject string `yaml:"subject" env:"MCG_ALERTS_SUBJECT"`
}

// StorageConfig locates persistent stores.
type StorageConfig struct {
	StatsDB string `yaml:"stats_db" env:"MCG_STATS_DB"`
}

// Load reads configPath, applies .env files, environment overrides and defaults, then validates.
// A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "load .env file").Fatal().Build()
	}

	cfg := Defaults()
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "read config file").
			Fatal().WithContext("path", configPath).Build()
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "parse config file").
				Fatal().WithContext("path", configPath).Build()
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "parse environment overrides").Fatal().Build()
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a fully populated configuration.
func Defaults() *Config {
	cfg := &Config{
		Server:  ServerConfig{Name: "[MCGalaxy] Default", ListenIP: "0.0.0.0", Port: 25565, MainLevel: "main"},
		Plugins: PluginsConfig{Autoload: true},
		Update:  UpdateConfig{CheckForUpdates: true},
	}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero values. It runs after YAML and env so explicit values win.
func applyDefaults(cfg *Config) {
	p := &cfg.Paths
	setDefault(&p.CommandDir, "extra/commands/dll")
	setDefault(&p.CommandAutoload, "text/cmdautoload.txt")
	setDefault(&p.PluginsDir, "plugins")
	setDefault(&p.ModuleExt, ".so")
	setDefault(&p.LevelsDir, "levels")
	setDefault(&p.LevelAutoload, "text/autoload.txt")
	setDefault(&p.ListsDir, "ranks")

	s := &cfg.Scheduler
	setDefaultDuration(&s.PositionUpdateInterval, 100*time.Millisecond)
	setDefaultDuration(&s.SessionTickInterval, 20*time.Millisecond)
	setDefaultDuration(&s.AFKTimeout, 10*time.Minute)
	setDefaultDuration(&s.ModerationInterval, time.Minute)
	if s.SessionQueueSize <= 0 {
		s.SessionQueueSize = 256
	}

	u := &cfg.Update
	setDefaultDuration(&u.CheckInterval, 2*time.Hour)
	setDefaultDuration(&u.Timeout, 2*time.Minute)
	setDefault(&u.Channel, "release")
	setDefault(&u.Platform, runtime.GOOS+"-"+runtime.GOARCH)
	setDefault(&u.CurrentVersionURL, "https://raw.githubusercontent.com/RandomStrangers/MCGalaxy-Extended/master/Uploads/current_version.txt")
	setDefault(&u.ChangelogURL, "https://raw.githubusercontent.com/RandomStrangers/MCGalaxy-Extended/master/Changelog.txt")
	setDefault(&u.ArtifactBaseURL, "https://cdn.classicube.net/client/mcg/{channel}/{platform}/")
	setDefault(&u.WorkDir, ".")
	if u.DownloadWorkers <= 0 {
		u.DownloadWorkers = 3
	}
	if u.RestartExitCode == 0 {
		u.RestartExitCode = 75
	}
	setDefault((*string)(&u.Retry.Backoff), string(RetryBackoffExponential))
	setDefault(&u.Retry.InitialDelay, "1s")
	setDefault(&u.Retry.MaxDelay, "30s")
	if u.Retry.MaxRetries == 0 {
		u.Retry.MaxRetries = 3
	}

	setDefault(&cfg.Alerts.Subject, "mcgalaxy.update.available")
	setDefault(&cfg.Storage.StatsDB, "data/stats.db")
	if cfg.Monitoring.Logging.Level == "" {
		cfg.Monitoring.Logging.Level = LogLevelInfo
	}
	if cfg.Monitoring.Logging.Format == "" {
		cfg.Monitoring.Logging.Format = LogFormatText
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setDefaultDuration(field *time.Duration, value time.Duration) {
	if *field <= 0 {
		*field = value
	}
}

// Validate checks values that defaults cannot repair.
func Validate(cfg *Config) error {
	invalid := func(msg, key string, value any) error {
		return ferrors.ConfigError(msg).WithContext("key", key).WithContext("value", value).Build()
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return invalid("port must be between 1 and 65535", "server.port", cfg.Server.Port)
	}
	if cfg.Server.MainLevel == "" {
		return invalid("main level name is required", "server.main_level", cfg.Server.MainLevel)
	}
	if cfg.Scheduler.PositionUpdateInterval >= time.Second {
		return invalid("position update interval must be below one second", "scheduler.position_update_interval", cfg.Scheduler.PositionUpdateInterval)
	}
	switch cfg.Update.Channel {
	case "release", "latest":
	default:
		return invalid("update channel must be release or latest", "update.channel", cfg.Update.Channel)
	}
	if mode := NormalizeRetryBackoff(string(cfg.Update.Retry.Backoff)); mode == "" {
		return invalid("unknown retry backoff mode", "update.retry.backoff", cfg.Update.Retry.Backoff)
	}
	for _, key := range []struct{ name, value string }{
		{"update.retry.initial_delay", cfg.Update.Retry.InitialDelay},
		{"update.retry.max_delay", cfg.Update.Retry.MaxDelay},
	} {
		if _, err := time.ParseDuration(key.value); err != nil {
			return invalid("invalid duration", key.name, key.value)
		}
	}
	return nil
}

// Init writes the default configuration to configPath.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return ferrors.ConfigError("configuration file already exists (use --force to overwrite)").
			WithContext("path", configPath).Build()
	}
	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "marshal default configuration").Build()
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write configuration").
			WithContext("path", configPath).Build()
	}
	return nil
}
