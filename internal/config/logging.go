package config

import (
	"io"
	"log/slog"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/normalization"
)

// LogLevel enumerates supported logging levels.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var logLevels = normalization.NewNormalizer(map[string]LogLevel{
	"debug":   LogLevelDebug,
	"info":    LogLevelInfo,
	"warn":    LogLevelWarn,
	"warning": LogLevelWarn,
	"error":   LogLevelError,
}, LogLevelInfo)

// NormalizeLogLevel folds user input to a known level, defaulting to info.
func NormalizeLogLevel(raw string) LogLevel { return logLevels.Normalize(raw) }

// LogFormat enumerates supported log output formats.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

var logFormats = normalization.NewNormalizer(map[string]LogFormat{
	"json": LogFormatJSON,
	"text": LogFormatText,
}, LogFormatText)

// NormalizeLogFormat folds user input to a known format, defaulting to text.
func NormalizeLogFormat(raw string) LogFormat { return logFormats.Normalize(raw) }

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level" env:"MCG_LOG_LEVEL"`
	Format LogFormat `yaml:"format" env:"MCG_LOG_FORMAT"`
}

// SlogLevel maps the configured level to slog.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch NormalizeLogLevel(string(l.Level)) {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger. verbose forces debug level.
func (l LoggingConfig) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := l.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if NormalizeLogFormat(string(l.Format)) == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
