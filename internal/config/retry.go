package config

import "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/normalization"

// RetryBackoffMode enumerates supported backoff strategies for retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

var retryBackoffs = normalization.NewNormalizer(map[string]RetryBackoffMode{
	"fixed":       RetryBackoffFixed,
	"linear":      RetryBackoffLinear,
	"exponential": RetryBackoffExponential,
}, "")

// NormalizeRetryBackoff converts arbitrary user input (case-insensitive) into a typed mode, returning empty string for unknown.
func NormalizeRetryBackoff(raw string) RetryBackoffMode { return retryBackoffs.Normalize(raw) }

// RetryConfig configures retries of remote fetches (version source, update artifacts).
type RetryConfig struct {
	Backoff      RetryBackoffMode `yaml:"backoff" env:"MCG_RETRY_BACKOFF"`
	InitialDelay string           `yaml:"initial_delay" env:"MCG_RETRY_INITIAL_DELAY"`
	MaxDelay     string           `yaml:"max_delay" env:"MCG_RETRY_MAX_DELAY"`
	MaxRetries   int              `yaml:"max_retries" env:"MCG_RETRY_MAX_RETRIES"`
}
