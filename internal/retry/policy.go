package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/config"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode       config.RetryBackoffMode // fixed|linear|exponential
	Initial    time.Duration           // base delay
	Max        time.Duration           // cap for growth
	MaxRetries int                     // maximum retry attempts after the first failure
}

// DefaultPolicy returns linear, 1s initial, 30s cap, 2 retries.
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffLinear, Initial: time.Second, Max: 30 * time.Second, MaxRetries: 2}
}

// NewPolicy builds a policy from raw fields; zero or invalid values fall back to defaults.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	switch mode {
	case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
		p.Mode = mode
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// FromConfig converts the YAML retry section. Unparseable durations fall back to defaults.
func FromConfig(rc config.RetryConfig) Policy {
	initial, _ := time.ParseDuration(rc.InitialDelay)
	maxDelay, _ := time.ParseDuration(rc.MaxDelay)
	return NewPolicy(config.NormalizeRetryBackoff(string(rc.Backoff)), initial, maxDelay, rc.MaxRetries)
}

// Delay returns the backoff delay for the given retry attempt number (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case config.RetryBackoffFixed:
		return p.Initial
	case config.RetryBackoffExponential:
		if retryCount > 30 {
			return p.Max
		}
		d := p.Initial * (1 << (retryCount - 1))
		if d > p.Max || d <= 0 {
			return p.Max
		}
		return d
	default:
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	}
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

// policyBackOff feeds Policy.Delay into the backoff package.
type policyBackOff struct {
	policy  Policy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.policy.Delay(b.attempt)
}

func (b *policyBackOff) Reset() { b.attempt = 0 }

// BackOff returns a fresh backoff.BackOff bounded by MaxRetries and ctx.
func (p Policy) BackOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &policyBackOff{policy: p}
	b = backoff.WithMaxRetries(b, uint64(p.MaxRetries))
	return backoff.WithContext(b, ctx)
}

// Do runs op until it succeeds, returns a Permanent error, the retries run out or ctx ends.
// notify, when non-nil, is called before each wait.
func (p Policy) Do(ctx context.Context, op func() error, notify func(err error, wait time.Duration)) error {
	if notify == nil {
		return backoff.Retry(op, p.BackOff(ctx))
	}
	return backoff.RetryNotify(op, p.BackOff(ctx), notify)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
