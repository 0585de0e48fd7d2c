package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the running server version.
// This should be set via build-time ldflags in production:
// go build -ldflags "-X github.com/RandomStrangers/MCGalaxy-Extended/internal/version.Version=1.9.5.4".
var Version = "1.9.5.3"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Number is a dotted numeric version such as 1.9.5.3.
type Number []int

// Parse reads a dotted numeric version string. Surrounding whitespace (a trailing newline from
// a plain-text HTTP body, for instance) is ignored, as is a leading "v".
func Parse(raw string) (Number, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "v")
	if s == "" {
		return nil, fmt.Errorf("empty version string")
	}
	parts := strings.Split(s, ".")
	n := make(Number, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid version %q: field %d is not a non-negative integer", raw, i+1)
		}
		n[i] = v
	}
	return n, nil
}

// Compare returns -1, 0 or 1 comparing fields left to right (major, then minor, then patch, ...).
// Missing trailing fields compare as zero, so 2.0 equals 2.0.0.
func (n Number) Compare(other Number) int {
	size := max(len(n), len(other))
	for i := range size {
		a, b := field(n, i), field(other, i)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}
	return 0
}

func (n Number) String() string {
	parts := make([]string, len(n))
	for i, v := range n {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}

func field(n Number, i int) int {
	if i < len(n) {
		return n[i]
	}
	return 0
}

// Newer reports whether remote is strictly greater than running.
func Newer(remote, running string) (bool, error) {
	r, err := Parse(remote)
	if err != nil {
		return false, fmt.Errorf("remote version: %w", err)
	}
	cur, err := Parse(running)
	if err != nil {
		return false, fmt.Errorf("running version: %w", err)
	}
	return r.Compare(cur) > 0, nil
}
