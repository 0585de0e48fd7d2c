// Package normalization folds free-form configuration strings onto typed enums.
package normalization

import (
	"fmt"
	"sort"
	"strings"
)

// Normalizer maps case-insensitive, whitespace-trimmed input to enum values.
type Normalizer[T comparable] struct {
	values       map[string]T
	defaultValue T
	keys         []string
}

// NewNormalizer creates a normalizer. Keys of values may be aliases of the same value.
func NewNormalizer[T comparable](values map[string]T, defaultValue T) *Normalizer[T] {
	n := &Normalizer[T]{values: make(map[string]T, len(values)), defaultValue: defaultValue}
	for k, v := range values {
		key := clean(k)
		n.values[key] = v
		n.keys = append(n.keys, key)
	}
	sort.Strings(n.keys)
	return n
}

// Normalize returns the value for raw, or the default when raw is unknown.
func (n *Normalizer[T]) Normalize(raw string) T {
	if v, ok := n.values[clean(raw)]; ok {
		return v
	}
	return n.defaultValue
}

// Lookup returns the value for raw and whether raw is known.
func (n *Normalizer[T]) Lookup(raw string) (T, bool) {
	v, ok := n.values[clean(raw)]
	return v, ok
}

// NormalizeWithError is Lookup with a descriptive error listing the accepted keys.
func (n *Normalizer[T]) NormalizeWithError(raw string) (T, error) {
	if v, ok := n.Lookup(raw); ok {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid value %q, valid options: %v", raw, n.keys)
}

// ValidKeys returns the accepted keys, sorted.
func (n *Normalizer[T]) ValidKeys() []string {
	return append([]string(nil), n.keys...)
}

func clean(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
