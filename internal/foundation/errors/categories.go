package errors

import "maps"

// ErrorCategory represents the broad category of an error for classification and routing.
type ErrorCategory string

const (
	// CategoryNotFound means a referenced file, module or entry does not exist.
	CategoryNotFound            ErrorCategory = "not_found"
	CategoryMalformedModule     ErrorCategory = "malformed_module"
	CategoryEmptyModule         ErrorCategory = "empty_module"
	CategoryConstructionFailure ErrorCategory = "construction_failure"
	CategoryNameCollision       ErrorCategory = "name_collision"

	// CategoryNetwork represents remote version source and artifact download errors.
	CategoryNetwork    ErrorCategory = "network"
	CategoryFileSystem ErrorCategory = "filesystem"

	// CategoryConfig represents configuration and operator input errors.
	CategoryConfig   ErrorCategory = "config"
	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// Describe returns the operator-facing label for a category.
func (c ErrorCategory) Describe() string {
	switch c {
	case CategoryNotFound:
		return "not found"
	case CategoryMalformedModule:
		return "malformed module"
	case CategoryEmptyModule:
		return "empty module"
	case CategoryConstructionFailure:
		return "construction failure"
	case CategoryNameCollision:
		return "name collision"
	case CategoryNetwork:
		return "network failure"
	case CategoryFileSystem:
		return "file system failure"
	case CategoryConfig:
		return "configuration error"
	case CategoryRuntime:
		return "runtime error"
	default:
		return "internal error"
	}
}

// ErrorSeverity indicates the impact level of an error.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution completely
	SeverityError   ErrorSeverity = "error"   // Fails the current operation
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// RetryStrategy indicates how an error should be handled in retry scenarios.
type RetryStrategy string

const (
	RetryNever      RetryStrategy = "never"     // Permanent failure, don't retry
	RetryImmediate  RetryStrategy = "immediate" // Retry immediately
	RetryBackoff    RetryStrategy = "backoff"   // Retry with exponential backoff
	RetryUserAction RetryStrategy = "user"      // Requires operator intervention
)

// ErrorContext provides structured context for errors.
type ErrorContext map[string]any

// Set adds or updates a context value.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		c = make(ErrorContext)
	}
	c[key] = value
	return c
}

// Get retrieves a context value.
func (c ErrorContext) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	value, exists := c[key]
	return value, exists
}

// GetString retrieves a string context value.
func (c ErrorContext) GetString(key string) (string, bool) {
	if value, exists := c.Get(key); exists {
		if str, ok := value.(string); ok {
			return str, true
		}
	}
	return "", false
}

// Merge combines two contexts, with other taking precedence.
func (c ErrorContext) Merge(other ErrorContext) ErrorContext {
	if c == nil {
		return other
	}
	if other == nil {
		return c
	}
	result := make(ErrorContext)
	maps.Copy(result, c)
	maps.Copy(result, other)
	return result
}
