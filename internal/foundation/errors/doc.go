// Package errors provides the classified error primitives used across the server core.
//
// Every failure that reaches an operator is a ClassifiedError carrying a category from the
// server's taxonomy (module loading, naming, network, filesystem), a severity, and a retry
// strategy. A fluent ErrorBuilder keeps construction uniform.
//
// Key features:
//   - ErrorCategory: NotFound, MalformedModule, EmptyModule, ConstructionFailure, NameCollision,
//     Network, FileSystem, plus Config, Runtime and Internal for the ambient layers
//   - ErrorSeverity: Impact level (fatal, error, warning, info)
//   - RetryStrategy: Retry behavior (never, immediate, backoff, user action)
//   - ClassifiedError: Structured error with category, severity, and context
//   - ErrorBuilder: Fluent API for creating classified errors
//   - CLI adapter for exit codes and operator-facing messages
//
// Example usage:
//
//	err := errors.NameCollision("/" + name + " is already loaded").
//		WithContext("module", path).
//		Build()
package errors
