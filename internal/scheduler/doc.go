// Package scheduler runs delayed and recurring callbacks on independent
// scheduling domains.
//
// A Domain owns one due-time ordered queue and one dispatch goroutine, so
// tasks in a domain never overlap while separate domains run in parallel.
// The Scheduler always provides two domains: Main for best-effort work
// (saves, update checks, extension loading) and Critical for fixed-cadence
// ticks that must not wait behind slow callbacks.
//
// Recurring tasks use fixed-delay semantics: the next run is due Interval
// after the previous run completed, whether it succeeded, failed or panicked.
package scheduler
