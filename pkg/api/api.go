// Package api is the contract between the server and separately built
// extension modules.
//
// A command module exports a Commands symbol and a plugin module exports a
// Plugins symbol, in any of these forms:
//
//	var Commands = []api.Command{&CmdSpin{}}
//	func Commands() []api.Command { ... }
//	func Commands() ([]api.Command, error) { ... }
//
//	func Plugins() []api.Plugin { ... }
//
// Modules import only this package; everything else in the server is internal.
package api

import (
	"context"
	"log/slog"
	"time"
)

// Entry symbols looked up in a module.
const (
	CommandsSymbol = "Commands"
	PluginsSymbol  = "Plugins"
)

// Caller is whoever issued a command.
type Caller interface {
	Name() string
	Message(format string, args ...any)
}

// OperatorCaller is implemented by callers that may use operator commands.
// Callers that do not implement it are treated as ordinary players.
type OperatorCaller interface {
	IsOperator() bool
}

// Command is a named action invoked by a Caller.
type Command interface {
	Name() string
	// Shortcut is an optional alias; empty when there is none.
	Shortcut() string
	Help() string
	Use(ctx context.Context, caller Caller, args string) error
}

// OperatorCommand is implemented by commands restricted to operators.
type OperatorCommand interface {
	OperatorOnly() bool
}

// RequiresOperator reports whether cmd may only be used by an operator.
func RequiresOperator(cmd Command) bool {
	oc, ok := cmd.(OperatorCommand)
	return ok && oc.OperatorOnly()
}

// IsOperator reports whether caller may use operator commands.
func IsOperator(caller Caller) bool {
	oc, ok := caller.(OperatorCaller)
	return ok && oc.IsOperator()
}

// Task is a handle to queued work.
type Task interface {
	Name() string
	// Cancel stops the task; a run already in progress finishes.
	Cancel()
	// SetInterval changes the delay before the next run. Zero makes it one-shot.
	SetInterval(d time.Duration)
}

// TaskFunc is the body of a queued task.
type TaskFunc func(ctx context.Context) error

// Scheduler queues work on a server scheduling domain.
type Scheduler interface {
	QueueOnce(name string, fn TaskFunc, delay time.Duration) Task
	// QueueRepeat runs fn every interval, measured from the end of the previous run.
	QueueRepeat(name string, fn TaskFunc, interval time.Duration) Task
}

// Commands is the server's command table.
type Commands interface {
	Register(cmd Command) error
	Unregister(names ...string) int
	// Find looks a command up by name or shortcut, case-insensitively.
	Find(name string) (Command, bool)
}

// Host is the part of the server a plugin may use.
type Host interface {
	Logger() *slog.Logger
	ServerVersion() string
	// Main is the best-effort scheduling domain.
	Main() Scheduler
	Commands() Commands
}

// Plugin is implemented by plugin modules.
type Plugin interface {
	// Name is the unique plugin identifier.
	Name() string

	// Creator names the plugin author.
	Creator() string

	// MinServerVersion is the oldest server version the plugin works with. Empty means any.
	MinServerVersion() string

	// Load attaches the plugin. startup is true during server boot autoload.
	Load(ctx context.Context, host Host, startup bool) error

	// Unload detaches the plugin. shutdown is true when the server is stopping.
	Unload(ctx context.Context, shutdown bool) error
}
