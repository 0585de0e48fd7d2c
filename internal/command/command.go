// Package command defines the command capability and the dispatcher that
// routes operator and player input to registered commands.
package command

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/registry"
	"github.com/RandomStrangers/MCGalaxy-Extended/pkg/api"
)

type (
	// Command is a named action invoked by a Caller.
	Command = api.Command
	// Caller is whoever issued a command.
	Caller = api.Caller
)

// Registry is the process-wide command table.
type Registry = registry.Registry[Command]

// NewRegistry creates an empty command table.
func NewRegistry() *Registry { return registry.New[Command]("command") }

// Func adapts a function into a Command.
type Func struct {
	CmdName     string
	CmdShortcut string
	CmdHelp     string
	Run         func(ctx context.Context, caller Caller, args string) error

	// Operator restricts the command to operator callers.
	Operator bool
}

func (f *Func) Name() string       { return f.CmdName }
func (f *Func) Shortcut() string   { return f.CmdShortcut }
func (f *Func) Help() string       { return f.CmdHelp }
func (f *Func) OperatorOnly() bool { return f.Operator }
func (f *Func) Use(ctx context.Context, caller Caller, args string) error {
	return f.Run(ctx, caller, args)
}

// WriterCaller is a Caller that prints to a writer, used for the operator console.
type WriterCaller struct {
	mu   sync.Mutex
	name string
	w    io.Writer
}

// NewWriterCaller returns a caller named name writing lines to w.
func NewWriterCaller(name string, w io.Writer) *WriterCaller {
	return &WriterCaller{name: name, w: w}
}

func (c *WriterCaller) Name() string { return c.name }

// IsOperator is always true; only the process owner has the console.
func (c *WriterCaller) IsOperator() bool { return true }

func (c *WriterCaller) Message(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format+"\n", args...)
}
