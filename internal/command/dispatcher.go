package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
	"github.com/RandomStrangers/MCGalaxy-Extended/pkg/api"
)

// ReadyChecker reports whether startup has completed.
type ReadyChecker interface {
	IsSet() bool
}

// Dispatcher parses a command line and runs the matching command.
type Dispatcher struct {
	commands *Registry
	ready    ReadyChecker
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. Lines are refused until ready reports true.
func NewDispatcher(commands *Registry, ready ReadyChecker, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{commands: commands, ready: ready, logger: logger}
}

// Dispatch runs line ("name args...") on behalf of caller. A leading "/" is ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, caller Caller, line string) (err error) {
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	if line == "" {
		return nil
	}
	name, args, _ := strings.Cut(line, " ")
	args = strings.TrimSpace(args)

	if d.ready != nil && !d.ready.IsSet() {
		caller.Message("Server is still starting, please wait.")
		return ferrors.RuntimeError("server not ready").WithSeverity(ferrors.SeverityWarning).
			WithContext("command", name).Build()
	}

	cmd, ok := d.commands.Find(name)
	if !ok {
		caller.Message("Unknown command \"%s\".", name)
		return ferrors.NotFound("unknown command").WithContext("command", name).Build()
	}
	if api.RequiresOperator(cmd) && !api.IsOperator(caller) {
		d.logger.Warn("Operator command refused", logfields.Command(cmd.Name()), slog.String("caller", caller.Name()))
		caller.Message("Only the server operator can use /%s.", cmd.Name())
		return ferrors.RuntimeError("command requires operator").WithSeverity(ferrors.SeverityWarning).
			WithContext("command", cmd.Name()).WithContext("caller", caller.Name()).Build()
	}

	log := d.logger.With(logfields.Command(cmd.Name()), slog.String("caller", caller.Name()))
	defer func() {
		if r := recover(); r != nil {
			err = ferrors.RuntimeError(fmt.Sprintf("command panicked: %v", r)).
				WithContext("command", cmd.Name()).Build()
		}
		if err != nil {
			log.Error("Command failed", logfields.Error(err))
			caller.Message("An error occurred when using the command: %s", ferrors.FormatError(err, false))
		}
	}()
	log.Debug("Command used", slog.String("args", args))
	return cmd.Use(ctx, caller, args)
}
