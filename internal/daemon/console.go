package daemon

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/command"
	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/version"
)

// ConsoleName is the caller name of operator console input.
const ConsoleName = "(console)"

// Dispatch runs one console or player command line.
func (d *Daemon) Dispatch(ctx context.Context, caller command.Caller, line string) error {
	return d.dispatcher.Dispatch(ctx, caller, line)
}

// Console reads command lines from r until EOF or ctx is done, writing replies to w.
func (d *Daemon) Console(ctx context.Context, r io.Reader, w io.Writer) {
	caller := command.NewWriterCaller(ConsoleName, w)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		_ = d.dispatcher.Dispatch(ctx, caller, scanner.Text())
	}
}

func requireArg(args, usage string) error {
	if strings.TrimSpace(args) == "" {
		return ferrors.RuntimeError("usage: " + usage).Warning().Build()
	}
	return nil
}

func (d *Daemon) registerBuiltins() error {
	builtins := []command.Command{
		&command.Func{
			CmdName: "cmdload", CmdHelp: "/cmdload [name] - loads the command module Cmd[name]",
			Run: func(ctx context.Context, c command.Caller, args string) error {
				if err := requireArg(args, "/cmdload [name]"); err != nil {
					return err
				}
				path, err := d.loader.CommandPath(args)
				if err != nil {
					return err
				}
				cmds, err := d.loader.LoadCommands(ctx, path)
				if err != nil {
					return err
				}
				c.Message("Loaded %d command(s) from %s.", len(cmds), args)
				return nil
			},
			Operator: true,
		},
		&command.Func{
			CmdName: "cmdunload", CmdHelp: "/cmdunload [name] - unloads the commands of module Cmd[name]",
			Run: func(_ context.Context, c command.Caller, args string) error {
				if err := requireArg(args, "/cmdunload [name]"); err != nil {
					return err
				}
				path, err := d.loader.CommandPath(args)
				if err != nil {
					return err
				}
				if err := d.loader.UnloadCommands(path); err != nil {
					return err
				}
				c.Message("Command module %s was unloaded.", args)
				return nil
			},
			Operator: true,
		},
		&command.Func{
			CmdName: "pluginload", CmdHelp: "/pluginload [name] - loads plugins/[name]",
			Run: func(ctx context.Context, c command.Caller, args string) error {
				if err := requireArg(args, "/pluginload [name]"); err != nil {
					return err
				}
				path, err := d.loader.PluginPath(args)
				if err != nil {
					return err
				}
				if err := d.loader.LoadPlugins(ctx, path, false); err != nil {
					return err
				}
				c.Message("Plugin module %s loaded.", args)
				return nil
			},
			Operator: true,
		},
		&command.Func{
			CmdName: "pluginunload", CmdHelp: "/pluginunload [plugin] - unloads a loaded plugin",
			Run: func(ctx context.Context, c command.Caller, args string) error {
				if err := requireArg(args, "/pluginunload [plugin]"); err != nil {
					return err
				}
				if err := d.plugins.Unload(ctx, args, false); err != nil {
					return err
				}
				c.Message("Plugin %s unloaded.", args)
				return nil
			},
			Operator: true,
		},
		&command.Func{
			CmdName: "plugins", CmdHelp: "/plugins - lists loaded plugins",
			Run: func(_ context.Context, c command.Caller, _ string) error {
				list := d.plugins.List()
				if len(list) == 0 {
					c.Message("No plugins loaded.")
					return nil
				}
				names := make([]string, len(list))
				for i, p := range list {
					names[i] = fmt.Sprintf("%s (by %s)", p.Name(), p.Creator())
				}
				c.Message("Loaded plugins: %s", strings.Join(names, ", "))
				return nil
			},
		},
		&command.Func{
			CmdName: "commands", CmdShortcut: "cmds", CmdHelp: "/commands - lists available commands",
			Run: func(_ context.Context, c command.Caller, _ string) error {
				list := d.commands.List()
				names := make([]string, len(list))
				for i, cmd := range list {
					names[i] = cmd.Name()
				}
				c.Message("Available commands: %s", strings.Join(names, ", "))
				return nil
			},
		},
		&command.Func{
			CmdName: "help", CmdHelp: "/help [command] - shows help for a command",
			Run: func(_ context.Context, c command.Caller, args string) error {
				if args == "" {
					c.Message("Use /commands to list commands and /help [command] for details.")
					return nil
				}
				cmd, ok := d.commands.Find(args)
				if !ok {
					return ferrors.NotFound(fmt.Sprintf("unknown command %q", args)).Build()
				}
				c.Message("%s", cmd.Help())
				return nil
			},
		},
		&command.Func{
			CmdName: "checkupdate", CmdHelp: "/checkupdate - checks for a newer version",
			Run: func(ctx context.Context, c command.Caller, _ string) error {
				newer, err := d.updater.Check(ctx)
				if err != nil {
					return err
				}
				if newer {
					c.Message("Update found, use /update to install it.")
				} else {
					c.Message("No update found, running %s.", version.Version)
				}
				return nil
			},
			Operator: true,
		},
		&command.Func{
			CmdName: "update", CmdHelp: "/update [latest] - installs the newest release, or the latest build",
			Run: func(ctx context.Context, c command.Caller, args string) error {
				release := !strings.EqualFold(strings.TrimSpace(args), "latest")
				c.Message("Updating server...")
				return d.updater.PerformUpdate(ctx, release)
			},
			Operator: true,
		},
		&command.Func{
			CmdName: "save", CmdHelp: "/save - saves all levels and player stats",
			Run: func(ctx context.Context, c command.Caller, _ string) error {
				if err := d.saveAll(ctx, nil); err != nil {
					return err
				}
				c.Message("Saved all levels and player stats.")
				return nil
			},
			Operator: true,
		},
		&command.Func{
			CmdName: "stop", CmdHelp: "/stop - shuts the server down",
			Run: func(_ context.Context, c command.Caller, _ string) error {
				c.Message("Server is shutting down.")
				d.sessions.KickAll("Server shutdown. Rejoin in 10 seconds.")
				d.RequestStop()
				return nil
			},
			Operator: true,
		},
	}
	return d.commands.RegisterAll(builtins)
}
