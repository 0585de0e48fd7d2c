// Package commands implements the mcgalaxy command line.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/config"
)

// Global is shared state handed to every subcommand.
type Global struct {
	Logger *slog.Logger
	Out    io.Writer
}

// CLI definition and global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"server.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve      ServeCmd   `cmd:"" default:"1" help:"Run the server"`
	Update     UpdateCmd  `cmd:"" help:"Check for or install server updates"`
	Init       InitCmd    `cmd:"" help:"Write a default configuration file"`
	VersionCmd VersionCmd `cmd:"" name:"version-info" help:"Show version and build information"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// ExitCodeError asks main to exit with a specific status.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string { return fmt.Sprintf("exit %d: %v", e.Code, e.Err) }
func (e *ExitCodeError) Unwrap() error { return e.Err }

// loadConfig reads the configuration and switches the process logger to its logging section.
func loadConfig(g *Global, root *CLI) (*config.Config, error) {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return nil, err
	}
	g.Logger = cfg.Monitoring.Logging.NewLogger(os.Stderr, root.Verbose)
	slog.SetDefault(g.Logger)
	return cfg, nil
}

func (g *Global) out() io.Writer {
	if g.Out == nil {
		return os.Stdout
	}
	return g.Out
}
