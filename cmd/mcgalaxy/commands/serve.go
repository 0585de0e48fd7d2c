package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/daemon"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	NoConsole bool `name:"no-console" help:"Do not read operator commands from stdin"`
}

func (s *ServeCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfg, daemon.WithLogger(g.Logger))
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if !s.NoConsole {
		go d.Console(ctx, os.Stdin, g.out())
	}

	err = d.Run(ctx)
	if errors.Is(err, daemon.ErrRestart) {
		g.Logger.Info("Exiting for restart")
		return &ExitCodeError{Code: cfg.Update.RestartExitCode, Err: err}
	}
	return err
}
