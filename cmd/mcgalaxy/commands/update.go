package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/config"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/daemon"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/update"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/version"
)

// UpdateCmd groups the offline update subcommands.
type UpdateCmd struct {
	Check UpdateCheckCmd `cmd:"" help:"Report whether a newer release is published"`
	Apply UpdateApplyCmd `cmd:"" help:"Download and install the newest release while the server is stopped"`
}

// UpdateCheckCmd implements 'update check'.
type UpdateCheckCmd struct{}

func (u *UpdateCheckCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	newer, err := offlineUpdater(g, cfg).NeedsUpdating(ctx)
	if err != nil {
		return err
	}
	if newer {
		fmt.Fprintf(g.out(), "An update is available (running %s).\n", version.Version)
	} else {
		fmt.Fprintf(g.out(), "Up to date (%s).\n", version.Version)
	}
	return nil
}

// UpdateApplyCmd implements 'update apply'.
type UpdateApplyCmd struct {
	Latest bool `help:"Install the latest development build instead of the newest release"`
}

func (u *UpdateApplyCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := offlineUpdater(g, cfg).PerformUpdate(ctx, !u.Latest); err != nil {
		return err
	}
	fmt.Fprintln(g.out(), "Update installed. Start the server to run the new version.")
	return nil
}

// offlineUpdater has no world or sessions to flush and nothing to restart.
func offlineUpdater(g *Global, cfg *config.Config) *update.Manager {
	return update.New(update.Options{
		Config:  cfg.Update,
		Running: version.Version,
		Binary:  daemon.BinaryName(cfg.Update),
		Logger:  g.Logger,
	})
}
