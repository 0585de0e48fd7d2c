package commands

import (
	"fmt"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite existing configuration file"`
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	fmt.Fprintf(g.out(), "Writing configuration to %s\n", root.Config)
	if err := config.Init(root.Config, i.Force); err != nil {
		fmt.Fprintln(g.out(), "Initialization failed")
		return err
	}
	fmt.Fprintln(g.out(), "initialized successfully")
	return nil
}
