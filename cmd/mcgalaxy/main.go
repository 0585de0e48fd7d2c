package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/RandomStrangers/MCGalaxy-Extended/cmd/mcgalaxy/commands"
	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/version"
)

func main() {
	var cli commands.CLI
	kctx := kong.Parse(&cli,
		kong.Name("mcgalaxy"),
		kong.Description("MCGalaxy-Extended classic server"),
		kong.Vars{"version": version.Version},
		kong.UsageOnError(),
	)

	err := kctx.Run(&commands.Global{Logger: slog.Default(), Out: os.Stdout})
	var exit *commands.ExitCodeError
	if errors.As(err, &exit) {
		os.Exit(exit.Code)
	}
	ferrors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
}
