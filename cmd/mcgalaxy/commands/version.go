package commands

import (
	"fmt"
	"runtime"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/version"
)

// VersionCmd implements the 'version-info' command.
type VersionCmd struct{}

func (v *VersionCmd) Run(g *Global) error {
	fmt.Fprintf(g.out(), "mcgalaxy %s (commit %s, built %s, %s/%s)\n",
		version.Version, version.GitCommit, version.BuildTime, runtime.GOOS, runtime.GOARCH)
	return nil
}
