package daemon

import (
	"log/slog"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/version"
	"github.com/RandomStrangers/MCGalaxy-Extended/pkg/api"
)

// host is what plugins see of the daemon.
type host struct{ d *Daemon }

func (h host) Logger() *slog.Logger   { return h.d.logger.With(slog.String("component", "plugin")) }
func (h host) ServerVersion() string  { return version.Version }
func (h host) Main() api.Scheduler    { return h.d.sched.Main().ForModules() }
func (h host) Commands() api.Commands { return h.d.commands }
