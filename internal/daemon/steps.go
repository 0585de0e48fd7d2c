package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/alerting"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/bootstrap"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/extension"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/scheduler"
)

// Startup step names.
const (
	StepLoadLists        = "load-lists"
	StepModerationTasks  = "queue-moderation-tasks"
	StepMainLevel        = "load-main-level"
	StepAutoloadLevels   = "autoload-levels"
	StepAutoloadCommands = "autoload-commands"
	StepAutoloadPlugins  = "autoload-plugins"
	StepWatchPlugins     = "watch-plugins"
	StepSessionTicks     = "queue-session-ticks"
	StepMaintenance      = "schedule-maintenance"
	StepUpdateChecks     = "schedule-update-checks"
	StepAlerting         = "start-alerting"
	StepBind             = "bind-listener"
)

const pluginWatchDebounce = 500 * time.Millisecond

// steps is the startup table. Only binding the socket is fatal.
func (d *Daemon) steps() []bootstrap.Step {
	return []bootstrap.Step{
		{Name: StepLoadLists, Run: d.lists.Load},
		{Name: StepModerationTasks, After: []string{StepLoadLists}, Run: d.queueModeration},
		{Name: StepMainLevel, Run: d.loadMainLevel},
		{Name: StepAutoloadLevels, After: []string{StepMainLevel}, Run: d.autoloadLevels},
		{Name: StepAutoloadCommands, Run: d.autoloadCommands},
		{Name: StepAutoloadPlugins, After: []string{StepAutoloadCommands, StepMainLevel}, Run: d.autoloadPlugins},
		{Name: StepWatchPlugins, After: []string{StepAutoloadPlugins}, Run: d.watchPlugins},
		{Name: StepSessionTicks, Run: d.queueSessionTicks},
		{Name: StepMaintenance, After: []string{StepMainLevel}, Run: d.scheduleMaintenance},
		{Name: StepAlerting, Run: d.startAlerting},
		{Name: StepBind, After: []string{StepMainLevel, StepLoadLists}, Fatal: true, Run: d.bind},
		// Last, so a slow version source never holds up binding or readiness.
		{Name: StepUpdateChecks, After: []string{StepAlerting, StepBind}, Run: d.scheduleUpdateChecks},
	}
}

func (d *Daemon) queueModeration(context.Context) error {
	d.sched.Main().QueueRepeat("moderation-expire", d.lists.MaintenanceTask, d.cfg.Scheduler.ModerationInterval)
	return nil
}

func (d *Daemon) loadMainLevel(ctx context.Context) error {
	_, generated, err := d.world.LoadOrGenerate(ctx, d.cfg.Server.MainLevel)
	if err != nil {
		return err
	}
	if generated {
		d.logger.Info("Generated main level", slog.String("level", d.cfg.Server.MainLevel))
	}
	return nil
}

func (d *Daemon) autoloadLevels(ctx context.Context) error {
	n, err := d.world.Autoload(ctx, d.cfg.Paths.LevelAutoload)
	if err != nil {
		return err
	}
	d.logger.Info("Autoloaded levels", slog.Int("count", n))
	return nil
}

func (d *Daemon) autoloadCommands(ctx context.Context) error {
	n, err := d.loader.AutoloadFromManifest(ctx, d.cfg.Paths.CommandAutoload)
	if err != nil {
		return err
	}
	d.logger.Info("Autoloaded command modules", slog.Int("count", n))
	return nil
}

func (d *Daemon) autoloadPlugins(ctx context.Context) error {
	if !d.cfg.Plugins.Autoload {
		return nil
	}
	return d.loader.AutoloadFromDirectory(ctx, d.cfg.Paths.PluginsDir)
}

func (d *Daemon) watchPlugins(ctx context.Context) error {
	if !d.cfg.Plugins.Watch {
		return nil
	}
	main := d.sched.Main()
	w, err := extension.NewWatcher(d.cfg.Paths.PluginsDir, d.cfg.Paths.ModuleExt, pluginWatchDebounce, func(path string) {
		// Loading runs on the main domain like every other module operation.
		main.QueueOnce("hotload "+path, func(ctx context.Context, _ *scheduler.Task) error {
			return d.loader.LoadPlugins(ctx, path, false)
		}, 0)
	}, d.logger)
	if err != nil {
		return err
	}
	if err := w.Start(d.runCtx); err != nil {
		return err
	}
	d.watcher = w
	return nil
}

func (d *Daemon) queueSessionTicks(context.Context) error {
	critical := d.sched.Critical()
	critical.QueueRepeat("position-update", d.sessions.PositionTick, d.cfg.Scheduler.PositionUpdateInterval)
	critical.QueueRepeat("session-tick", d.sessions.Tick, d.cfg.Scheduler.SessionTickInterval)
	return nil
}

func (d *Daemon) saveAll(ctx context.Context, _ *scheduler.Task) error {
	if err := d.world.SaveAll(ctx); err != nil {
		return err
	}
	return d.sessions.FlushAll(ctx)
}

func (d *Daemon) scheduleMaintenance(context.Context) error {
	if d.cfg.Maintenance.SaveCron == "" {
		return nil
	}
	_, err := d.cron.ScheduleCron("save-all", d.cfg.Maintenance.SaveCron, d.sched.Main(), d.saveAll)
	return err
}

func (d *Daemon) startAlerting(context.Context) error {
	sinks := []alerting.Sink{alerting.LogSink{Logger: d.logger}}
	if url := d.cfg.Alerts.NATSURL; url != "" {
		sink, err := alerting.NewNATSSink(url, d.cfg.Alerts.Subject, d.logger)
		if err != nil {
			d.logger.Warn("NATS alerting unavailable", logfields.Error(err))
		} else {
			d.natsSink = sink
			sinks = append(sinks, sink)
		}
	}
	if d.cfg.Update.AutoApply {
		sinks = append(sinks, alerting.AutoApply{
			Domain:  d.sched.Main(),
			Updater: d.updater,
			Release: d.cfg.Update.Channel == "release",
		})
	}
	d.alerts = alerting.NewDispatcher(d.logger, sinks...)

	events, unsubscribe := d.updater.Notifier().Subscribe(4)
	ctx := d.runCtx
	d.workers.Go("alerting", func() {
		defer unsubscribe()
		d.alerts.Run(ctx, events)
	})
	return nil
}

// scheduleUpdateChecks queues the first check to run once startup has
// finished and then on the configured interval, or on the cron expression
// when one is set.
func (d *Daemon) scheduleUpdateChecks(context.Context) error {
	main := d.sched.Main()
	if expr := d.cfg.Update.CheckCron; expr != "" {
		_, err := d.cron.ScheduleCron("update-check", expr, main, func(ctx context.Context, _ *scheduler.Task) error {
			if !d.cfg.Update.CheckForUpdates {
				return nil
			}
			_, err := d.updater.Check(ctx)
			return err
		})
		return err
	}
	main.QueueOnce("update-check", d.updater.CheckTask(d.cfg.Update.CheckInterval), 0)
	return nil
}

func (d *Daemon) bind(context.Context) error {
	if err := d.listener.Bind(); err != nil {
		return err
	}
	ctx := d.runCtx
	d.workers.Go("listener", func() {
		if err := d.listener.Serve(ctx); err != nil {
			d.logger.Error("Listener stopped", logfields.Error(err))
		}
	})
	return nil
}
