// Package daemon is the process context. It owns every long-lived component,
// runs the startup sequence and shuts the components down in order.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/alerting"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/bootstrap"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/command"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/config"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/extension"
	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/metrics"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/moderation"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/network"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/plugin"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/scheduler"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/sessions"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/telemetry"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/update"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/version"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/world"
)

// ErrRestart is returned by Run when the process should exit and be relaunched.
var ErrRestart = errors.New("restart requested")

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Daemon is the process-scoped context object.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	opener    extension.Opener
	status    atomic.Value // Status
	startTime time.Time
	stopChan  chan struct{}
	stopOnce  sync.Once
	stopMu    sync.Mutex
	restart   atomic.Bool

	runCtx       context.Context
	cancelRun    context.CancelFunc
	shutdownOnce sync.Once
	shutdownErr  error

	promReg  *prom.Registry
	recorder *metrics.PrometheusRecorder

	ready      *bootstrap.Ready
	sequencer  *bootstrap.Sequencer
	sched      *scheduler.Scheduler
	cron       *scheduler.Cron
	commands   *command.Registry
	dispatcher *command.Dispatcher
	plugins    *plugin.Manager
	loader     *extension.Loader
	watcher    *extension.Watcher
	updater    *update.Manager
	alerts     *alerting.Dispatcher
	natsSink   *alerting.NATSSink
	stats      *sessions.Store
	sessions   *sessions.Table
	world      *world.Store
	lists      *moderation.Lists
	listener   *network.Listener
	http       *HTTPServer
	workers    WorkerGroup

	telemetryShutdown func(context.Context) error
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithLogger sets the process logger.
func WithLogger(l *slog.Logger) Option { return func(d *Daemon) { d.logger = l } }

// WithOpener replaces the native module opener.
func WithOpener(o extension.Opener) Option { return func(d *Daemon) { d.opener = o } }

// New builds every component. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, ferrors.ConfigError("configuration is required").Build()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   slog.Default(),
		opener:   extension.NativeOpener{},
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.status.Store(StatusStopped)
	d.workers.logger = d.logger

	d.promReg = prom.NewRegistry()
	d.promReg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	d.recorder = metrics.NewPrometheusRecorder(d.promReg)

	d.ready = bootstrap.NewReady()
	d.sched = scheduler.New(scheduler.WithLogger(d.logger), scheduler.WithRecorder(d.recorder))
	cron, err := scheduler.NewCron(d.logger)
	if err != nil {
		return nil, err
	}
	d.cron = cron

	d.commands = command.NewRegistry()
	d.dispatcher = command.NewDispatcher(d.commands, d.ready, d.logger)
	d.plugins = plugin.NewManager(host{d: d})
	d.loader = extension.NewLoader(d.opener, d.commands, d.plugins, cfg.Paths, d.logger, d.recorder)

	stats, err := sessions.OpenStore(cfg.Storage.StatsDB)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "open stats database").
			WithContext("path", cfg.Storage.StatsDB).Build()
	}
	d.stats = stats
	d.sessions = sessions.NewTable(stats, cfg.Scheduler.AFKTimeout, d.logger, d.recorder,
		sessions.WithQueueSize(cfg.Scheduler.SessionQueueSize))
	d.world = world.NewStore(cfg.Paths.LevelsDir, d.logger)
	d.lists = moderation.New(cfg.Paths.ListsDir, d.logger)
	d.listener = network.NewListener(network.Options{
		Config:   cfg.Server,
		Ready:    d.ready,
		Sessions: d.sessions,
		Commands: d.dispatcher,
		Lists:    d.lists,
		Logger:   d.logger,
	})

	d.updater = update.New(update.Options{
		Config:    cfg.Update,
		Running:   version.Version,
		Binary:    BinaryName(cfg.Update),
		World:     d.world,
		Sessions:  d.sessions,
		Restarter: d,
		Logger:    d.logger,
		Recorder:  d.recorder,
	})
	d.http = NewHTTPServer(cfg.Monitoring, d.promReg, d.ready, d.stats, d.logger)

	if err := d.registerBuiltins(); err != nil {
		_ = stats.Close()
		return nil, err
	}
	d.sequencer = bootstrap.NewSequencer(d.sched.Main(), d.ready, d.logger, d.recorder)
	if err := d.sequencer.Add(d.steps()...); err != nil {
		_ = stats.Close()
		return nil, err
	}
	return d, nil
}

// BinaryName is the server executable the updater replaces.
func BinaryName(cfg config.UpdateConfig) string {
	if cfg.Binary != "" {
		return cfg.Binary
	}
	if exe, err := os.Executable(); err == nil {
		return filepath.Base(exe)
	}
	return "MCGalaxy"
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status { return d.status.Load().(Status) }

// Ready is the startup-complete flag.
func (d *Daemon) Ready() *bootstrap.Ready { return d.ready }

// Commands is the command registry.
func (d *Daemon) Commands() *command.Registry { return d.commands }

// Plugins is the plugin manager.
func (d *Daemon) Plugins() *plugin.Manager { return d.plugins }

// Updater is the update manager.
func (d *Daemon) Updater() *update.Manager { return d.updater }

// Scheduler returns the task scheduler.
func (d *Daemon) Scheduler() *scheduler.Scheduler { return d.sched }

// Sessions returns the connected-session table.
func (d *Daemon) Sessions() *sessions.Table { return d.sessions }

// Listener returns the client listener.
func (d *Daemon) Listener() *network.Listener { return d.listener }

// StartupResults returns the outcome of each startup step.
func (d *Daemon) StartupResults() []bootstrap.Result { return d.sequencer.Results() }

// Start launches the scheduler and runs the startup sequence. It returns once
// the server is ready, or with the error of a fatal step.
func (d *Daemon) Start(ctx context.Context) error {
	if d.Status() != StatusStopped {
		return ferrors.RuntimeError(fmt.Sprintf("daemon is not in stopped state: %s", d.Status())).Build()
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	d.runCtx, d.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	d.logger.Info("Starting server", logfields.Version(version.Version), slog.String("name", d.cfg.Server.Name))

	shutdown, err := telemetry.Setup(ctx, "mcgalaxy", d.cfg.Monitoring.OTLPEndpoint)
	if err != nil {
		d.logger.Warn("Tracing disabled", logfields.Error(err))
	} else {
		d.telemetryShutdown = shutdown
	}

	if err := d.http.Start(); err != nil {
		d.logger.Warn("Monitoring HTTP server failed to start", logfields.Error(err))
	}

	d.sched.Start(ctx)
	d.cron.Start()

	if err := d.sequencer.Run(ctx); err != nil {
		d.status.Store(StatusError)
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_ = d.shutdown(stopCtx)
		d.status.Store(StatusError)
		return err
	}

	d.status.Store(StatusRunning)
	d.logger.Info("Server started", slog.Duration("startup", time.Since(d.startTime)))
	return nil
}

// Run starts the daemon and blocks until ctx is done, the server is stopped
// or a restart is requested, then stops it. A restart yields ErrRestart.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		d.logger.Info("Shutdown signal received")
	case <-d.stopChan:
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		return err
	}
	if d.restart.Load() {
		return ErrRestart
	}
	return nil
}

// RequestStop asks Run to stop the server.
func (d *Daemon) RequestStop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
}

// Restart asks Run to stop the server and report ErrRestart so the supervisor
// relaunches the binary.
func (d *Daemon) Restart(reason string) {
	d.logger.Info("Restart requested", slog.String("reason", reason))
	d.restart.Store(true)
	d.sessions.KickAll("Server restarting: " + reason)
	d.RequestStop()
}

// RestartRequested reports whether Restart was called.
func (d *Daemon) RestartRequested() bool { return d.restart.Load() }

// Stop shuts the daemon down. It is safe to call more than once.
func (d *Daemon) Stop(ctx context.Context) error {
	d.stopMu.Lock()
	defer d.stopMu.Unlock()
	switch d.Status() {
	case StatusStopping:
		return nil
	case StatusStopped:
		if d.startTime.IsZero() {
			return d.stats.Close()
		}
		return nil
	}
	d.status.Store(StatusStopping)
	d.logger.Info("Stopping server")
	d.RequestStop()
	err := d.shutdown(ctx)
	d.status.Store(StatusStopped)
	d.logger.Info("Server stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return err
}

// shutdown stops components in dependency order: connections, timers,
// plugins, scheduler, then persistence and monitoring. Only the first call acts.
func (d *Daemon) shutdown(ctx context.Context) error {
	d.shutdownOnce.Do(func() { d.shutdownErr = d.stopComponents(ctx) })
	return d.shutdownErr
}

func (d *Daemon) stopComponents(ctx context.Context) error {
	var errs []error
	record := func(what string, err error) {
		if err != nil {
			d.logger.Error("Shutdown step failed", slog.String("step", what), logfields.Error(err))
			errs = append(errs, err)
		}
	}

	record("close listener", d.listener.Close())
	if d.watcher != nil {
		record("stop plugin watcher", d.watcher.Stop())
	}
	record("stop cron", d.cron.Stop())
	record("unload plugins", d.plugins.UnloadAll(ctx, true))
	record("stop scheduler", d.sched.Stop(ctx))
	if d.cancelRun != nil {
		d.cancelRun()
	}
	record("stop workers", d.workers.StopAndWait(ctx))
	record("flush sessions", d.sessions.FlushAll(ctx))
	record("save levels", d.world.SaveAll(ctx))
	record("close stats store", d.stats.Close())
	if d.natsSink != nil {
		record("close alerts", d.natsSink.Close())
	}
	record("stop http", d.http.Stop(ctx))
	if d.telemetryShutdown != nil {
		record("flush traces", d.telemetryShutdown(ctx))
	}
	return errors.Join(errs...)
}
