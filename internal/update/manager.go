// Package update checks a remote version source and replaces the running
// server binaries with newer ones, then asks for a restart.
package update

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/config"
	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/metrics"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/retry"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/scheduler"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/version"
)

const tracerName = "github.com/RandomStrangers/MCGalaxy-Extended/internal/update"

// WorldSaver persists every loaded world.
type WorldSaver interface {
	SaveAll(ctx context.Context) error
}

// SessionFlusher persists per-session state of every connected client.
type SessionFlusher interface {
	FlushAll(ctx context.Context) error
}

// Restarter ends the process so a supervisor relaunches it from the new binaries.
type Restarter interface {
	Restart(reason string)
}

// Options configures a Manager.
type Options struct {
	Config config.UpdateConfig
	// Running is the version of this process.
	Running string
	// Binary is the live server binary file name inside Config.WorkDir.
	Binary    string
	Fetcher   *Fetcher
	World     WorldSaver
	Sessions  SessionFlusher
	Restarter Restarter
	Notifier  *Notifier
	Logger    *slog.Logger
	Recorder  metrics.Recorder
}

// Manager owns the update state machine. One check or update runs at a time.
type Manager struct {
	cfg       config.UpdateConfig
	running   string
	binary    string
	fetcher   *Fetcher
	world     WorldSaver
	sessions  SessionFlusher
	restarter Restarter
	notifier  *Notifier
	logger    *slog.Logger
	recorder  metrics.Recorder
	tracer    trace.Tracer

	state atomic.Int32
	cycle sync.Mutex

	rename  func(oldpath, newpath string) error
	onState func(State)
}

// New creates an idle manager.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewFetcher(nil, retry.FromConfig(opts.Config.Retry), opts.Config.Timeout, logger)
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewNotifier(logger)
	}
	return &Manager{
		cfg:       opts.Config,
		running:   opts.Running,
		binary:    opts.Binary,
		fetcher:   fetcher,
		world:     opts.World,
		sessions:  opts.Sessions,
		restarter: opts.Restarter,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "updater")),
		recorder:  metrics.OrNoop(opts.Recorder),
		tracer:    otel.Tracer(tracerName),
		rename:    os.Rename,
	}
}

// Notifier returns the "update available" notification channel registry.
func (m *Manager) Notifier() *Notifier { return m.notifier }

// State returns the current update state.
func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) setState(s State) {
	prev := State(m.state.Swap(int32(s)))
	if prev == s {
		return
	}
	m.logger.Debug("Update state changed", slog.String("from", prev.String()), logfields.State(s.String()))
	if m.onState != nil {
		m.onState(s)
	}
}

// finish returns to idle unless a restart is pending.
func (m *Manager) finish() {
	if m.State() != StateRestartPending {
		m.setState(StateIdle)
	}
}

func (m *Manager) remote(ctx context.Context) (string, bool, error) {
	body, err := m.fetcher.FetchString(ctx, m.cfg.CurrentVersionURL)
	if err != nil {
		return "", false, err
	}
	newer, err := version.Newer(body, m.running)
	if err != nil {
		return body, false, ferrors.WrapError(err, ferrors.CategoryNetwork, "version source returned an invalid version").
			WithContext("url", m.cfg.CurrentVersionURL).Build()
	}
	return body, newer, nil
}

// NeedsUpdating reports whether the remote version is strictly newer than the running one.
func (m *Manager) NeedsUpdating(ctx context.Context) (bool, error) {
	_, newer, err := m.remote(ctx)
	return newer, err
}

// Check queries the version source, publishes an Event when a newer version
// exists, and returns whether one does.
func (m *Manager) Check(ctx context.Context) (bool, error) {
	if !m.cycle.TryLock() {
		return false, ferrors.RuntimeError("an update is already in progress").Warning().Build()
	}
	defer m.cycle.Unlock()

	ctx, span := m.tracer.Start(ctx, "update.check", trace.WithAttributes(attribute.String("running", m.running)))
	defer span.End()

	m.setState(StateChecking)
	defer m.finish()

	remote, newer, err := m.remote(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "check failed")
		m.recorder.IncUpdateOutcome("check", metrics.ResultFailed)
		return false, err
	}
	span.SetAttributes(attribute.String("remote", remote), attribute.Bool("newer", newer))
	m.recorder.IncUpdateOutcome("check", metrics.ResultSuccess)

	if !newer {
		m.setState(StateUpToDate)
		m.logger.Info("No update found", logfields.Version(m.running))
		return false, nil
	}
	m.setState(StateUpdateAvailable)
	m.logger.Info("Update available", logfields.Version(remote), slog.String("running", m.running))
	m.notifier.Publish(Event{Running: m.running, Remote: remote, At: time.Now()})
	return true, nil
}

// CheckTask returns a scheduler callback that checks for updates when enabled
// and then sets the task to repeat every interval. Failures are returned for the
// domain to log; they never unschedule the task.
func (m *Manager) CheckTask(interval time.Duration) scheduler.Callback {
	return func(ctx context.Context, task *scheduler.Task) error {
		task.SetInterval(interval)
		if !m.cfg.CheckForUpdates {
			return nil
		}
		_, err := m.Check(ctx)
		return err
	}
}

func (m *Manager) path(name string) string { return filepath.Join(m.cfg.WorkDir, name) }

// PerformUpdate downloads the channel's artifacts, saves state, swaps the live
// binaries and requests a restart. release selects the release channel over latest.
// Any failure aborts the remaining steps; until the swap starts, the live binaries
// are untouched, and a failed swap is rolled back.
func (m *Manager) PerformUpdate(ctx context.Context, release bool) (err error) {
	if !m.cycle.TryLock() {
		return ferrors.RuntimeError("an update is already in progress").Warning().Build()
	}
	defer m.cycle.Unlock()

	channel := Channel(release)
	ctx, span := m.tracer.Start(ctx, "update.perform", trace.WithAttributes(attribute.String("channel", channel)))
	defer span.End()
	defer m.finish()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "update failed")
			m.logger.Error("Error performing update", logfields.Error(err))
		}
	}()

	artifacts := Plan(m.cfg, m.binary, release)
	m.cleanup(artifacts)

	m.setState(StateDownloading)
	m.logger.Info("Downloading update files", slog.String("channel", channel))
	if err := m.download(ctx, artifacts); err != nil {
		m.removeStaged(artifacts)
		m.recorder.IncUpdateOutcome("download", metrics.ResultFailed)
		return err
	}
	m.recorder.IncUpdateOutcome("download", metrics.ResultSuccess)
	m.setState(StateStaged)

	if err := m.flush(ctx); err != nil {
		m.removeStaged(artifacts)
		m.recorder.IncUpdateOutcome("flush", metrics.ResultFailed)
		return err
	}

	m.setState(StateSwapping)
	if err := m.swap(artifacts); err != nil {
		m.removeStaged(artifacts)
		m.recorder.IncUpdateOutcome("swap", metrics.ResultFailed)
		return err
	}
	m.recorder.IncUpdateOutcome("swap", metrics.ResultSuccess)

	m.setState(StateRestartPending)
	m.logger.Info("Update installed, restarting")
	if m.restarter != nil {
		m.restarter.Restart("Updating server.")
	}
	return nil
}

// cleanup removes files left by an earlier update. Failures are ignored.
func (m *Manager) cleanup(artifacts []Artifact) {
	for _, a := range artifacts {
		names := []string{a.StagedName()}
		if a.Swap {
			names = append(names, a.PreviousName())
		}
		for _, name := range names {
			if err := os.Remove(m.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				m.logger.Debug("Could not remove stale update file", logfields.Path(name), logfields.Error(err))
			}
		}
	}
}

func (m *Manager) removeStaged(artifacts []Artifact) {
	for _, a := range artifacts {
		if a.Swap {
			_ = os.Remove(m.path(a.StagedName()))
		}
	}
}

// download fetches every artifact to its staged name in parallel.
func (m *Manager) download(ctx context.Context, artifacts []Artifact) error {
	workers := m.cfg.DownloadWorkers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "create download pool").Build()
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, a := range artifacts {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if err := m.fetcher.Download(ctx, a.URL, m.path(a.StagedName())); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				cancel()
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, ferrors.WrapError(submitErr, ferrors.CategoryInternal, "queue download").Build())
			mu.Unlock()
		}
	}
	wg.Wait()
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// flush persists state that cannot be rebuilt after restart.
func (m *Manager) flush(ctx context.Context) error {
	if m.world != nil {
		if err := m.world.SaveAll(ctx); err != nil {
			return ferrors.WrapError(err, ferrors.GetCategory(err), "save worlds before update").Build()
		}
	}
	if m.sessions != nil {
		if err := m.sessions.FlushAll(ctx); err != nil {
			return ferrors.WrapError(err, ferrors.GetCategory(err), "flush sessions before update").Build()
		}
	}
	return nil
}

type move struct{ from, to string }

// swap moves live binaries to their backups, then staged files to the live names.
// On failure every completed move is reversed.
func (m *Manager) swap(artifacts []Artifact) error {
	var done []move
	undo := func() {
		for i := len(done) - 1; i >= 0; i-- {
			mv := done[i]
			if err := m.rename(mv.to, mv.from); err != nil {
				m.logger.Error("Rollback rename failed", logfields.Path(mv.to), logfields.Error(err))
			}
		}
	}
	apply := func(from, to string) error {
		if err := m.rename(from, to); err != nil {
			undo()
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, fmt.Sprintf("rename %s to %s", filepath.Base(from), filepath.Base(to))).
				WithContext("path", from).Build()
		}
		done = append(done, move{from: from, to: to})
		return nil
	}

	for _, a := range artifacts {
		if !a.Swap {
			continue
		}
		live := m.path(a.Name)
		if _, err := os.Stat(live); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := apply(live, m.path(a.PreviousName())); err != nil {
			return err
		}
	}
	for _, a := range artifacts {
		if !a.Swap {
			continue
		}
		if err := apply(m.path(a.StagedName()), m.path(a.Name)); err != nil {
			return err
		}
	}
	return nil
}
