package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/registry"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/version"
)

// Manager keeps track of loaded plugins and drives their lifecycle.
type Manager struct {
	mu      sync.Mutex
	host    Host
	logger  *slog.Logger
	loaded  *registry.Registry[Plugin]
	states  map[string]State
	version version.Number
}

// NewManager creates a manager whose plugins attach to host.
func NewManager(host Host) *Manager {
	logger := host.Logger()
	if logger == nil {
		logger = slog.Default()
	}
	running, err := version.Parse(host.ServerVersion())
	if err != nil {
		logger.Warn("Server version unparseable, plugin version checks disabled", logfields.Error(err))
	}
	return &Manager{
		host:    host,
		logger:  logger,
		loaded:  registry.New[Plugin]("plugin"),
		states:  map[string]State{},
		version: running,
	}
}

// Load registers p and calls its Load hook. A plugin that needs a newer server,
// is already loaded, or whose hook fails is left unregistered.
func (m *Manager) Load(ctx context.Context, p Plugin, startup bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.logger.With(logfields.Plugin(p.Name()))

	if err := m.checkCompatible(p); err != nil {
		m.states[p.Name()] = StateFailed
		return err
	}
	if err := m.loaded.Register(p); err != nil {
		return err
	}
	if err := callLoad(ctx, p, m.host, startup); err != nil {
		m.loaded.Unregister(p.Name())
		m.states[p.Name()] = StateFailed
		return ferrors.WrapError(err, ferrors.CategoryConstructionFailure, "plugin failed to load").
			UserAction().WithContext("plugin", p.Name()).Build()
	}
	m.states[p.Name()] = StateLoaded
	log.Info("Plugin loaded", slog.String("creator", p.Creator()), slog.Bool("startup", startup))
	return nil
}

// LoadAll loads plugins as one unit. Names and versions are checked first, then
// every Load hook runs while the plugins are still unregistered, and finally all
// of them are registered together. If any hook fails, the hooks that already
// succeeded are undone with Unload and none of the plugins becomes visible.
func (m *Manager) LoadAll(ctx context.Context, plugins []Plugin, startup bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range plugins {
		if err := m.checkCompatible(p); err != nil {
			m.states[p.Name()] = StateFailed
			return err
		}
	}
	if err := m.loaded.CheckAll(plugins); err != nil {
		return err
	}

	for i, p := range plugins {
		if err := callLoad(ctx, p, m.host, startup); err != nil {
			m.states[p.Name()] = StateFailed
			for _, done := range plugins[:i] {
				if uerr := callUnload(ctx, done, false); uerr != nil {
					m.logger.Warn("Rollback unload failed", logfields.Plugin(done.Name()), logfields.Error(uerr))
				}
				m.states[done.Name()] = StateUnloaded
			}
			return ferrors.WrapError(err, ferrors.CategoryConstructionFailure, "plugin failed to load").
				UserAction().WithContext("plugin", p.Name()).Build()
		}
	}

	// m.mu is held, so nothing can take a checked name in between.
	if err := m.loaded.RegisterAll(plugins); err != nil {
		return err
	}
	for _, p := range plugins {
		m.states[p.Name()] = StateLoaded
		m.logger.Info("Plugin loaded", logfields.Plugin(p.Name()),
			slog.String("creator", p.Creator()), slog.Bool("startup", startup))
	}
	return nil
}

func (m *Manager) checkCompatible(p Plugin) error {
	raw := p.MinServerVersion()
	if raw == "" || m.version == nil {
		return nil
	}
	required, err := version.Parse(raw)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryMalformedModule, "plugin declares an invalid server version").
			WithContext("plugin", p.Name()).Build()
	}
	if required.Compare(m.version) > 0 {
		return ferrors.ConstructionFailure(fmt.Sprintf("plugin requires server version %s or later", required)).
			WithContext("plugin", p.Name()).WithContext("running", m.version.String()).Build()
	}
	return nil
}

func callLoad(ctx context.Context, p Plugin, host Host, startup bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in Load: %v", r)
		}
	}()
	return p.Load(ctx, host, startup)
}

func callUnload(ctx context.Context, p Plugin, shutdown bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in Unload: %v", r)
		}
	}()
	return p.Unload(ctx, shutdown)
}

// Unload calls the plugin's Unload hook and removes it. The plugin is removed
// even when the hook fails; the hook error is returned.
func (m *Manager) Unload(ctx context.Context, name string, shutdown bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(ctx, name, shutdown)
}

func (m *Manager) unloadLocked(ctx context.Context, name string, shutdown bool) error {
	p, ok := m.loaded.Get(name)
	if !ok {
		return ferrors.NotFound("plugin is not loaded").WithContext("plugin", name).Build()
	}
	err := callUnload(ctx, p, shutdown)
	m.loaded.Unregister(p.Name())
	m.states[p.Name()] = StateUnloaded
	if err != nil {
		m.logger.Error("Plugin unload failed", logfields.Plugin(p.Name()), logfields.Error(err))
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "plugin failed to unload").
			WithContext("plugin", p.Name()).Build()
	}
	m.logger.Info("Plugin unloaded", logfields.Plugin(p.Name()), slog.Bool("shutdown", shutdown))
	return nil
}

// UnloadAll unloads every plugin, continuing past failures.
func (m *Manager) UnloadAll(ctx context.Context, shutdown bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, p := range m.loaded.List() {
		if err := m.unloadLocked(ctx, p.Name(), shutdown); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Find returns a loaded plugin by name, case-insensitively.
func (m *Manager) Find(name string) (Plugin, bool) { return m.loaded.Find(name) }

// List returns loaded plugins sorted by name.
func (m *Manager) List() []Plugin { return m.loaded.List() }

// State returns the last known state of the named plugin.
func (m *Manager) State(name string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.loaded.Get(name); ok {
		name = p.Name()
	}
	return m.states[name]
}
