package extension

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/command"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/config"
	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/manifest"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/metrics"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/plugin"
)

// ModuleState is the load state of one module file.
type ModuleState int

const (
	ModuleUnloaded ModuleState = iota
	ModuleLoaded
	ModuleFailed
)

func (s ModuleState) String() string {
	switch s {
	case ModuleLoaded:
		return "loaded"
	case ModuleFailed:
		return "failed"
	default:
		return "unloaded"
	}
}

// Module records what one load attempt of a file produced.
type Module struct {
	Path       string
	Capability string
	State      ModuleState
	// Names of the instances registered from this module.
	Names []string
	Err   error
}

// Loader loads command and plugin modules and registers their instances.
// Loads and unloads are serialized.
type Loader struct {
	mu       sync.Mutex
	opener   Opener
	commands *command.Registry
	plugins  *plugin.Manager
	paths    config.PathsConfig
	logger   *slog.Logger
	recorder metrics.Recorder
	modules  map[string]*Module
}

// NewLoader creates a loader registering into commands and plugins.
func NewLoader(opener Opener, commands *command.Registry, plugins *plugin.Manager, paths config.PathsConfig, logger *slog.Logger, recorder metrics.Recorder) *Loader {
	if opener == nil {
		opener = NativeOpener{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		opener:   opener,
		commands: commands,
		plugins:  plugins,
		paths:    paths,
		logger:   logger,
		recorder: metrics.OrNoop(recorder),
		modules:  map[string]*Module{},
	}
}

var moduleName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateName rejects module names that are not plain identifiers, so a name
// can never point outside the module directories.
func ValidateName(name string) error {
	if !moduleName.MatchString(name) {
		return ferrors.NewError(ferrors.CategoryConfig, "invalid module name").Warning().
			WithContext("name", name).
			WithContext("allowed", "letters, digits, '_' and '-'").Build()
	}
	return nil
}

// CommandPath returns the conventional module path of a command: <dir>/Cmd<Name><ext>.
func (l *Loader) CommandPath(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(l.paths.CommandDir, "Cmd"+name+l.paths.ModuleExt), nil
}

// PluginPath returns the conventional module path of a plugin: <plugins>/<Name><ext>.
func (l *Loader) PluginPath(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(l.paths.PluginsDir, name+l.paths.ModuleExt), nil
}

func (l *Loader) record(path, capability string, names []string, err error) {
	m := &Module{Path: path, Capability: capability, Names: names, Err: err, State: ModuleLoaded}
	result := metrics.ResultSuccess
	if err != nil {
		m.State = ModuleFailed
		result = metrics.ResultFailed
		if prev, ok := l.modules[path]; ok && prev.State == ModuleLoaded {
			// A failed reload attempt does not forget what is still registered.
			return
		}
	}
	l.recorder.IncExtensionLoad(capability, result)
	l.modules[path] = m
}

// LoadCommands loads the command module at path and registers all of its commands,
// or none of them if any name is already taken.
func (l *Loader) LoadCommands(ctx context.Context, path string) ([]command.Command, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cmds, err := LoadModule(l.opener, path, CommandCapability)
	if err == nil {
		err = l.commands.RegisterAll(cmds)
		if ce, ok := ferrors.AsClassified(err); ok {
			err = ce.WithContext("path", path)
		}
	}
	if err != nil {
		l.record(path, CommandCapability.Name, nil, err)
		return nil, err
	}

	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.Name()
	}
	l.record(path, CommandCapability.Name, names, nil)
	l.logger.InfoContext(ctx, "Commands loaded", logfields.Module(path), slog.Any("commands", names))
	return cmds, nil
}

// UnloadCommands unregisters every command that was registered from path.
func (l *Loader) UnloadCommands(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.modules[path]
	if !ok || m.State != ModuleLoaded || m.Capability != CommandCapability.Name {
		return ferrors.NotFound("no commands loaded from module").WithContext("path", path).Build()
	}
	l.commands.Unregister(m.Names...)
	m.State = ModuleUnloaded
	l.logger.Info("Commands unloaded", logfields.Module(path), slog.Any("commands", m.Names))
	return nil
}

// LoadPlugins loads the plugin module at path and loads the plugins it provides
// as one unit: either all of them become visible together or none does.
func (l *Loader) LoadPlugins(ctx context.Context, path string, startup bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	plugins, err := LoadModule(l.opener, path, PluginCapability)
	if err == nil {
		err = l.plugins.LoadAll(ctx, plugins, startup)
		if ce, ok := ferrors.AsClassified(err); ok {
			err = ce.WithContext("path", path)
		}
	}
	if err != nil {
		l.record(path, PluginCapability.Name, nil, err)
		return err
	}

	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name()
	}
	l.record(path, PluginCapability.Name, names, nil)
	return nil
}

// UnloadPlugins unloads every plugin that was loaded from path.
func (l *Loader) UnloadPlugins(ctx context.Context, path string, shutdown bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.modules[path]
	if !ok || m.State != ModuleLoaded || m.Capability != PluginCapability.Name {
		return ferrors.NotFound("no plugins loaded from module").WithContext("path", path).Build()
	}
	var errs []error
	for _, name := range m.Names {
		if err := l.plugins.Unload(ctx, name, shutdown); err != nil {
			errs = append(errs, err)
		}
	}
	m.State = ModuleUnloaded
	return errors.Join(errs...)
}

// AutoloadFromManifest loads the command module named on each line of the manifest.
// Blank lines and lines starting with '#' are skipped. Each failure is logged and the
// rest still load. A missing manifest is created empty. The returned count is the
// number of modules loaded; the error is only set when the manifest itself cannot be
// read or created.
func (l *Loader) AutoloadFromManifest(ctx context.Context, manifestPath string) (int, error) {
	names, created, err := manifest.Read(manifestPath)
	if err != nil {
		return 0, err
	}
	if created {
		l.logger.Info("Created empty command autoload manifest", logfields.Path(manifestPath))
		return 0, nil
	}

	loaded := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return loaded, ctx.Err()
		}
		path, err := l.CommandPath(name)
		if err != nil {
			l.logger.Warn("AUTOLOAD: skipping invalid command module name",
				slog.String("name", name), logfields.Error(err))
			continue
		}
		cmds, err := l.LoadCommands(ctx, path)
		if err != nil {
			l.logger.Warn("AUTOLOAD: failed to load command module",
				logfields.Module(path),
				logfields.Category(string(ferrors.GetCategory(err))),
				logfields.Error(err))
			continue
		}
		loaded++
		l.logger.Info("AUTOLOAD: loaded commands", logfields.Module(path), slog.Int("count", len(cmds)))
	}
	return loaded, nil
}

// AutoloadFromDirectory loads every module with the configured extension in dir as
// plugins. The directory is created when missing. One module's failure does not stop
// the others; the joined error is nil only if every module loaded.
func (l *Loader) AutoloadFromDirectory(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return ferrors.WrapError(mkErr, ferrors.CategoryFileSystem, "create plugins directory").
				WithContext("path", dir).Build()
		}
		return nil
	}
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "read plugins directory").
			WithContext("path", dir).Build()
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), l.paths.ModuleExt) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := l.LoadPlugins(ctx, path, true); err != nil {
			l.logger.Warn("AUTOLOAD: failed to load plugin module",
				logfields.Module(path),
				logfields.Category(string(ferrors.GetCategory(err))),
				logfields.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Modules returns a snapshot of every module seen, sorted by path.
func (l *Loader) Modules() []Module {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Module, 0, len(l.modules))
	for _, m := range l.modules {
		cp := *m
		cp.Names = append([]string(nil), m.Names...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
