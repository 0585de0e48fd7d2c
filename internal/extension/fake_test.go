package extension

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/command"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/config"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/plugin"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/scheduler"
	"github.com/RandomStrangers/MCGalaxy-Extended/pkg/api"
)

// fakeOpener serves symbol tables keyed by module path.
type fakeOpener struct {
	modules map[string]map[string]any
	broken  map[string]error
	opened  []string
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{modules: map[string]map[string]any{}, broken: map[string]error{}}
}

func (f *fakeOpener) Open(path string) (Symbols, error) {
	f.opened = append(f.opened, path)
	if err, ok := f.broken[path]; ok {
		return nil, err
	}
	return fakeSymbols(f.modules[path]), nil
}

type fakeSymbols map[string]any

func (s fakeSymbols) Lookup(name string) (any, error) {
	sym, ok := s[name]
	if !ok {
		return nil, errors.New("symbol " + name + " not found")
	}
	return sym, nil
}

func cmd(name string) command.Command {
	return &command.Func{CmdName: name, Run: func(context.Context, command.Caller, string) error { return nil }}
}

type testHost struct {
	sched    *scheduler.Scheduler
	commands *command.Registry
}

func (h *testHost) Logger() *slog.Logger   { return slog.Default() }
func (h *testHost) ServerVersion() string  { return "1.9.5.3" }
func (h *testHost) Main() api.Scheduler    { return h.sched.Main().ForModules() }
func (h *testHost) Commands() api.Commands { return h.commands }

type testPlugin struct {
	name    string
	loadErr error
	loaded  bool
}

func (p *testPlugin) Name() string             { return p.name }
func (p *testPlugin) Creator() string          { return "tests" }
func (p *testPlugin) MinServerVersion() string { return "" }
func (p *testPlugin) Load(context.Context, plugin.Host, bool) error {
	if p.loadErr != nil {
		return p.loadErr
	}
	p.loaded = true
	return nil
}
func (p *testPlugin) Unload(context.Context, bool) error {
	p.loaded = false
	return nil
}

type fixture struct {
	dir      string
	opener   *fakeOpener
	commands *command.Registry
	plugins  *plugin.Manager
	loader   *Loader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	paths := config.PathsConfig{
		CommandDir: filepath.Join(dir, "extra", "commands", "dll"),
		PluginsDir: filepath.Join(dir, "plugins"),
		ModuleExt:  ".so",
	}
	commands := command.NewRegistry()
	host := &testHost{sched: scheduler.New(), commands: commands}
	plugins := plugin.NewManager(host)
	opener := newFakeOpener()
	return &fixture{
		dir:      dir,
		opener:   opener,
		commands: commands,
		plugins:  plugins,
		loader:   NewLoader(opener, commands, plugins, paths, nil, nil),
	}
}

// module creates an empty file at path and registers its symbols with the fake opener.
func (f *fixture) module(t *testing.T, path string, symbols map[string]any) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("ELF"), 0o644))
	f.opener.modules[path] = symbols
	return path
}

func (f *fixture) commandPath(t *testing.T, name string) string {
	t.Helper()
	path, err := f.loader.CommandPath(name)
	require.NoError(t, err)
	return path
}

func (f *fixture) pluginPath(t *testing.T, name string) string {
	t.Helper()
	path, err := f.loader.PluginPath(name)
	require.NoError(t, err)
	return path
}
