package api_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RandomStrangers/MCGalaxy-Extended/pkg/api"
)

type spin struct{ operator bool }

func (spin) Name() string         { return "Spin" }
func (spin) Shortcut() string     { return "" }
func (spin) Help() string         { return "/spin - spins you around" }
func (s spin) OperatorOnly() bool { return s.operator }
func (spin) Use(_ context.Context, c api.Caller, _ string) error {
	c.Message("whee")
	return nil
}

type caller struct{ operator bool }

func (caller) Name() string           { return "someone" }
func (caller) Message(string, ...any) {}
func (c caller) IsOperator() bool     { return c.operator }

type plainCaller struct{}

func (plainCaller) Name() string           { return "player" }
func (plainCaller) Message(string, ...any) {}

func TestRequiresOperator(t *testing.T) {
	require.False(t, api.RequiresOperator(spin{}))
	require.True(t, api.RequiresOperator(spin{operator: true}))
}

func TestIsOperator(t *testing.T) {
	require.True(t, api.IsOperator(caller{operator: true}))
	require.False(t, api.IsOperator(caller{}))
	require.False(t, api.IsOperator(plainCaller{}))
}

type commandTable map[string]api.Command

func (t commandTable) Register(cmd api.Command) error {
	t[cmd.Name()] = cmd
	return nil
}

func (t commandTable) Unregister(names ...string) int {
	n := 0
	for _, name := range names {
		if _, ok := t[name]; ok {
			delete(t, name)
			n++
		}
	}
	return n
}

func (t commandTable) Find(name string) (api.Command, bool) {
	c, ok := t[name]
	return c, ok
}

type stubHost struct{ cmds commandTable }

func (h stubHost) Logger() *slog.Logger   { return slog.Default() }
func (h stubHost) ServerVersion() string  { return "1.9.5.3" }
func (h stubHost) Main() api.Scheduler    { return nil }
func (h stubHost) Commands() api.Commands { return h.cmds }

// spinner is a plugin written only against the public contract.
type spinner struct{ host api.Host }

func (p *spinner) Name() string             { return "Spinner" }
func (p *spinner) Creator() string          { return "tests" }
func (p *spinner) MinServerVersion() string { return "1.9.0.0" }
func (p *spinner) Load(_ context.Context, host api.Host, _ bool) error {
	p.host = host
	return host.Commands().Register(spin{})
}
func (p *spinner) Unload(context.Context, bool) error {
	p.host.Commands().Unregister("Spin")
	return nil
}

func TestPluginAgainstHost(t *testing.T) {
	host := stubHost{cmds: commandTable{}}
	var p api.Plugin = &spinner{}

	require.NoError(t, p.Load(context.Background(), host, true))
	_, ok := host.Commands().Find("Spin")
	require.True(t, ok)

	require.NoError(t, p.Unload(context.Background(), false))
	_, ok = host.Commands().Find("Spin")
	require.False(t, ok)
}
