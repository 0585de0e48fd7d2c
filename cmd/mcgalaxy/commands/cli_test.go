package commands

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/config"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/version"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Vars{"version": version.Version}, kong.Exit(func(int) {}))
	require.NoError(t, err)
	kctx, err := parser.Parse(args)
	require.NoError(t, err)

	var out bytes.Buffer
	err = kctx.Run(&Global{Out: &out})
	return out.String(), err
}

func TestInitWritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")

	out, err := run(t, "-c", path, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "initialized successfully")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "main", cfg.Server.MainLevel)
}

func TestInitRefusesOverwriteWithoutForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 25565\n"), 0o644))

	out, err := run(t, "-c", path, "init")
	require.Error(t, err)
	assert.Contains(t, out, "Initialization failed")

	_, err = run(t, "-c", path, "init", "--force")
	require.NoError(t, err)
}

func TestVersionInfo(t *testing.T) {
	out, err := run(t, "version-info")
	require.NoError(t, err)
	assert.Contains(t, out, "mcgalaxy "+version.Version)
}

func TestUpdateCheck(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		want   string
	}{
		{"newer", "999.0.0", "An update is available"},
		{"same", version.Version, "Up to date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = fmt.Fprintln(w, tt.remote)
			}))
			defer srv.Close()

			dir := t.TempDir()
			path := filepath.Join(dir, "server.yaml")
			yaml := fmt.Sprintf("update:\n  current_version_url: %s/version\n  work_dir: %s\n", srv.URL, dir)
			require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

			out, err := run(t, "-c", path, "update", "check")
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestExitCodeErrorUnwraps(t *testing.T) {
	inner := fmt.Errorf("restart requested")
	err := &ExitCodeError{Code: 75, Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "exit 75: restart requested", err.Error())
}
