package update

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/config"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/retry"
)

// releaseServer serves a version file, a changelog and channel artifacts.
type releaseServer struct {
	*httptest.Server
	version     atomic.Value
	versionHits atomic.Int32

	mu   sync.Mutex
	gone map[string]bool
}

// remove makes the artifact at path answer 404.
func (rs *releaseServer) remove(path string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.gone[path] = true
}

func newReleaseServer(t *testing.T, version string) *releaseServer {
	t.Helper()
	rs := &releaseServer{gone: map[string]bool{}}
	rs.version.Store(version)
	mux := http.NewServeMux()
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		rs.versionHits.Add(1)
		_, _ = w.Write([]byte(rs.version.Load().(string) + "\n"))
	})
	mux.HandleFunc("/changelog", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("changes"))
	})
	mux.HandleFunc("/artifacts/", func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		gone := rs.gone[r.URL.Path]
		rs.mu.Unlock()
		if gone {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("new:" + r.URL.Path))
	})
	rs.Server = httptest.NewServer(mux)
	t.Cleanup(rs.Close)
	return rs
}

func testUpdateConfig(rs *releaseServer, dir string) config.UpdateConfig {
	return config.UpdateConfig{
		CheckForUpdates:   true,
		Platform:          "test",
		CurrentVersionURL: rs.URL + "/version",
		ChangelogURL:      rs.URL + "/changelog",
		ArtifactBaseURL:   rs.URL + "/artifacts/{channel}/{platform}/",
		Launchers:         []string{"MCGalaxyCLI"},
		WorkDir:           dir,
		Timeout:           5 * time.Second,
		DownloadWorkers:   2,
	}
}

func fastPolicy() retry.Policy {
	return retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 2)
}

type fakeSaver struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSaver) SaveAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeSaver) FlushAll(ctx context.Context) error { return f.SaveAll(ctx) }

type fakeRestarter struct {
	reasons []string
}

func (f *fakeRestarter) Restart(reason string) { f.reasons = append(f.reasons, reason) }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

func join(dir, name string) string { return filepath.Join(dir, name) }
