package update

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/scheduler"
)

func newTestManager(t *testing.T, rs *releaseServer, running string) (*Manager, string, *fakeSaver, *fakeRestarter) {
	t.Helper()
	dir := t.TempDir()
	cfg := testUpdateConfig(rs, dir)
	saver := &fakeSaver{}
	restarter := &fakeRestarter{}
	m := New(Options{
		Config:    cfg,
		Running:   running,
		Binary:    "MCGalaxy",
		Fetcher:   NewFetcher(nil, fastPolicy(), cfg.Timeout, nil),
		World:     saver,
		Sessions:  saver,
		Restarter: restarter,
	})
	return m, dir, saver, restarter
}

func TestNeedsUpdating(t *testing.T) {
	tests := []struct {
		remote  string
		running string
		want    bool
	}{
		{"2.0.1", "2.0.0", true},
		{"2.0.0", "2.0.0", false},
		{"1.9.9", "2.0.0", false},
		{"2.1", "2.0.9", true},
		{"2.0.0.0", "2.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.remote+"_vs_"+tt.running, func(t *testing.T) {
			rs := newReleaseServer(t, tt.remote)
			m, _, _, _ := newTestManager(t, rs, tt.running)
			got, err := m.NeedsUpdating(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNeedsUpdatingInvalidRemote(t *testing.T) {
	rs := newReleaseServer(t, "not-a-version")
	m, _, _, _ := newTestManager(t, rs, "2.0.0")
	_, err := m.NeedsUpdating(context.Background())
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNetwork))
}

func TestCheckPublishesWhenNewer(t *testing.T) {
	rs := newReleaseServer(t, "2.0.1")
	m, _, _, _ := newTestManager(t, rs, "2.0.0")
	events, unsubscribe := m.Notifier().Subscribe(1)
	defer unsubscribe()

	var seen []State
	m.onState = func(s State) { seen = append(seen, s) }

	newer, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, newer)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, []State{StateChecking, StateUpdateAvailable, StateIdle}, seen)

	select {
	case ev := <-events:
		assert.Equal(t, "2.0.1", ev.Remote)
		assert.Equal(t, "2.0.0", ev.Running)
	default:
		t.Fatal("expected an update event")
	}
}

func TestCheckUpToDateDoesNotPublish(t *testing.T) {
	rs := newReleaseServer(t, "2.0.0")
	m, _, _, _ := newTestManager(t, rs, "2.0.0")
	events, unsubscribe := m.Notifier().Subscribe(1)
	defer unsubscribe()

	newer, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, newer)
	assert.Empty(t, events)
}

func TestCheckTaskSetsInterval(t *testing.T) {
	rs := newReleaseServer(t, "2.0.0")
	m, _, _, _ := newTestManager(t, rs, "2.0.0")

	d := scheduler.NewDomain("test", nil, nil)
	ctx := context.Background()
	d.Start(ctx)
	defer func() { _ = d.Stop(ctx) }()

	task := d.QueueOnce("update-check", m.CheckTask(time.Hour), 0)
	require.Eventually(t, func() bool { return rs.versionHits.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return task.Interval() == time.Hour }, time.Second, 10*time.Millisecond)
	assert.True(t, task.Recurring())
}

func TestPerformUpdateSwapsAndRestarts(t *testing.T) {
	rs := newReleaseServer(t, "2.0.1")
	m, dir, saver, restarter := newTestManager(t, rs, "2.0.0")
	writeFile(t, join(dir, "MCGalaxy"), "old-server")
	writeFile(t, join(dir, "MCGalaxyCLI"), "old-cli")
	writeFile(t, join(dir, "prev_MCGalaxy"), "ancient")

	require.NoError(t, m.PerformUpdate(context.Background(), true))

	assert.Equal(t, StateRestartPending, m.State())
	assert.Equal(t, []string{"Updating server."}, restarter.reasons)
	assert.Equal(t, 2, saver.calls)

	assert.Equal(t, "new:/artifacts/release/test/MCGalaxy", readFile(t, join(dir, "MCGalaxy")))
	assert.Equal(t, "new:/artifacts/release/test/MCGalaxyCLI", readFile(t, join(dir, "MCGalaxyCLI")))
	assert.Equal(t, "old-server", readFile(t, join(dir, "prev_MCGalaxy")))
	assert.Equal(t, "old-cli", readFile(t, join(dir, "prev_MCGalaxyCLI")))
	assert.Equal(t, "changes", readFile(t, join(dir, ChangelogFile)))
	assert.False(t, exists(join(dir, "MCGalaxy.update")))
}

func TestPerformUpdateLatestChannel(t *testing.T) {
	rs := newReleaseServer(t, "2.0.1")
	m, dir, _, _ := newTestManager(t, rs, "2.0.0")
	writeFile(t, join(dir, "MCGalaxy"), "old-server")

	require.NoError(t, m.PerformUpdate(context.Background(), false))
	assert.Equal(t, "new:/artifacts/latest/test/MCGalaxy", readFile(t, join(dir, "MCGalaxy")))
}

func TestPerformUpdateFlushFailureKeepsLiveFiles(t *testing.T) {
	rs := newReleaseServer(t, "2.0.1")
	m, dir, saver, restarter := newTestManager(t, rs, "2.0.0")
	saver.err = ferrors.FileSystemError("disk full").Build()
	writeFile(t, join(dir, "MCGalaxy"), "old-server")
	writeFile(t, join(dir, "MCGalaxyCLI"), "old-cli")

	err := m.PerformUpdate(context.Background(), true)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryFileSystem))

	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, restarter.reasons)
	assert.Equal(t, "old-server", readFile(t, join(dir, "MCGalaxy")))
	assert.Equal(t, "old-cli", readFile(t, join(dir, "MCGalaxyCLI")))
	assert.False(t, exists(join(dir, "prev_MCGalaxy")))
	assert.False(t, exists(join(dir, "MCGalaxy.update")))
}

func TestPerformUpdateRollsBackFailedSwap(t *testing.T) {
	rs := newReleaseServer(t, "2.0.1")
	m, dir, _, restarter := newTestManager(t, rs, "2.0.0")
	writeFile(t, join(dir, "MCGalaxy"), "old-server")
	writeFile(t, join(dir, "MCGalaxyCLI"), "old-cli")

	// The CLI launcher cannot be promoted.
	m.rename = func(oldpath, newpath string) error {
		if strings.HasSuffix(oldpath, "MCGalaxyCLI.update") {
			return errors.New("permission denied")
		}
		return os.Rename(oldpath, newpath)
	}

	err := m.PerformUpdate(context.Background(), true)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryFileSystem))
	assert.Empty(t, restarter.reasons)
	assert.Equal(t, StateIdle, m.State())

	assert.Equal(t, "old-server", readFile(t, join(dir, "MCGalaxy")))
	assert.Equal(t, "old-cli", readFile(t, join(dir, "MCGalaxyCLI")))
	assert.False(t, exists(join(dir, "prev_MCGalaxy")))
	assert.False(t, exists(join(dir, "prev_MCGalaxyCLI")))
}

func TestPerformUpdateInstallsLauncherMissingLocally(t *testing.T) {
	rs := newReleaseServer(t, "2.0.1")
	m, dir, _, _ := newTestManager(t, rs, "2.0.0")
	writeFile(t, join(dir, "MCGalaxy"), "old-server")

	require.NoError(t, m.PerformUpdate(context.Background(), true))
	assert.Equal(t, "new:/artifacts/release/test/MCGalaxyCLI", readFile(t, join(dir, "MCGalaxyCLI")))
	assert.False(t, exists(join(dir, "prev_MCGalaxyCLI")))
}

func TestPerformUpdateFailsWhenRemoteLauncherMissing(t *testing.T) {
	rs := newReleaseServer(t, "2.0.1")
	rs.remove("/artifacts/release/test/MCGalaxyCLI")
	m, dir, saver, restarter := newTestManager(t, rs, "2.0.0")
	writeFile(t, join(dir, "MCGalaxy"), "old-server")
	writeFile(t, join(dir, "MCGalaxyCLI"), "old-cli")

	err := m.PerformUpdate(context.Background(), true)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNetwork))
	assert.Zero(t, saver.calls)
	assert.Empty(t, restarter.reasons)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, "old-server", readFile(t, join(dir, "MCGalaxy")))
	assert.Equal(t, "old-cli", readFile(t, join(dir, "MCGalaxyCLI")))
	assert.False(t, exists(join(dir, "MCGalaxy.update")))
	assert.False(t, exists(join(dir, "MCGalaxyCLI.update")))
}

func TestPerformUpdateDownloadFailure(t *testing.T) {
	rs := newReleaseServer(t, "2.0.1")
	m, dir, saver, _ := newTestManager(t, rs, "2.0.0")
	m.cfg.ArtifactBaseURL = rs.URL + "/missing/"
	writeFile(t, join(dir, "MCGalaxy"), "old-server")

	err := m.PerformUpdate(context.Background(), true)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNetwork))
	assert.Zero(t, saver.calls)
	assert.Equal(t, "old-server", readFile(t, join(dir, "MCGalaxy")))
	assert.False(t, exists(join(dir, "MCGalaxy.update")))
}

func TestPerformUpdateRejectsConcurrentCycle(t *testing.T) {
	rs := newReleaseServer(t, "2.0.1")
	m, _, _, _ := newTestManager(t, rs, "2.0.0")
	m.cycle.Lock()
	defer m.cycle.Unlock()

	err := m.PerformUpdate(context.Background(), true)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryRuntime))
}
