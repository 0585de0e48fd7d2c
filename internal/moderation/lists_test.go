package moderation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesMissingLists(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, nil)
	require.NoError(t, l.Load(context.Background()))

	for _, name := range []string{Banned, Muted, Frozen, TempBans, TempMute} {
		_, err := os.Stat(filepath.Join(dir, name+".txt"))
		assert.NoError(t, err, name)
	}
	assert.Empty(t, l.Names(Banned))
}

func TestAddRemovePersist(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	l := New(dir, nil)
	require.NoError(t, l.Load(ctx))

	require.NoError(t, l.Add(Banned, "Griefer", time.Time{}))
	assert.True(t, l.Contains(Banned, "visitor"))

	reloaded := New(dir, nil)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, []string{"Griefer"}, reloaded.Names(Banned))

	removed, err := reloaded.Remove(Banned, "GRIEFER")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = reloaded.Remove(Banned, "visitor")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestExpireTemporary(t *testing.T) {
	dir := t.TempDir()
	now := time.Unix(1_800_000_000, 0)
	require.NoError(t, os.WriteFile(filepath.Join(dir, TempBans+".txt"),
		[]byte("old=1799999000\nfresh=1800009000\nbroken=soon\n"), 0o644))

	l := New(dir, nil)
	l.now = func() time.Time { return now }
	require.NoError(t, l.Load(context.Background()))

	assert.False(t, l.Contains(TempBans, "old"))
	assert.True(t, l.Contains(TempBans, "fresh"))

	require.NoError(t, l.MaintenanceTask(context.Background(), nil))
	assert.Equal(t, []string{"fresh"}, l.Names(TempBans))

	data, err := os.ReadFile(filepath.Join(dir, TempBans+".txt"))
	require.NoError(t, err)
	assert.Equal(t, "fresh=1800009000\n", string(data))
}

func TestAddToUnknownList(t *testing.T) {
	l := New(t.TempDir(), nil)
	assert.Error(t, l.Add("vips", "someone", time.Time{}))
}
