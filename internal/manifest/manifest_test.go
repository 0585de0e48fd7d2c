package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSkipsCommentsAndBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autoload.txt")
	require.NoError(t, os.WriteFile(path, []byte("# header\n\nfirst\n  second  \n#skipped\r\nthird\r\n"), 0o644))

	entries, created, err := Read(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []string{"first", "second", "third"}, entries)
}

func TestReadCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "text", "cmdautoload.txt")

	entries, created, err := Read(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Empty(t, entries)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranks", "banned.txt")
	require.NoError(t, Write(path, []string{"alice", "bob"}))

	entries, _, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, entries)
}

func TestSplitPair(t *testing.T) {
	k, v := SplitPair("flatgrass = 3")
	assert.Equal(t, "flatgrass", k)
	assert.Equal(t, "3", v)

	k, v = SplitPair("main")
	assert.Equal(t, "main", k)
	assert.Empty(t, v)
}
