package extension

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReportsNewModulesOnce(t *testing.T) {
	dir := t.TempDir()
	var mu sync.Mutex
	var seen []string
	w, err := NewWatcher(dir, ".so", 100*time.Millisecond, func(path string) {
		mu.Lock()
		seen = append(seen, path)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	target := filepath.Join(dir, "Greeter.so")
	require.NoError(t, os.WriteFile(target, []byte("part"), 0o644))
	require.NoError(t, os.WriteFile(target, []byte("partial-and-more"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{target}, seen)
}
