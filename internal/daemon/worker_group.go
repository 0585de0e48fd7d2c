package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
)

// WorkerGroup tracks daemon-owned goroutines (listener, alert dispatch,
// console) and gives Stop a boundary so Add never races with Wait.
type WorkerGroup struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping bool
	logger   *slog.Logger
}

// Go starts fn unless the group is stopping. A panic in fn is logged and the
// worker exits.
func (g *WorkerGroup) Go(name string, fn func()) bool {
	if fn == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopping {
		return false
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil && g.logger != nil {
				g.logger.Error("Worker panicked", slog.String("worker", name), logfields.Error(fmt.Errorf("%v", r)))
			}
		}()
		fn()
	}()
	return true
}

// StopAndWait prevents new workers from starting and waits for current ones,
// bounded by ctx.
func (g *WorkerGroup) StopAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.stopping = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
