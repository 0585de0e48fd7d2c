package bootstrap

import (
	"context"
	"sync"
	"sync/atomic"
)

// Ready is a one-way process-wide flag raised when startup completes.
type Ready struct {
	set  atomic.Bool
	once sync.Once
	ch   chan struct{}
}

// NewReady returns an unset flag.
func NewReady() *Ready {
	return &Ready{ch: make(chan struct{})}
}

// Set raises the flag. Further calls do nothing.
func (r *Ready) Set() {
	r.once.Do(func() {
		r.set.Store(true)
		close(r.ch)
	})
}

// IsSet reports whether startup completed.
func (r *Ready) IsSet() bool { return r.set.Load() }

// Done is closed when the flag is raised.
func (r *Ready) Done() <-chan struct{} { return r.ch }

// Wait blocks until the flag is raised or ctx ends.
func (r *Ready) Wait(ctx context.Context) error {
	select {
	case <-r.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
