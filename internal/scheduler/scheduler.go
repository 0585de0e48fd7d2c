package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/metrics"
)

const (
	// MainDomain runs best-effort delayed and periodic work.
	MainDomain = "main"
	// CriticalDomain runs fixed-cadence latency-sensitive ticks only.
	CriticalDomain = "critical"
)

// Scheduler owns the set of domains of one server process.
type Scheduler struct {
	mu       sync.Mutex
	logger   *slog.Logger
	recorder metrics.Recorder
	domains  map[string]*Domain
	order    []*Domain
	ctx      context.Context
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger domains derive from.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(s *Scheduler) { s.recorder = r } }

// New creates a scheduler with the main and critical domains, both stopped.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{logger: slog.Default(), recorder: metrics.NoopRecorder{}, domains: map[string]*Domain{}}
	for _, opt := range opts {
		opt(s)
	}
	s.Domain(MainDomain)
	s.Domain(CriticalDomain)
	return s
}

// Main returns the best-effort domain.
func (s *Scheduler) Main() *Domain { return s.Domain(MainDomain) }

// Critical returns the latency-sensitive domain.
func (s *Scheduler) Critical() *Domain { return s.Domain(CriticalDomain) }

// Domain returns the named domain, creating it if needed. Domains created after
// Start are started immediately.
func (s *Scheduler) Domain(name string) *Domain {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.domains[name]; ok {
		return d
	}
	d := NewDomain(name, s.logger, s.recorder)
	s.domains[name] = d
	s.order = append(s.order, d)
	if s.ctx != nil {
		d.Start(s.ctx)
	}
	return d
}

// Start launches every domain's dispatch loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return
	}
	s.ctx = ctx
	for _, d := range s.order {
		d.Start(ctx)
	}
	s.logger.Info("Scheduler started", slog.Int("domains", len(s.order)))
}

// Stop stops every domain, waiting for in-flight tasks to complete.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	domains := append([]*Domain(nil), s.order...)
	s.mu.Unlock()

	var errs []error
	for i := len(domains) - 1; i >= 0; i-- {
		if err := domains[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info("Scheduler stopped")
	return errors.Join(errs...)
}
