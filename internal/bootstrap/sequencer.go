// Package bootstrap runs the ordered startup steps of the server on the main
// scheduling domain and raises the ready flag after the last one.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/metrics"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/scheduler"
)

// Step is one named unit of startup work.
type Step struct {
	Name string
	// After lists steps that must complete before this one starts.
	After []string
	// Fatal steps abort startup when they fail. All other failures are logged and skipped.
	Fatal bool
	Run   func(ctx context.Context) error
}

// Result records the outcome of one step.
type Result struct {
	Step     string
	Err      error
	Duration time.Duration
}

// Sequencer orders steps and submits them one at a time to a domain.
type Sequencer struct {
	mu       sync.Mutex
	domain   *scheduler.Domain
	ready    *Ready
	logger   *slog.Logger
	recorder metrics.Recorder
	steps    []Step
	index    map[string]int
	results  []Result
	running  bool
}

// NewSequencer creates a sequencer submitting to domain and raising ready when done.
func NewSequencer(domain *scheduler.Domain, ready *Ready, logger *slog.Logger, recorder metrics.Recorder) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		domain:   domain,
		ready:    ready,
		logger:   logger,
		recorder: metrics.OrNoop(recorder),
		index:    map[string]int{},
	}
}

// Add appends steps. Names must be unique; predecessors may be added later.
func (s *Sequencer) Add(steps ...Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ferrors.InternalError("cannot add steps while the sequence runs").Build()
	}
	for _, st := range steps {
		if st.Name == "" || st.Run == nil {
			return ferrors.InternalError("step needs a name and a run function").
				WithContext("step", st.Name).Build()
		}
		if _, dup := s.index[st.Name]; dup {
			return ferrors.NameCollision("duplicate bootstrap step").WithContext("step", st.Name).Build()
		}
		s.index[st.Name] = len(s.steps)
		s.steps = append(s.steps, st)
	}
	return nil
}

// Order returns step names in execution order: every step after its
// predecessors, ties broken by insertion order.
func (s *Sequencer) Order() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, err := s.order()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(order))
	for i, st := range order {
		names[i] = st.Name
	}
	return names, nil
}

func (s *Sequencer) order() ([]Step, error) {
	indegree := make([]int, len(s.steps))
	dependents := make([][]int, len(s.steps))
	for i, st := range s.steps {
		for _, pred := range st.After {
			j, ok := s.index[pred]
			if !ok {
				return nil, ferrors.InternalError("bootstrap step depends on unknown step").
					WithContext("step", st.Name).WithContext("after", pred).Build()
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	out := make([]Step, 0, len(s.steps))
	done := make([]bool, len(s.steps))
	for len(out) < len(s.steps) {
		next := -1
		for i := range s.steps {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, st := range s.steps {
				if !done[i] {
					stuck = append(stuck, st.Name)
				}
			}
			return nil, ferrors.InternalError("bootstrap steps form a cycle").
				WithContext("steps", strings.Join(stuck, ",")).Build()
		}
		done[next] = true
		out = append(out, s.steps[next])
		for _, dep := range dependents[next] {
			indegree[dep]--
		}
	}
	return out, nil
}

// Run executes every step in order, each as a one-shot task on the domain, and
// blocks until the sequence ends. The ready flag is raised after the final step.
// A failing fatal step aborts the sequence and its error is returned.
func (s *Sequencer) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ferrors.InternalError("bootstrap sequence already running").Build()
	}
	order, err := s.order()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.running = true
	s.results = nil
	s.mu.Unlock()

	finished := make(chan error, 1)
	s.submit(ctx, order, 0, finished)

	select {
	case err = <-finished:
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return err
}

// submit queues step i. Steps run with the context given to Run so cancelling
// startup also cancels the step in progress.
func (s *Sequencer) submit(ctx context.Context, order []Step, i int, finished chan<- error) {
	if i == len(order) {
		s.ready.Set()
		s.logger.Info("Startup complete", slog.Int("steps", len(order)))
		finished <- nil
		return
	}
	st := order[i]
	s.domain.QueueOnce("bootstrap:"+st.Name, func(context.Context, *scheduler.Task) error {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.runStep(ctx, st); err != nil && st.Fatal {
			finished <- ferrors.WrapError(err, ferrors.GetCategory(err), fmt.Sprintf("startup aborted at step %s", st.Name)).
				Fatal().WithContext("step", st.Name).Build()
			return nil
		}
		s.submit(ctx, order, i+1, finished)
		return nil
	}, 0)
}

func (s *Sequencer) runStep(ctx context.Context, st Step) (err error) {
	log := s.logger.With(logfields.Step(st.Name))
	log.Debug("Step starting")
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = ferrors.RuntimeError(fmt.Sprintf("step panicked: %v", r)).Build()
		}
		elapsed := time.Since(start)
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultFailed
			level := slog.LevelWarn
			if st.Fatal {
				level = slog.LevelError
			}
			log.Log(ctx, level, "Step failed", logfields.Duration(elapsed), logfields.Error(err))
		} else {
			log.Info("Step complete", logfields.Duration(elapsed))
		}
		s.recorder.ObserveStepDuration(st.Name, elapsed, result)
		s.mu.Lock()
		s.results = append(s.results, Result{Step: st.Name, Err: err, Duration: elapsed})
		s.mu.Unlock()
	}()
	return st.Run(ctx)
}

// Results returns the outcome of every step executed by the last Run.
func (s *Sequencer) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Result(nil), s.results...)
}
