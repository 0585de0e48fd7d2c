package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/metrics"
)

// minInterval bounds recurring tasks so a zero interval cannot spin a domain.
const minInterval = time.Millisecond

// Domain is an independently dispatched execution context owning one task queue.
type Domain struct {
	name     string
	queue    *queue.PriorityQueue
	wake     chan struct{}
	logger   *slog.Logger
	recorder metrics.Recorder

	seq     atomic.Uint64
	active  atomic.Pointer[Task]
	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDomain creates a stopped domain. Tasks may be queued before Start.
func NewDomain(name string, logger *slog.Logger, recorder metrics.Recorder) *Domain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Domain{
		name:     name,
		queue:    queue.NewPriorityQueue(64, false),
		wake:     make(chan struct{}, 1),
		logger:   logger.With(logfields.Domain(name)),
		recorder: metrics.OrNoop(recorder),
		done:     make(chan struct{}),
	}
}

// Name returns the domain name.
func (d *Domain) Name() string { return d.name }

// Len returns the number of queued tasks, including cancelled ones not yet discarded.
func (d *Domain) Len() int { return d.queue.Len() }

// Current returns the task executing right now, or nil.
func (d *Domain) Current() *Task { return d.active.Load() }

// QueueOnce runs cb once after delay.
func (d *Domain) QueueOnce(name string, cb Callback, delay time.Duration) *Task {
	t := newTask(d, name, cb, time.Now().Add(delay), 0)
	d.put(t)
	return t
}

// QueueRepeat runs cb every interval, the first time one interval from now.
func (d *Domain) QueueRepeat(name string, cb Callback, interval time.Duration) *Task {
	if interval < minInterval {
		interval = minInterval
	}
	t := newTask(d, name, cb, time.Now().Add(interval), interval)
	d.put(t)
	return t
}

// Cancel cancels t if it belongs to this domain.
func (d *Domain) Cancel(t *Task) bool {
	if t == nil || t.domain != d {
		return false
	}
	t.Cancel()
	return true
}

func (d *Domain) put(t *Task) {
	t.seq = d.seq.Add(1)
	if err := d.queue.Put(t); err != nil {
		t.Cancel()
		d.logger.Warn("Task dropped, domain stopped", logfields.Task(t.name), logfields.Error(err))
		return
	}
	d.recorder.SetQueueDepth(d.name, d.queue.Len())
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start launches the dispatch loop. Calling it twice is a no-op.
func (d *Domain) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)
	go d.run(ctx)
	d.logger.Debug("Domain started")
}

// Stop ends the dispatch loop after any in-flight task completes and discards pending tasks.
// It waits for the loop to exit or ctx to end.
func (d *Domain) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	started := d.started
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	if started {
		select {
		case <-d.done:
		case <-ctx.Done():
			return fmt.Errorf("domain %s: %w", d.name, ctx.Err())
		}
	}
	d.queue.Dispose()
	d.logger.Debug("Domain stopped")
	return nil
}

func (d *Domain) run(ctx context.Context) {
	defer close(d.done)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		head, _ := d.queue.Peek().(*Task)
		if head == nil {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
			}
			continue
		}
		if wait := time.Until(head.due); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		items, err := d.queue.Get(1)
		if err != nil {
			if !errors.Is(err, queue.ErrDisposed) {
				d.logger.Error("Dispatch loop stopped", logfields.Error(err))
			}
			return
		}
		d.recorder.SetQueueDepth(d.name, d.queue.Len())
		d.execute(ctx, items[0].(*Task))
	}
}

func (d *Domain) execute(ctx context.Context, t *Task) {
	if t.Cancelled() {
		d.recorder.IncTaskResult(d.name, metrics.ResultCanceled)
		return
	}

	d.active.Store(t)
	start := time.Now()
	result := d.invoke(ctx, t)
	elapsed := time.Since(start)
	d.active.Store(nil)

	t.runs.Add(1)
	d.recorder.ObserveTaskDuration(d.name, t.name, elapsed)
	d.recorder.IncTaskResult(d.name, result)

	interval := t.Interval()
	if interval <= 0 || t.Cancelled() {
		return
	}
	if interval < minInterval {
		interval = minInterval
	}
	t.due = time.Now().Add(interval)
	d.put(t)
}

func (d *Domain) invoke(ctx context.Context, t *Task) (result metrics.ResultLabel) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Task panicked",
				logfields.Task(t.name),
				logfields.TaskID(t.ID()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			result = metrics.ResultPanicked
		}
	}()

	if err := t.callback(ctx, t); err != nil {
		d.logger.Error("Task failed",
			logfields.Task(t.name),
			logfields.TaskID(t.ID()),
			logfields.Error(err))
		return metrics.ResultFailed
	}
	return metrics.ResultSuccess
}
