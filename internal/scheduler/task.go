package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/google/uuid"
)

// Callback is the work a task performs. The task handle is passed so a
// callback can cancel itself or change its interval for the next run.
type Callback func(ctx context.Context, task *Task) error

// Task is a handle to a scheduled callback.
type Task struct {
	id       uuid.UUID
	name     string
	callback Callback
	domain   *Domain

	// due and seq are written only while the task is outside the queue.
	due time.Time
	seq uint64

	interval  atomic.Int64
	cancelled atomic.Bool
	runs      atomic.Int64
}

func newTask(d *Domain, name string, cb Callback, due time.Time, interval time.Duration) *Task {
	t := &Task{id: uuid.New(), name: name, callback: cb, domain: d, due: due}
	t.interval.Store(int64(interval))
	return t
}

// ID returns the task's unique identity.
func (t *Task) ID() string { return t.id.String() }

// Name returns the name given when the task was queued.
func (t *Task) Name() string { return t.name }

// Domain returns the domain the task runs on.
func (t *Task) Domain() *Domain { return t.domain }

// Interval returns the delay between the end of one run and the next. Zero for one-shot tasks.
func (t *Task) Interval() time.Duration { return time.Duration(t.interval.Load()) }

// Recurring reports whether the task reschedules itself after running.
func (t *Task) Recurring() bool { return t.Interval() > 0 }

// SetInterval changes the delay used the next time the task is rescheduled.
// Setting it on a one-shot task from inside its callback makes it recurring;
// zero makes a recurring task stop after the current run.
func (t *Task) SetInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.interval.Store(int64(d))
}

// Cancel prevents any future execution. A run already in progress completes.
func (t *Task) Cancel() { t.cancelled.Store(true) }

// Cancelled reports whether Cancel was called.
func (t *Task) Cancelled() bool { return t.cancelled.Load() }

// Runs returns how many times the callback has been invoked.
func (t *Task) Runs() int64 { return t.runs.Load() }

// Compare orders tasks by due time, then by queue sequence so equal due times run FIFO.
func (t *Task) Compare(other queue.Item) int {
	o := other.(*Task)
	switch {
	case t.due.Before(o.due):
		return -1
	case t.due.After(o.due):
		return 1
	case t.seq < o.seq:
		return -1
	case t.seq > o.seq:
		return 1
	default:
		return 0
	}
}
