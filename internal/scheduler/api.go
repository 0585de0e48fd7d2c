package scheduler

import (
	"context"
	"time"

	"github.com/RandomStrangers/MCGalaxy-Extended/pkg/api"
)

type moduleDomain struct{ d *Domain }

// ForModules returns a view of d that extension modules can queue work on.
func (d *Domain) ForModules() api.Scheduler { return moduleDomain{d: d} }

func (m moduleDomain) QueueOnce(name string, fn api.TaskFunc, delay time.Duration) api.Task {
	return m.d.QueueOnce(name, adapt(fn), delay)
}

func (m moduleDomain) QueueRepeat(name string, fn api.TaskFunc, interval time.Duration) api.Task {
	return m.d.QueueRepeat(name, adapt(fn), interval)
}

func adapt(fn api.TaskFunc) Callback {
	return func(ctx context.Context, _ *Task) error { return fn(ctx) }
}
