package scheduler

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
)

// Cron fires callbacks on cron expressions by queueing them onto a Domain,
// so cron work obeys the same one-at-a-time rule as every other task there.
type Cron struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	started   atomic.Bool
}

// NewCron creates a stopped cron bridge.
func NewCron(logger *slog.Logger) (*Cron, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cron{scheduler: s, logger: logger}, nil
}

// Start begins firing jobs.
func (c *Cron) Start() {
	c.logger.Info("Starting cron")
	c.started.Store(true)
	c.scheduler.Start()
}

// Stop shuts the cron scheduler down. Tasks already queued on domains are unaffected.
func (c *Cron) Stop() error {
	if !c.started.Swap(false) {
		return nil
	}
	c.logger.Info("Stopping cron")
	return c.scheduler.Shutdown()
}

// ScheduleCron queues cb onto target every time expr matches and returns the job ID.
// Six-field expressions include a leading seconds field.
func (c *Cron) ScheduleCron(name, expr string, target *Domain, cb Callback) (string, error) {
	withSeconds := len(strings.Fields(expr)) == 6
	job, err := c.scheduler.NewJob(
		gocron.CronJob(expr, withSeconds),
		gocron.NewTask(func() {
			target.QueueOnce(name, cb, 0)
		}),
		gocron.WithName(name),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create cron job %s: %w", name, err)
	}
	c.logger.Info("Cron job scheduled",
		logfields.Task(name),
		logfields.TaskID(job.ID().String()),
		logfields.Domain(target.Name()),
		slog.String("expr", expr))
	return job.ID().String(), nil
}

// Remove deletes a job created by ScheduleCron.
func (c *Cron) Remove(id string) error {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid cron job id %q: %w", id, err)
	}
	return c.scheduler.RemoveJob(jobID)
}

// Jobs returns the names of the registered cron jobs.
func (c *Cron) Jobs() []string {
	jobs := c.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}
