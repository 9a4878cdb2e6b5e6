package job

import (
	"log/slog"
)

const (
	defaultMaxWorkers = 20
)

type config struct {
	registry   *registry
	queues     map[string]int
	logger     *slog.Logger
	schedules  []schedule
	maxWorkers int
}

type schedule struct {
	name string
	expr string
}

func newConfig() *config {
	return &config{
		registry:   newRegistry(),
		queues:     make(map[string]int),
		maxWorkers: defaultMaxWorkers,
	}
}

// Option configures a Manager or Local dispatcher.
type Option func(*config)

// WithTask registers a payload-carrying task.
//
//	job.WithTask[tasks.BlobCleanupPayload](tasks.NewBlobCleanup(blobs))
func WithTask[P any](task Task[P]) Option {
	return func(c *config) {
		c.registry.register(task.Name(), &typedExecutor[P]{task: task})
	}
}

// WithScheduledTask registers a periodic task. Its Schedule is parsed when
// the Manager is built; Local ignores the schedule and runs it on demand.
func WithScheduledTask(task ScheduledTask) Option {
	return func(c *config) {
		c.schedules = append(c.schedules, schedule{name: task.Name(), expr: task.Schedule()})
		c.registry.register(task.Name(), &scheduledExecutor{handle: task.Handle})
	}
}

// WithQueue adds a named queue with its own worker limit.
func WithQueue(name string, workers int) Option {
	return func(c *config) {
		if name != "" && workers > 0 {
			c.queues[name] = workers
		}
	}
}

// WithLogger sets the logger. A discarding logger is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxWorkers bounds the default queue.
func WithMaxWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}
