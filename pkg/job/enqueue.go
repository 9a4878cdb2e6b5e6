package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/riverqueue/river"
)

type enqueueConfig struct {
	scheduledAt *time.Time
	queue       string
	uniqueKey   string
	maxAttempts int
	uniqueFor   time.Duration
	priority    int
}

// EnqueueOption tunes a single insert.
type EnqueueOption func(*enqueueConfig)

// InQueue routes the job to a named queue.
func InQueue(name string) EnqueueOption {
	return func(c *enqueueConfig) {
		if name != "" {
			c.queue = name
		}
	}
}

// ScheduledAt delays the job until t.
func ScheduledAt(t time.Time) EnqueueOption {
	return func(c *enqueueConfig) {
		c.scheduledAt = &t
	}
}

// ScheduledIn delays the job by d.
func ScheduledIn(d time.Duration) EnqueueOption {
	return func(c *enqueueConfig) {
		t := time.Now().Add(d)
		c.scheduledAt = &t
	}
}

// MaxAttempts caps retries. River's default applies when unset.
func MaxAttempts(n int) EnqueueOption {
	return func(c *enqueueConfig) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// UniqueFor skips the insert when a job with the same task name and key was
// inserted within d. Without UniqueKey the serialized payload is the key.
func UniqueFor(d time.Duration) EnqueueOption {
	return func(c *enqueueConfig) {
		c.uniqueFor = d
	}
}

// UniqueKey sets the deduplication key used with UniqueFor.
func UniqueKey(key string) EnqueueOption {
	return func(c *enqueueConfig) {
		c.uniqueKey = key
	}
}

// Priority orders jobs within a queue; River accepts 1 (first) to 4.
func Priority(p int) EnqueueOption {
	return func(c *enqueueConfig) {
		if p >= 1 && p <= 4 {
			c.priority = p
		}
	}
}

// taskArgs is the single River job kind every task is carried in.
type taskArgs struct {
	TaskName  string          `json:"task_name" river:"unique"`
	UniqueKey string          `json:"unique_key,omitempty" river:"unique"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (taskArgs) Kind() string { return "filevault:task" }

func buildJobArgs(name string, payload any, opts ...EnqueueOption) (*taskArgs, *river.InsertOpts, error) {
	args := &taskArgs{TaskName: name}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("job: marshal payload: %w", err)
		}
		args.Payload = raw
	}

	cfg := &enqueueConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	insert := &river.InsertOpts{
		Queue:       cfg.queue,
		MaxAttempts: cfg.maxAttempts,
		Priority:    cfg.priority,
		Tags:        []string{name},
	}
	if cfg.scheduledAt != nil {
		insert.ScheduledAt = *cfg.scheduledAt
	}
	if cfg.uniqueFor > 0 {
		args.UniqueKey = cfg.uniqueKey
		if args.UniqueKey == "" {
			args.UniqueKey = string(args.Payload)
		}
		insert.UniqueOpts = river.UniqueOpts{ByArgs: true, ByPeriod: cfg.uniqueFor}
	}

	return args, insert, nil
}
