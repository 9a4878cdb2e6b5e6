package job

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Local executes tasks synchronously in the calling goroutine. Scheduling
// and uniqueness options are ignored. Errors are logged and returned.
type Local struct {
	registry *registry
	logger   *slog.Logger
}

// NewLocal builds an in-process dispatcher from the same options a
// Manager takes.
func NewLocal(opts ...Option) *Local {
	cfg := newConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Local{registry: cfg.registry, logger: cfg.logger}
}

// Register adds tasks after construction, which lets tasks that depend on
// the dispatcher itself be registered.
func (l *Local) Register(opts ...Option) {
	cfg := &config{registry: l.registry, queues: map[string]int{}}
	for _, opt := range opts {
		opt(cfg)
	}
}

func (l *Local) Enqueue(ctx context.Context, name string, payload any, _ ...EnqueueOption) error {
	exec, ok := l.registry.get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("job: marshal payload: %w", err)
		}
		raw = b
	}

	start := time.Now()
	if err := exec.Execute(ctx, raw); err != nil {
		l.logger.ErrorContext(ctx, "task failed", slog.String("task", name), slog.Any("error", err))
		return err
	}
	l.logger.DebugContext(ctx, "task completed", slog.String("task", name), slog.Duration("took", time.Since(start)))
	return nil
}

// Run executes a registered task by name with no payload, which is how
// periodic tasks are triggered from the command line.
func (l *Local) Run(ctx context.Context, name string) error {
	return l.Enqueue(ctx, name, nil)
}

// Tasks lists registered task names.
func (l *Local) Tasks() []string {
	return l.registry.names()
}

var _ Dispatcher = (*Local)(nil)
