package job

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/robfig/cron/v3"
)

// Manager runs River workers for the registered tasks and can enqueue
// before Start is called.
type Manager struct {
	*Enqueuer
	registry *registry
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewManager builds the River client, workers and periodic jobs.
func NewManager(pool *pgxpool.Pool, opts ...Option) (*Manager, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}

	cfg := newConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	queues := map[string]river.QueueConfig{
		river.QueueDefault: {MaxWorkers: cfg.maxWorkers},
	}
	for name, n := range cfg.queues {
		queues[name] = river.QueueConfig{MaxWorkers: n}
	}

	periodic := make([]*river.PeriodicJob, 0, len(cfg.schedules))
	for _, s := range cfg.schedules {
		sched, err := parseCronSchedule(s.expr)
		if err != nil {
			return nil, fmt.Errorf("job: invalid cron schedule %q for %s: %w", s.expr, s.name, err)
		}
		name := s.name
		periodic = append(periodic, river.NewPeriodicJob(
			sched,
			func() (river.JobArgs, *river.InsertOpts) {
				return &taskArgs{TaskName: name}, &river.InsertOpts{Tags: []string{name, "periodic"}}
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		))
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &taskWorker{registry: cfg.registry, logger: cfg.logger})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       queues,
		Workers:      workers,
		PeriodicJobs: periodic,
		Logger:       cfg.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("job: create client: %w", err)
	}

	return &Manager{
		Enqueuer: &Enqueuer{pool: pool, client: client, logger: cfg.logger},
		registry: cfg.registry,
		logger:   cfg.logger,
	}, nil
}

// Start begins fetching and working jobs.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}
	if err := m.client.Start(ctx); err != nil {
		return fmt.Errorf("job: start client: %w", err)
	}
	m.started = true
	m.logger.InfoContext(ctx, "job manager started", slog.Any("tasks", m.registry.names()))
	return nil
}

// Stop waits for running jobs to finish or ctx to expire.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return ErrNotStarted
	}
	if err := m.client.Stop(ctx); err != nil {
		return fmt.Errorf("job: stop client: %w", err)
	}
	m.started = false
	m.logger.InfoContext(ctx, "job manager stopped")
	return nil
}

// Enqueue rejects names with no registered handler.
func (m *Manager) Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) error {
	if _, ok := m.registry.get(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return m.Enqueuer.Enqueue(ctx, name, payload, opts...)
}

// EnqueueTx rejects names with no registered handler.
func (m *Manager) EnqueueTx(ctx context.Context, tx pgx.Tx, name string, payload any, opts ...EnqueueOption) error {
	if _, ok := m.registry.get(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return m.Enqueuer.EnqueueTx(ctx, tx, name, payload, opts...)
}

// StartFunc adapts Start to a startup hook.
func (m *Manager) StartFunc() func(context.Context) error {
	return m.Start
}

// Shutdown adapts Stop to a shutdown hook.
func (m *Manager) Shutdown() func(context.Context) error {
	return m.Stop
}

type taskWorker struct {
	river.WorkerDefaults[taskArgs]
	registry *registry
	logger   *slog.Logger
}

func (w *taskWorker) Work(ctx context.Context, job *river.Job[taskArgs]) error {
	exec, ok := w.registry.get(job.Args.TaskName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, job.Args.TaskName)
	}

	log := w.logger.With(
		slog.String("task", job.Args.TaskName),
		slog.Int64("job_id", job.ID),
		slog.Int("attempt", job.Attempt),
	)

	start := time.Now()
	if err := exec.Execute(ctx, job.Args.Payload); err != nil {
		log.ErrorContext(ctx, "task failed", slog.Any("error", err))
		return err
	}
	log.DebugContext(ctx, "task completed", slog.Duration("took", time.Since(start)))
	return nil
}

type cronSchedule struct {
	cron.Schedule
}

func parseCronSchedule(expr string) (river.PeriodicSchedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return cronSchedule{s}, nil
}

var _ Dispatcher = (*Manager)(nil)
