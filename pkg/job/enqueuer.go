package job

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

// Dispatcher hands a task to whatever executes it.
type Dispatcher interface {
	Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) error
}

// Enqueuer inserts jobs without running workers. Task names are checked by
// the worker process that picks them up.
type Enqueuer struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	logger *slog.Logger
}

// NewEnqueuer creates an insert-only River client.
func NewEnqueuer(pool *pgxpool.Pool, logger *slog.Logger) (*Enqueuer, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("job: create enqueuer client: %w", err)
	}
	return &Enqueuer{pool: pool, client: client, logger: logger}, nil
}

func (e *Enqueuer) Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) error {
	args, insert, err := buildJobArgs(name, payload, opts...)
	if err != nil {
		return err
	}
	res, err := e.client.Insert(ctx, args, insert)
	if err != nil {
		return fmt.Errorf("job: enqueue %s: %w", name, err)
	}
	if res.UniqueSkippedAsDuplicate {
		e.logger.DebugContext(ctx, "duplicate job skipped", slog.String("task", name))
	}
	return nil
}

// EnqueueTx inserts the job inside tx; it becomes visible on commit.
func (e *Enqueuer) EnqueueTx(ctx context.Context, tx pgx.Tx, name string, payload any, opts ...EnqueueOption) error {
	args, insert, err := buildJobArgs(name, payload, opts...)
	if err != nil {
		return err
	}
	if _, err := e.client.InsertTx(ctx, tx, args, insert); err != nil {
		return fmt.Errorf("job: enqueue %s in tx: %w", name, err)
	}
	return nil
}

var _ Dispatcher = (*Enqueuer)(nil)
