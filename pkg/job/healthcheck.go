package job

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

var (
	errManagerNil        = errors.New("manager is nil")
	errManagerNotStarted = errors.New("manager not started")
)

// Healthcheck reports whether the manager is running and its pool answers.
func Healthcheck(m *Manager) func(context.Context) error {
	return func(ctx context.Context) error {
		if m == nil {
			return errors.Join(ErrHealthcheckFailed, errManagerNil)
		}

		m.mu.Lock()
		started := m.started
		m.mu.Unlock()
		if !started {
			return errors.Join(ErrHealthcheckFailed, errManagerNotStarted)
		}

		if err := m.pool.Ping(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}

// Migrate brings River's queue tables up to date.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return ErrPoolRequired
	}
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return errors.Join(ErrMigrate, err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return errors.Join(ErrMigrate, err)
	}
	return nil
}
