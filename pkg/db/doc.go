// Package db wraps [github.com/jackc/pgx/v5/pgxpool] with startup retry,
// a readiness check, transaction helpers and goose migrations.
//
// Settings come from the environment:
//
//	DATABASE_URL                - PostgreSQL connection URL (required)
//	DATABASE_MAX_CONNS          - pool size (default: 20)
//	DATABASE_MIN_CONNS          - idle connections kept open (default: 2)
//	DATABASE_HEALTHCHECK_PERIOD - pool health check interval (default: 1m)
//	DATABASE_MAX_CONN_IDLE_TIME - idle connection lifetime (default: 10m)
//	DATABASE_MAX_CONN_LIFETIME  - connection lifetime (default: 30m)
//	DATABASE_RETRY_ATTEMPTS     - connect attempts (default: 3)
//	DATABASE_RETRY_INTERVAL     - base retry delay (default: 2s)
//	DATABASE_MIGRATIONS_TABLE   - goose version table (default: schema_migrations)
//
// Migrations are embedded by the owning package and passed to [Migrate]:
//
//	//go:embed migrations/*.sql
//	var migrations embed.FS
//
//	sub, _ := fs.Sub(migrations, "migrations")
//	err := db.Migrate(ctx, pool, sub, cfg.MigrationsTable, logger)
//
// [WithTx] commits on success and rolls back on error or panic:
//
//	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
//		_, err := tx.Exec(ctx, "UPDATE ...")
//		return err
//	})
package db
