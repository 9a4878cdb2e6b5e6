package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/filevault/internal/store/migrations"
	"github.com/dmitrymomot/filevault/pkg/db"
	"github.com/dmitrymomot/filevault/pkg/job"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations, including the job queue schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			if err := db.Migrate(cmd.Context(), rt.pool, migrations.FS, rt.cfg.DB.MigrationsTable, rt.log); err != nil {
				return err
			}
			if err := job.Migrate(cmd.Context(), rt.pool); err != nil {
				return err
			}
			rt.log.Info("migrations applied")
			return nil
		},
	}
}

func newSeedPlansCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-plans",
		Short: "Install or update the plan catalogue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			plans, err := rt.billing.SeedPlans(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range plans {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-14s %10s\n", p.Code, p.Name, humanize.IBytes(uint64(p.MaxBytes)))
			}
			return nil
		},
	}
}

func newSweepTrashCommand() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "sweep-trash",
		Short: "Purge every trash entry past its retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			report, err := rt.trash.SweepExpired(cmd.Context(), time.Now().UTC(), batch)
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d files (%s), %d failed\n",
				report.Files, humanize.IBytes(uint64(report.Bytes)), report.Failed)
			return err
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 100, "entries purged per round")
	return cmd
}

func newResyncQuotaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resync-quota [tenant-id...]",
		Short: "Recompute quota counters from file sizes; all tenants when none are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			ids := args
			if len(ids) == 0 {
				if ids, err = rt.store.ListTenantIDs(cmd.Context()); err != nil {
					return err
				}
			}
			var failed int
			for _, id := range ids {
				u, err := rt.ledger.Resync(cmd.Context(), id)
				if err != nil {
					failed++
					rt.log.Error("quota resync failed", slog.String("tenant_id", id), slog.Any("error", err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s / %s\n", id, humanize.IBytes(uint64(u.Used)), humanize.IBytes(uint64(u.Max)))
			}
			if failed > 0 {
				return fmt.Errorf("resync failed for %d of %d tenants", failed, len(ids))
			}
			return nil
		},
	}
}
