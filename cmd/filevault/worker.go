package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/filevault/pkg/job"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the background worker: trash sweep, downgrades, notifications and blob cleanup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			manager, err := job.NewManager(rt.pool, rt.taskOptions()...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := manager.Start(ctx); err != nil {
				return err
			}
			rt.log.Info("worker started", slog.Int("workers", rt.cfg.Jobs.Workers))
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return manager.Stop(shutdownCtx)
		},
	}
}
