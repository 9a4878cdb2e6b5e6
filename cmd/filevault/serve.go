package main

import (
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/filevault/internal/api"
	"github.com/dmitrymomot/filevault/internal/web"
	"github.com/dmitrymomot/filevault/middlewares"
	"github.com/dmitrymomot/filevault/pkg/db"
	"github.com/dmitrymomot/filevault/pkg/job"
	"github.com/dmitrymomot/filevault/pkg/redis"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, with the background worker unless JOB_EMBEDDED_WORKER=false",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()
			cfg := rt.cfg
			if err := cfg.ValidateServe(); err != nil {
				return err
			}

			handlers := api.New(api.Services{
				Billing: rt.billing,
				Ledger:  rt.ledger,
				Files:   rt.files,
				Trash:   rt.trash,
				Shares:  rt.shares,
				Uploads: rt.uploads,
			}, cfg.HTTP.JWTSecret,
				api.WithBaseURL(cfg.HTTP.BaseURL),
				api.WithWebhookSecret(cfg.HTTP.WebhookSecret),
				api.WithRequestTimeout(cfg.HTTP.RequestTimeout),
				api.WithLogger(rt.log),
			)

			appOpts := []web.Option{
				web.WithLogger(rt.log),
				web.WithMiddleware(
					middlewares.RequestID(),
					middlewares.Metrics(rt.metrics, api.StatusOf),
					middlewares.Recover(),
					middlewares.CORS(middlewares.WithAllowOrigins(cfg.HTTP.CORSOrigins...)),
				),
				web.WithErrorHandler(api.ErrorHandler()),
				web.WithNotFoundHandler(api.NotFound),
				web.WithMethodNotAllowedHandler(api.MethodNotAllowed),
				web.WithMount("/metrics", rt.metrics.Handler()),
				web.WithReadinessCheck("database", db.Healthcheck(rt.pool)),
				web.WithHandlers(handlers),
			}
			if rt.redis != nil {
				appOpts = append(appOpts, web.WithReadinessCheck("redis", redis.Healthcheck(rt.redis)))
			}

			runOpts := []web.RunOption{
				web.WithContext(cmd.Context()),
				web.Address(cfg.HTTP.Addr),
				web.Logger(rt.log),
				web.ReadTimeout(cfg.HTTP.ReadTimeout),
				web.WriteTimeout(cfg.HTTP.WriteTimeout),
				web.ShutdownTimeout(cfg.HTTP.ShutdownTimeout),
			}
			if cfg.Jobs.Embedded {
				manager, err := job.NewManager(rt.pool, rt.taskOptions()...)
				if err != nil {
					return err
				}
				appOpts = append(appOpts, web.WithReadinessCheck("jobs", job.Healthcheck(manager)))
				runOpts = append(runOpts,
					web.StartupHook(manager.StartFunc()),
					web.ShutdownHook(manager.Shutdown()),
				)
			}

			return web.Run(web.New(appOpts...), runOpts...)
		},
	}
}
