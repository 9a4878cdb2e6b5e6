package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/filevault/internal/billing"
	"github.com/dmitrymomot/filevault/internal/config"
	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/fsgraph"
	"github.com/dmitrymomot/filevault/internal/metrics"
	"github.com/dmitrymomot/filevault/internal/notify"
	"github.com/dmitrymomot/filevault/internal/quota"
	"github.com/dmitrymomot/filevault/internal/sharing"
	"github.com/dmitrymomot/filevault/internal/store"
	"github.com/dmitrymomot/filevault/internal/tasks"
	"github.com/dmitrymomot/filevault/internal/trash"
	"github.com/dmitrymomot/filevault/internal/upload"
	"github.com/dmitrymomot/filevault/middlewares"
	"github.com/dmitrymomot/filevault/pkg/cache"
	"github.com/dmitrymomot/filevault/pkg/db"
	"github.com/dmitrymomot/filevault/pkg/job"
	"github.com/dmitrymomot/filevault/pkg/logger"
	"github.com/dmitrymomot/filevault/pkg/mailer"
	"github.com/dmitrymomot/filevault/pkg/mailer/resend"
	"github.com/dmitrymomot/filevault/pkg/redis"
	"github.com/dmitrymomot/filevault/pkg/storage"
)

// stack holds everything a command needs, wired from the configuration.
type stack struct {
	cfg     config.Config
	log     *slog.Logger
	pool    *pgxpool.Pool
	redis   *goredis.Client
	store   *store.Postgres
	blobs   storage.Storage
	metrics *metrics.Metrics
	jobs    *job.Enqueuer

	billing *billing.Service
	ledger  *quota.Ledger
	files   *fsgraph.Service
	trash   *trash.Service
	shares  *sharing.Service
	uploads *upload.Service
	notices *notify.Direct

	closers []func()
}

// bootstrap loads the configuration, connects the database, the blob store
// and the optional Redis, and builds the domain services.
func bootstrap(ctx context.Context) (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, flush := logger.New(cfg.Log, os.Stdout, middlewares.RequestIDExtractor(), middlewares.TenantExtractor())
	rt := &stack{cfg: cfg, log: log, metrics: metrics.New(), closers: []func(){flush}}

	if rt.pool, err = db.Connect(ctx, cfg.DB); err != nil {
		rt.close()
		return nil, err
	}
	rt.closers = append(rt.closers, rt.pool.Close)
	rt.store = store.NewPostgres(rt.pool)

	if rt.blobs, err = storage.Open(cfg.Storage,
		storage.WithObserver(rt.metrics.ObserveBlob),
		storage.WithResilientLogger(log),
	); err != nil {
		rt.close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	var plans cache.Cache[core.Plan]
	if cfg.RedisEnabled() {
		if rt.redis, err = redis.Open(ctx, cfg.Redis); err != nil {
			rt.close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = rt.redis.Close() })
		plans = cache.NewRedis[core.Plan](rt.redis, "filevault:plan", nil)
	} else {
		mem := cache.NewMemory[core.Plan](cache.WithDefaultTTL(cfg.Vault.PlanCacheTTL))
		rt.closers = append(rt.closers, func() { _ = mem.Close() })
		plans = mem
	}

	if rt.jobs, err = job.NewEnqueuer(rt.pool, log); err != nil {
		rt.close()
		return nil, err
	}
	notifier := notify.NewQueue(rt.jobs, log)
	rt.notices = notify.NewDirect(rt.store, newMailer(cfg, log), log)

	rt.billing = billing.New(rt.store,
		billing.WithCache(plans, cfg.Vault.PlanCacheTTL),
		billing.WithNotifier(notifier),
		billing.WithLogger(log),
	)
	rt.ledger = quota.New(rt.store, rt.billing,
		quota.WithNotifier(notifier),
		quota.WithMetrics(rt.metrics),
		quota.WithWarningThreshold(cfg.Vault.QuotaWarningThreshold),
		quota.WithLogger(log),
	)
	rt.files = fsgraph.New(rt.store, fsgraph.WithBlobChecker(rt.blobs), fsgraph.WithLogger(log))
	rt.trash = trash.New(rt.store, rt.ledger, rt.blobs,
		trash.WithRetention(cfg.Vault.TrashRetention),
		trash.WithDispatcher(rt.jobs),
		trash.WithNotifier(notifier),
		trash.WithMetrics(rt.metrics),
		trash.WithLogger(log),
	)
	rt.shares = sharing.New(rt.store, rt.blobs,
		sharing.WithURLTTL(cfg.Vault.ShareURLTTL),
		sharing.WithMetrics(rt.metrics),
		sharing.WithLogger(log),
	)
	rt.uploads = upload.New(rt.store, rt.files, rt.ledger, rt.blobs,
		upload.WithMaxSize(cfg.Vault.MaxUploadSize),
		upload.WithMetrics(rt.metrics),
		upload.WithLogger(log),
	)
	return rt, nil
}

func newMailer(cfg config.Config, log *slog.Logger) *mailer.Mailer {
	var sender mailer.Sender = mailer.LogSender{Logger: log}
	if cfg.Mailer.Driver == mailer.DriverResend {
		sender = resend.New(cfg.Resend)
	}
	return mailer.New(sender, mailer.NewRenderer(notify.Templates()), cfg.Mailer)
}

// taskOptions registers every background task on a job manager.
func (rt *stack) taskOptions() []job.Option {
	opts := tasks.Options(tasks.Deps{
		Trash:             rt.trash,
		Billing:           rt.billing,
		Ledger:            rt.ledger,
		Tenants:           rt.store,
		Blobs:             rt.blobs,
		Notices:           rt.notices,
		Logger:            rt.log,
		SweepSchedule:     rt.cfg.Jobs.SweepSchedule,
		DowngradeSchedule: rt.cfg.Jobs.DowngradeSchedule,
		SweepBatch:        rt.cfg.Jobs.SweepBatch,
	})
	return append(opts, job.WithLogger(rt.log), job.WithMaxWorkers(rt.cfg.Jobs.Workers))
}

func (rt *stack) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
