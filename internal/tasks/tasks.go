// Package tasks adapts domain services to background jobs run by pkg/job.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/filevault/internal/billing"
	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/notify"
	"github.com/dmitrymomot/filevault/internal/quota"
	"github.com/dmitrymomot/filevault/internal/store"
	"github.com/dmitrymomot/filevault/internal/trash"
	"github.com/dmitrymomot/filevault/pkg/job"
	"github.com/dmitrymomot/filevault/pkg/logger"
	"github.com/dmitrymomot/filevault/pkg/storage"
)

const (
	TaskSweepTrash            = "sweep_trash"
	TaskSubscriptionDowngrade = "subscription_downgrade"
	TaskResyncQuota           = "resync_quota"

	DefaultSweepSchedule     = "0 * * * *"
	DefaultDowngradeSchedule = "15 * * * *"
	DefaultSweepBatch        = 100
)

// Deps are the services the tasks drive.
type Deps struct {
	Clock             core.Clock
	Trash             *trash.Service
	Billing           *billing.Service
	Ledger            *quota.Ledger
	Tenants           store.Tenants
	Blobs             storage.Storage
	Notices           *notify.Direct
	Logger            *slog.Logger
	SweepSchedule     string
	DowngradeSchedule string
	SweepBatch        int
}

// Options registers every task with a job.Manager or job.Local.
func Options(d Deps) []job.Option {
	if d.Clock == nil {
		d.Clock = core.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = logger.Discard()
	}
	opts := []job.Option{
		job.WithScheduledTask(&SweepTrash{trash: d.Trash, clock: d.Clock, log: d.Logger, schedule: d.SweepSchedule, batch: d.SweepBatch}),
		job.WithScheduledTask(&DowngradeLapsed{billing: d.Billing, clock: d.Clock, log: d.Logger, schedule: d.DowngradeSchedule}),
		job.WithTask[ResyncQuotaArgs](&ResyncQuota{ledger: d.Ledger, tenants: d.Tenants, log: d.Logger}),
		job.WithTask[trash.BlobCleanup](&BlobCleanup{blobs: d.Blobs}),
	}
	if d.Notices != nil {
		opts = append(opts, job.WithTask[notify.Notice](d.Notices))
	}
	return opts
}

// SweepTrash purges expired trash entries of every tenant.
type SweepTrash struct {
	trash    *trash.Service
	clock    core.Clock
	log      *slog.Logger
	schedule string
	batch    int
}

func (t *SweepTrash) Name() string { return TaskSweepTrash }

func (t *SweepTrash) Schedule() string {
	if t.schedule == "" {
		return DefaultSweepSchedule
	}
	return t.schedule
}

func (t *SweepTrash) Handle(ctx context.Context) error {
	batch := t.batch
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	report, err := t.trash.SweepExpired(ctx, t.clock.Now(), batch)
	t.log.InfoContext(ctx, "trash sweep finished",
		slog.Int("files", report.Files),
		slog.Int64("bytes", report.Bytes),
		slog.Int("failed", report.Failed),
	)
	return err
}

// DowngradeLapsed moves tenants with ended subscriptions to the default plan.
type DowngradeLapsed struct {
	billing  *billing.Service
	clock    core.Clock
	log      *slog.Logger
	schedule string
}

func (t *DowngradeLapsed) Name() string { return TaskSubscriptionDowngrade }

func (t *DowngradeLapsed) Schedule() string {
	if t.schedule == "" {
		return DefaultDowngradeSchedule
	}
	return t.schedule
}

func (t *DowngradeLapsed) Handle(ctx context.Context) error {
	n, err := t.billing.DowngradeLapsed(ctx, t.clock.Now())
	if n > 0 {
		t.log.InfoContext(ctx, "lapsed subscriptions downgraded", slog.Int("tenants", n))
	}
	return err
}

// ResyncQuotaArgs selects tenants to resync; empty means all of them.
type ResyncQuotaArgs struct {
	TenantIDs []string `json:"tenant_ids,omitempty"`
}

// ResyncQuota rebuilds usage counters from file rows.
type ResyncQuota struct {
	ledger  *quota.Ledger
	tenants store.Tenants
	log     *slog.Logger
}

func (t *ResyncQuota) Name() string { return TaskResyncQuota }

func (t *ResyncQuota) Handle(ctx context.Context, args ResyncQuotaArgs) error {
	ids := args.TenantIDs
	if len(ids) == 0 {
		var err error
		if ids, err = t.tenants.ListTenantIDs(ctx); err != nil {
			return fmt.Errorf("list tenants: %w", err)
		}
	}

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.ledger.Resync(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("resync %s: %w", id, err))
		}
	}
	t.log.InfoContext(ctx, "quota resync finished",
		slog.Int("tenants", len(ids)),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

// BlobCleanup retries the blob deletion of a purged file.
type BlobCleanup struct {
	blobs storage.Storage
}

func (t *BlobCleanup) Name() string { return trash.TaskBlobCleanup }

func (t *BlobCleanup) Handle(ctx context.Context, p trash.BlobCleanup) error {
	if p.Key == "" {
		return nil
	}
	return t.blobs.Delete(ctx, p.Key)
}
