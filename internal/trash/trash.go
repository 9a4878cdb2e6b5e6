// Package trash implements the soft-delete lifecycle: files move to the
// trash, come back on restore, and are purged for good after a retention
// window. Quota is held until purge.
package trash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/metrics"
	"github.com/dmitrymomot/filevault/internal/quota"
	"github.com/dmitrymomot/filevault/internal/store"
	"github.com/dmitrymomot/filevault/pkg/job"
	"github.com/dmitrymomot/filevault/pkg/logger"
)

const (
	// DefaultRetention is how long a trashed file waits before the sweep.
	DefaultRetention = 30 * 24 * time.Hour

	// TaskBlobCleanup retries the blob deletion of a purged file.
	TaskBlobCleanup = "blob_cleanup"

	// TemplatePurged summarizes files removed by the retention sweep.
	TemplatePurged = "trash_purged"
)

// BlobCleanup is the payload of TaskBlobCleanup.
type BlobCleanup struct {
	Key      string `json:"key"`
	TenantID string `json:"tenant_id"`
}

// BlobDeleter removes purged blobs.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Notifier receives the sweep summary per tenant.
type Notifier interface {
	Notify(ctx context.Context, tenantID, templateID string, data map[string]any)
}

// Service moves files through the trash and purges them.
type Service struct {
	store     store.Store
	ledger    *quota.Ledger
	blobs     BlobDeleter
	jobs      job.Dispatcher
	notifier  Notifier
	metrics   *metrics.Metrics
	clock     core.Clock
	logger    *slog.Logger
	retention time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithRetention sets how long trashed files are kept. Default: DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithDispatcher enables deferred blob cleanup when a delete fails.
func WithDispatcher(d job.Dispatcher) Option {
	return func(s *Service) { s.jobs = d }
}

// WithNotifier sends the sweep summary through n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics counts purges and invariant violations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock sets the time source for retention deadlines.
func WithClock(c core.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Service that releases purged bytes through ledger.
func New(st store.Store, ledger *quota.Ledger, blobs BlobDeleter, opts ...Option) *Service {
	s := &Service{
		store:     st,
		ledger:    ledger,
		blobs:     blobs,
		clock:     core.SystemClock{},
		logger:    logger.Discard(),
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SoftDelete moves an active file to the trash. Blob and quota are untouched.
func (s *Service) SoftDelete(ctx context.Context, ownerID, fileID string) (core.TrashEntry, error) {
	var entry core.TrashEntry
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		f, ok, err := tx.MarkDeleted(ctx, ownerID, fileID)
		if err != nil {
			return err
		}
		if !ok {
			return core.NotFound("File")
		}
		now := s.clock.Now()
		entry = core.TrashEntry{
			FileID:           f.ID,
			TenantID:         ownerID,
			OriginalFolderID: f.FolderID,
			DeletedAt:        now,
			PurgeAfter:       now.Add(s.retention),
		}
		return tx.InsertTrashEntry(ctx, entry)
	})
	if err != nil {
		return core.TrashEntry{}, err
	}
	return entry, nil
}

// Restore brings a trashed file back into its original folder, or the
// root when that folder is gone.
func (s *Service) Restore(ctx context.Context, ownerID, fileID string) (core.File, error) {
	var restored core.File
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		var target *string
		entry, err := tx.GetTrashEntry(ctx, ownerID, fileID)
		switch {
		case err == nil:
			target = entry.OriginalFolderID
		case !errors.Is(err, core.ErrNotFound):
			return err
		}
		if target != nil {
			if _, err := tx.GetFolder(ctx, ownerID, *target); errors.Is(err, core.ErrNotFound) {
				target = nil
			} else if err != nil {
				return err
			}
		}

		f, ok, err := tx.MarkRestored(ctx, ownerID, fileID, target)
		if err != nil {
			return err
		}
		if !ok {
			return core.NotFound("File")
		}
		restored = f
		return tx.DeleteTrashEntry(ctx, fileID)
	})
	if err != nil {
		return core.File{}, err
	}
	return restored, nil
}

// Purge permanently deletes a trashed file and releases its quota. A file
// that is already gone is a no-op; an active file is not in the trash and
// reports core.ErrNotFound.
func (s *Service) Purge(ctx context.Context, ownerID, fileID string) error {
	_, _, err := s.purge(ctx, ownerID, fileID)
	return err
}

// purge reports healed when the file was active but a trash entry still
// pointed at it; the entry is dropped and core.ErrNotFound returned.
func (s *Service) purge(ctx context.Context, ownerID, fileID string) (f core.File, healed bool, err error) {
	var (
		purged core.File
		ok     bool
	)
	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		var err error
		purged, ok, err = tx.DeleteTrashedFile(ctx, ownerID, fileID)
		if err != nil || !ok {
			return err
		}
		_, err = s.ledger.In(tx).Release(ctx, ownerID, purged.Size)
		return err
	})
	if err != nil {
		return core.File{}, false, fmt.Errorf("purge file %s: %w", fileID, err)
	}
	if !ok {
		if f, err := s.store.GetFile(ctx, ownerID, fileID); err == nil && !f.IsDeleted {
			return core.File{}, s.dropStrayEntry(ctx, ownerID, fileID), core.NotFound("File in trash")
		}
		return core.File{}, false, nil
	}

	s.metrics.Purged(purged.Size)
	s.deleteBlob(ctx, ownerID, purged.BlobKey)
	return purged, false, nil
}

// dropStrayEntry removes a trash entry that points at an active file.
func (s *Service) dropStrayEntry(ctx context.Context, ownerID, fileID string) bool {
	dropped, err := s.store.DeleteStrayTrashEntry(ctx, ownerID, fileID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to drop stray trash entry",
			slog.String("tenant_id", ownerID),
			slog.String("file_id", fileID),
			slog.Any("error", err),
		)
		return false
	}
	if !dropped {
		return false
	}
	s.metrics.InvariantViolation("stray_trash_entry")
	s.logger.ErrorContext(ctx, "dropped trash entry of an active file",
		slog.String("tenant_id", ownerID),
		slog.String("file_id", fileID),
		slog.Any("error", core.ErrInvariantViolation),
	)
	return true
}

// deleteBlob runs after commit. A failure leaves an orphaned blob, which
// is handed to the job queue.
func (s *Service) deleteBlob(ctx context.Context, ownerID, key string) {
	err := s.blobs.Delete(ctx, key)
	if err == nil {
		return
	}
	s.logger.WarnContext(ctx, "blob delete failed after purge",
		slog.String("tenant_id", ownerID),
		slog.String("blob_key", key),
		slog.Any("error", err),
	)
	if s.jobs == nil {
		return
	}
	if err := s.jobs.Enqueue(ctx, TaskBlobCleanup, BlobCleanup{Key: key, TenantID: ownerID},
		job.UniqueKey(key), job.UniqueFor(time.Hour), job.MaxAttempts(10),
	); err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue blob cleanup",
			slog.String("blob_key", key),
			slog.Any("error", err),
		)
	}
}

// PurgeReport counts the outcome of a bulk purge.
type PurgeReport struct {
	Files  int   `json:"purged_files"`
	Bytes  int64 `json:"purged_bytes"`
	Failed int   `json:"failed"`
}

func (r *PurgeReport) add(f core.File) {
	if f.ID == "" {
		return
	}
	r.Files++
	r.Bytes += f.Size
}

// EmptyTrash purges every trashed file of the owner. Failures do not stop
// the remaining purges and are joined into the returned error.
func (s *Service) EmptyTrash(ctx context.Context, ownerID string) (PurgeReport, error) {
	items, err := s.store.ListTrash(ctx, ownerID)
	if err != nil {
		return PurgeReport{}, err
	}

	var (
		report PurgeReport
		errs   []error
	)
	for _, it := range items {
		f, _, err := s.purge(ctx, ownerID, it.File.ID)
		if err != nil {
			report.Failed++
			errs = append(errs, err)
			continue
		}
		report.add(f)
	}
	return report, errors.Join(errs...)
}

// SweepExpired purges every entry due at now across tenants, batch by
// batch. It is idempotent and stops when a batch makes no progress.
func (s *Service) SweepExpired(ctx context.Context, now time.Time, batch int) (PurgeReport, error) {
	if batch <= 0 {
		batch = 100
	}

	var report PurgeReport
	perTenant := map[string]*PurgeReport{}
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		entries, err := s.store.ListExpiredTrash(ctx, now, batch)
		if err != nil {
			return report, err
		}

		progressed := false
		for _, e := range entries {
			f, healed, err := s.purge(ctx, e.TenantID, e.FileID)
			if healed {
				progressed = true
				continue
			}
			if err != nil {
				report.Failed++
				s.logger.ErrorContext(ctx, "trash sweep purge failed",
					slog.String("tenant_id", e.TenantID),
					slog.String("file_id", e.FileID),
					slog.Any("error", err),
				)
				continue
			}
			progressed = true
			report.add(f)
			if perTenant[e.TenantID] == nil {
				perTenant[e.TenantID] = &PurgeReport{}
			}
			perTenant[e.TenantID].add(f)
		}
		if len(entries) < batch || !progressed {
			break
		}
	}

	if s.notifier != nil {
		for tenantID, r := range perTenant {
			if r.Files == 0 {
				continue
			}
			s.notifier.Notify(ctx, tenantID, TemplatePurged, map[string]any{
				"Files":         r.Files,
				"RetentionDays": int(s.retention / (24 * time.Hour)),
			})
		}
	}
	return report, nil
}

// Item is a trashed file with its retention deadline.
type Item struct {
	File       core.File `json:"file"`
	DeletedAt  time.Time `json:"deleted_at"`
	PurgeAfter time.Time `json:"purge_after"`
	DaysLeft   int       `json:"days_left"`
}

// List returns the owner's trash, most recently deleted first.
func (s *Service) List(ctx context.Context, ownerID string) ([]Item, error) {
	rows, err := s.store.ListTrash(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, Item{
			File:       r.File,
			DeletedAt:  r.Entry.DeletedAt,
			PurgeAfter: r.Entry.PurgeAfter,
			DaysLeft:   daysLeft(now, r.Entry.PurgeAfter),
		})
	}
	return items, nil
}

func daysLeft(now, deadline time.Time) int {
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	const day = 24 * time.Hour
	return int((left + day - 1) / day)
}
