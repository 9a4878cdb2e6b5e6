package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/pkg/db"
	"github.com/dmitrymomot/filevault/pkg/id"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres is the pgx implementation of Store.
type Postgres struct {
	db   DBTX
	inTx bool
}

// NewPostgres binds a Store to pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{db: pool}
}

func (p *Postgres) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	if p.inTx {
		return fn(p)
	}
	return db.WithTx(ctx, p.db, func(tx pgx.Tx) error {
		return fn(&Postgres{db: tx, inTx: true})
	})
}

// lookupErr maps a single-row lookup failure.
func lookupErr(err error, resource string) error {
	if db.IsNoRows(err) || db.IsInvalidInput(err) {
		return core.NotFound(resource)
	}
	return err
}

func writeErr(err error, op string) error {
	if name, ok := db.IsUniqueViolation(err); ok {
		if name == "folders_sibling_name_key" {
			return core.ErrDuplicateName
		}
		return fmt.Errorf("%w: %s: %s", ErrConflict, op, name)
	}
	if name, ok := db.IsForeignKeyViolation(err); ok {
		return fmt.Errorf("%w: %s: %s", ErrConflict, op, name)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Tenants

func (p *Postgres) CreateTenant(ctx context.Context, t core.Tenant) (bool, error) {
	tag, err := p.db.Exec(ctx,
		`INSERT INTO tenants (id, email) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Email)
	if err != nil {
		return false, writeErr(err, "create tenant")
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) GetTenant(ctx context.Context, tenantID string) (core.Tenant, error) {
	var t core.Tenant
	err := p.db.QueryRow(ctx, `SELECT id, email, created_at FROM tenants WHERE id = $1`, tenantID).
		Scan(&t.ID, &t.Email, &t.CreatedAt)
	if err != nil {
		return core.Tenant{}, lookupErr(err, "Account")
	}
	return t, nil
}

func (p *Postgres) ListTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.Query(ctx, `SELECT id::text FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Quotas

func (p *Postgres) CreateQuotaProfile(ctx context.Context, q core.QuotaProfile) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO quota_profiles (tenant_id, plan_id, used_bytes) VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id) DO NOTHING`,
		q.TenantID, q.PlanID, q.UsedBytes)
	if err != nil {
		return writeErr(err, "create quota profile")
	}
	return nil
}

func (p *Postgres) GetQuotaProfile(ctx context.Context, tenantID string) (core.QuotaProfile, error) {
	var q core.QuotaProfile
	err := p.db.QueryRow(ctx,
		`SELECT tenant_id, plan_id::text, used_bytes, updated_at FROM quota_profiles WHERE tenant_id = $1`,
		tenantID).Scan(&q.TenantID, &q.PlanID, &q.UsedBytes, &q.UpdatedAt)
	if err != nil {
		return core.QuotaProfile{}, lookupErr(err, "Quota profile")
	}
	return q, nil
}

func (p *Postgres) SetProfilePlan(ctx context.Context, tenantID string, planID *string) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE quota_profiles SET plan_id = $2, updated_at = now() WHERE tenant_id = $1`,
		tenantID, planID)
	if err != nil {
		return writeErr(err, "set profile plan")
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("Quota profile")
	}
	return nil
}

func (p *Postgres) ReserveUsage(ctx context.Context, r core.Reservation, limit int64) (int64, bool, error) {
	var used int64
	err := p.db.QueryRow(ctx,
		`WITH charged AS (
			UPDATE quota_profiles SET used_bytes = used_bytes + $3, updated_at = now()
			WHERE tenant_id = $2 AND used_bytes + $3 <= $4
			RETURNING used_bytes
		), held AS (
			INSERT INTO quota_reservations (id, tenant_id, bytes, created_at)
			SELECT $1, $2, $3, $5 FROM charged
		)
		SELECT used_bytes FROM charged`,
		r.ID, r.TenantID, r.Bytes, limit, r.CreatedAt).Scan(&used)
	if err == nil {
		return used, true, nil
	}
	if !db.IsNoRows(err) {
		return 0, false, fmt.Errorf("reserve usage: %w", err)
	}
	q, err := p.GetQuotaProfile(ctx, r.TenantID)
	if err != nil {
		return 0, false, err
	}
	return q.UsedBytes, false, nil
}

func (p *Postgres) SettleReservation(ctx context.Context, reservationID string) (bool, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM quota_reservations WHERE id = $1`, reservationID)
	if err != nil {
		if db.IsInvalidInput(err) {
			return false, nil
		}
		return false, fmt.Errorf("settle reservation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) CancelReservation(ctx context.Context, reservationID string) (int64, bool, error) {
	var used int64
	err := p.db.QueryRow(ctx,
		`WITH dropped AS (
			DELETE FROM quota_reservations WHERE id = $1 RETURNING tenant_id, bytes
		)
		UPDATE quota_profiles q SET used_bytes = GREATEST(q.used_bytes - dropped.bytes, 0), updated_at = now()
		FROM dropped WHERE q.tenant_id = dropped.tenant_id
		RETURNING q.used_bytes`,
		reservationID).Scan(&used)
	if err != nil {
		if db.IsNoRows(err) || db.IsInvalidInput(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("cancel reservation: %w", err)
	}
	return used, true, nil
}

func (p *Postgres) SubtractUsage(ctx context.Context, tenantID string, n int64) (int64, bool, error) {
	var used int64
	var underflow bool
	err := p.db.QueryRow(ctx,
		`UPDATE quota_profiles q SET used_bytes = GREATEST(q.used_bytes - $2, 0), updated_at = now()
		 FROM (SELECT used_bytes FROM quota_profiles WHERE tenant_id = $1 FOR UPDATE) prev
		 WHERE q.tenant_id = $1
		 RETURNING q.used_bytes, prev.used_bytes < $2`,
		tenantID, n).Scan(&used, &underflow)
	if err != nil {
		return 0, false, lookupErr(err, "Quota profile")
	}
	return used, underflow, nil
}

// RecomputeUsage locks the profile row before summing, so the sum is read
// after any concurrent reservation, settlement or purge touching the
// counter has committed.
func (p *Postgres) RecomputeUsage(ctx context.Context, tenantID string, staleBefore time.Time) (before, after int64, err error) {
	err = p.RunInTx(ctx, func(tx Store) error {
		q := tx.(*Postgres)
		err := q.db.QueryRow(ctx,
			`SELECT used_bytes FROM quota_profiles WHERE tenant_id = $1 FOR UPDATE`,
			tenantID).Scan(&before)
		if err != nil {
			return lookupErr(err, "Quota profile")
		}
		if _, err := q.db.Exec(ctx,
			`DELETE FROM quota_reservations WHERE tenant_id = $1 AND created_at < $2`,
			tenantID, staleBefore); err != nil {
			return fmt.Errorf("drop stale reservations: %w", err)
		}
		return q.db.QueryRow(ctx,
			`UPDATE quota_profiles SET used_bytes =
				COALESCE((SELECT SUM(size) FROM files WHERE owner_id = $1), 0) +
				COALESCE((SELECT SUM(bytes) FROM quota_reservations WHERE tenant_id = $1), 0),
				updated_at = now()
			 WHERE tenant_id = $1
			 RETURNING used_bytes`,
			tenantID).Scan(&after)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("recompute usage: %w", err)
	}
	return before, after, nil
}

func (p *Postgres) CountFiles(ctx context.Context, tenantID string) (int, int, error) {
	var active, trashed int
	err := p.db.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE NOT is_deleted), count(*) FILTER (WHERE is_deleted)
		 FROM files WHERE owner_id = $1`,
		tenantID).Scan(&active, &trashed)
	if err != nil && !db.IsInvalidInput(err) {
		return 0, 0, fmt.Errorf("count files: %w", err)
	}
	return active, trashed, nil
}

// Plans

const planColumns = `id::text, code, name, max_bytes, monthly_price_cents, is_active, display_order, features, COALESCE(external_price_ref, '')`

func scanPlan(row pgx.CollectableRow) (core.Plan, error) {
	var pl core.Plan
	err := row.Scan(&pl.ID, &pl.Code, &pl.Name, &pl.MaxBytes, &pl.MonthlyPriceCents,
		&pl.IsActive, &pl.DisplayOrder, &pl.Features, &pl.ExternalPriceRef)
	return pl, err
}

func (p *Postgres) queryPlans(ctx context.Context, sql string, args ...any) ([]core.Plan, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPlan)
}

func (p *Postgres) onePlan(ctx context.Context, resource, sql string, args ...any) (core.Plan, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return core.Plan{}, lookupErr(err, resource)
	}
	pl, err := pgx.CollectExactlyOneRow(rows, scanPlan)
	if err != nil {
		return core.Plan{}, lookupErr(err, resource)
	}
	return pl, nil
}

func (p *Postgres) UpsertPlan(ctx context.Context, pl core.Plan) (core.Plan, error) {
	if pl.ID == "" {
		pl.ID = id.New()
	}
	if pl.Features == nil {
		pl.Features = []string{}
	}
	return p.onePlan(ctx, "Plan",
		`INSERT INTO plans (id, code, name, max_bytes, monthly_price_cents, is_active, display_order, features, external_price_ref)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
		 ON CONFLICT (code) DO UPDATE SET
		     name = EXCLUDED.name,
		     max_bytes = EXCLUDED.max_bytes,
		     monthly_price_cents = EXCLUDED.monthly_price_cents,
		     is_active = EXCLUDED.is_active,
		     display_order = EXCLUDED.display_order,
		     features = EXCLUDED.features,
		     external_price_ref = EXCLUDED.external_price_ref
		 RETURNING `+planColumns,
		pl.ID, pl.Code, pl.Name, pl.MaxBytes, pl.MonthlyPriceCents, pl.IsActive, pl.DisplayOrder, pl.Features, pl.ExternalPriceRef)
}

func (p *Postgres) GetPlan(ctx context.Context, planID string) (core.Plan, error) {
	return p.onePlan(ctx, "Plan", `SELECT `+planColumns+` FROM plans WHERE id = $1`, planID)
}

func (p *Postgres) GetPlanByCode(ctx context.Context, code string) (core.Plan, error) {
	return p.onePlan(ctx, "Plan", `SELECT `+planColumns+` FROM plans WHERE code = $1`, code)
}

func (p *Postgres) ListPlans(ctx context.Context, activeOnly bool) ([]core.Plan, error) {
	plans, err := p.queryPlans(ctx,
		`SELECT `+planColumns+` FROM plans WHERE is_active OR NOT $1 ORDER BY display_order, code`,
		activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

func (p *Postgres) DefaultPlan(ctx context.Context) (core.Plan, error) {
	return p.onePlan(ctx, "Default plan",
		`SELECT `+planColumns+` FROM plans WHERE is_active AND monthly_price_cents = 0
		 ORDER BY display_order, code LIMIT 1`)
}

// Subscriptions

const subscriptionColumns = `id::text, tenant_id::text, plan_id::text, external_ref, status, period_start, period_end, cancel_at_period_end, created_at, updated_at`

func scanSubscription(row pgx.CollectableRow) (core.Subscription, error) {
	var (
		s          core.Subscription
		start, end *time.Time
	)
	err := row.Scan(&s.ID, &s.TenantID, &s.PlanID, &s.ExternalRef, &s.Status, &start, &end,
		&s.CancelAtPeriodEnd, &s.CreatedAt, &s.UpdatedAt)
	if start != nil {
		s.PeriodStart = *start
	}
	if end != nil {
		s.PeriodEnd = *end
	}
	return s, err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (p *Postgres) ActiveSubscription(ctx context.Context, tenantID string) (core.Subscription, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1 AND status = 'active'`,
		tenantID)
	if err != nil {
		return core.Subscription{}, lookupErr(err, "Subscription")
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanSubscription)
	if err != nil {
		return core.Subscription{}, lookupErr(err, "Subscription")
	}
	return s, nil
}

func (p *Postgres) UpsertSubscription(ctx context.Context, s core.Subscription) (core.Subscription, error) {
	if s.ID == "" {
		s.ID = id.New()
	}
	rows, err := p.db.Query(ctx,
		`INSERT INTO subscriptions (id, tenant_id, plan_id, external_ref, status, period_start, period_end, cancel_at_period_end)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (external_ref) DO UPDATE SET
		     tenant_id = EXCLUDED.tenant_id,
		     plan_id = EXCLUDED.plan_id,
		     status = EXCLUDED.status,
		     period_start = EXCLUDED.period_start,
		     period_end = EXCLUDED.period_end,
		     cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		     updated_at = now()
		 RETURNING `+subscriptionColumns,
		s.ID, s.TenantID, s.PlanID, s.ExternalRef, string(s.Status), nullTime(s.PeriodStart), nullTime(s.PeriodEnd), s.CancelAtPeriodEnd)
	if err != nil {
		return core.Subscription{}, writeErr(err, "upsert subscription")
	}
	out, err := pgx.CollectExactlyOneRow(rows, scanSubscription)
	if err != nil {
		return core.Subscription{}, writeErr(err, "upsert subscription")
	}
	return out, nil
}

func (p *Postgres) CancelOtherActive(ctx context.Context, tenantID, keepRef string, now time.Time) (int, error) {
	tag, err := p.db.Exec(ctx,
		`UPDATE subscriptions SET status = 'canceled', updated_at = $3
		 WHERE tenant_id = $1 AND status = 'active' AND external_ref <> $2`,
		tenantID, keepRef, now)
	if err != nil {
		return 0, fmt.Errorf("cancel other subscriptions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) ListLapsed(ctx context.Context, now time.Time) ([]core.Subscription, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status IN ('canceled', 'unpaid') AND period_end < $1
		 ORDER BY period_end`,
		now)
	if err != nil {
		return nil, fmt.Errorf("list lapsed subscriptions: %w", err)
	}
	return pgx.CollectRows(rows, scanSubscription)
}

// Folders

const folderColumns = `id::text, owner_id::text, parent_id::text, name, created_at`

func scanFolder(row pgx.CollectableRow) (core.Folder, error) {
	var f core.Folder
	err := row.Scan(&f.ID, &f.OwnerID, &f.ParentID, &f.Name, &f.CreatedAt)
	return f, err
}

func (p *Postgres) CreateFolder(ctx context.Context, f core.Folder) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO folders (id, owner_id, parent_id, name) VALUES ($1, $2, $3, $4)`,
		f.ID, f.OwnerID, f.ParentID, f.Name)
	if err != nil {
		return writeErr(err, "create folder")
	}
	return nil
}

func (p *Postgres) GetFolder(ctx context.Context, ownerID, folderID string) (core.Folder, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE id = $1 AND owner_id = $2`, folderID, ownerID)
	if err != nil {
		return core.Folder{}, lookupErr(err, "Folder")
	}
	f, err := pgx.CollectExactlyOneRow(rows, scanFolder)
	if err != nil {
		return core.Folder{}, lookupErr(err, "Folder")
	}
	return f, nil
}

func (p *Postgres) DeleteEmptyFolder(ctx context.Context, ownerID, folderID string) (bool, error) {
	tag, err := p.db.Exec(ctx,
		`DELETE FROM folders f
		 WHERE f.id = $1 AND f.owner_id = $2
		   AND NOT EXISTS (SELECT 1 FROM folders c WHERE c.parent_id = f.id)
		   AND NOT EXISTS (SELECT 1 FROM files x WHERE x.folder_id = f.id AND NOT x.is_deleted)`,
		folderID, ownerID)
	if err != nil {
		if db.IsInvalidInput(err) {
			return false, nil
		}
		// A child inserted concurrently trips the RESTRICT foreign key.
		if _, ok := db.IsForeignKeyViolation(err); ok {
			return false, nil
		}
		return false, fmt.Errorf("delete folder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) ListFolders(ctx context.Context, ownerID string, parentID *string) ([]core.Folder, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+folderColumns+` FROM folders
		 WHERE owner_id = $1 AND parent_id IS NOT DISTINCT FROM $2
		 ORDER BY name, id`,
		ownerID, parentID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	return pgx.CollectRows(rows, scanFolder)
}

// Files

const fileColumns = `id::text, owner_id::text, folder_id::text, name, blob_key, file_type, content_type, size, uploaded_at, is_public, is_starred, is_deleted`

func scanFile(row pgx.CollectableRow) (core.File, error) {
	var f core.File
	err := row.Scan(&f.ID, &f.OwnerID, &f.FolderID, &f.Name, &f.BlobKey, &f.FileType,
		&f.ContentType, &f.Size, &f.UploadedAt, &f.IsPublic, &f.IsStarred, &f.IsDeleted)
	return f, err
}

func (p *Postgres) oneFile(ctx context.Context, sql string, args ...any) (core.File, bool, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		if db.IsInvalidInput(err) {
			return core.File{}, false, nil
		}
		return core.File{}, false, err
	}
	f, err := pgx.CollectExactlyOneRow(rows, scanFile)
	switch {
	case err == nil:
		return f, true, nil
	case db.IsNoRows(err), db.IsInvalidInput(err):
		return core.File{}, false, nil
	default:
		return core.File{}, false, err
	}
}

func (p *Postgres) InsertFile(ctx context.Context, f core.File) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO files (id, owner_id, folder_id, name, blob_key, file_type, content_type, size, uploaded_at, is_public, is_starred)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		f.ID, f.OwnerID, f.FolderID, f.Name, f.BlobKey, f.FileType, f.ContentType, f.Size, f.UploadedAt, f.IsPublic, f.IsStarred)
	if err != nil {
		return writeErr(err, "insert file")
	}
	return nil
}

func (p *Postgres) fileOrNotFound(ctx context.Context, sql string, args ...any) (core.File, error) {
	f, ok, err := p.oneFile(ctx, sql, args...)
	if err != nil {
		return core.File{}, err
	}
	if !ok {
		return core.File{}, core.NotFound("File")
	}
	return f, nil
}

func (p *Postgres) GetFile(ctx context.Context, ownerID, fileID string) (core.File, error) {
	return p.fileOrNotFound(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1 AND owner_id = $2`, fileID, ownerID)
}

func (p *Postgres) GetActiveFile(ctx context.Context, fileID string) (core.File, error) {
	return p.fileOrNotFound(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1 AND NOT is_deleted`, fileID)
}

func (p *Postgres) ListFiles(ctx context.Context, ownerID string, f FileFilter) ([]core.File, error) {
	limit := any(nil)
	if f.Limit > 0 {
		limit = f.Limit
	}
	rows, err := p.db.Query(ctx,
		`SELECT `+fileColumns+` FROM files
		 WHERE owner_id = $1 AND NOT is_deleted
		   AND ($2 OR folder_id IS NOT DISTINCT FROM $3)
		   AND (NOT $4 OR is_starred)
		 ORDER BY uploaded_at DESC, id DESC
		 LIMIT $5 OFFSET $6`,
		ownerID, f.AllFolders, f.FolderID, f.StarredOnly, limit, max(f.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return pgx.CollectRows(rows, scanFile)
}

func (p *Postgres) BlobKeyTaken(ctx context.Context, key string) (bool, error) {
	var taken bool
	err := p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM files WHERE blob_key = $1)`, key).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check blob key: %w", err)
	}
	return taken, nil
}

func (p *Postgres) MoveFile(ctx context.Context, ownerID, fileID string, folderID *string) (core.File, error) {
	f, err := p.fileOrNotFound(ctx,
		`UPDATE files SET folder_id = $3 WHERE id = $1 AND owner_id = $2 AND NOT is_deleted RETURNING `+fileColumns,
		fileID, ownerID, folderID)
	if _, ok := db.IsForeignKeyViolation(err); ok {
		return core.File{}, core.NotFound("Folder")
	}
	return f, err
}

func (p *Postgres) SetStarred(ctx context.Context, ownerID, fileID string, starred bool) (core.File, error) {
	return p.fileOrNotFound(ctx,
		`UPDATE files SET is_starred = $3 WHERE id = $1 AND owner_id = $2 AND NOT is_deleted RETURNING `+fileColumns,
		fileID, ownerID, starred)
}

func (p *Postgres) SetPublic(ctx context.Context, ownerID, fileID string, public bool) (core.File, error) {
	return p.fileOrNotFound(ctx,
		`UPDATE files SET is_public = $3 WHERE id = $1 AND owner_id = $2 AND NOT is_deleted RETURNING `+fileColumns,
		fileID, ownerID, public)
}

func (p *Postgres) MarkDeleted(ctx context.Context, ownerID, fileID string) (core.File, bool, error) {
	return p.oneFile(ctx,
		`UPDATE files SET is_deleted = TRUE WHERE id = $1 AND owner_id = $2 AND NOT is_deleted RETURNING `+fileColumns,
		fileID, ownerID)
}

func (p *Postgres) MarkRestored(ctx context.Context, ownerID, fileID string, folderID *string) (core.File, bool, error) {
	return p.oneFile(ctx,
		`UPDATE files SET is_deleted = FALSE, folder_id = $3 WHERE id = $1 AND owner_id = $2 AND is_deleted RETURNING `+fileColumns,
		fileID, ownerID, folderID)
}

func (p *Postgres) DeleteTrashedFile(ctx context.Context, ownerID, fileID string) (core.File, bool, error) {
	return p.oneFile(ctx,
		`DELETE FROM files WHERE id = $1 AND owner_id = $2 AND is_deleted RETURNING `+fileColumns,
		fileID, ownerID)
}

// Trash

const trashColumns = `t.file_id::text, t.tenant_id::text, t.original_folder_id::text, t.deleted_at, t.purge_after`

func scanTrashEntry(row pgx.CollectableRow) (core.TrashEntry, error) {
	var e core.TrashEntry
	err := row.Scan(&e.FileID, &e.TenantID, &e.OriginalFolderID, &e.DeletedAt, &e.PurgeAfter)
	return e, err
}

func (p *Postgres) InsertTrashEntry(ctx context.Context, e core.TrashEntry) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO trash_entries (file_id, tenant_id, original_folder_id, deleted_at, purge_after)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.FileID, e.TenantID, e.OriginalFolderID, e.DeletedAt, e.PurgeAfter)
	if err != nil {
		return writeErr(err, "insert trash entry")
	}
	return nil
}

func (p *Postgres) GetTrashEntry(ctx context.Context, tenantID, fileID string) (core.TrashEntry, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+trashColumns+` FROM trash_entries t WHERE t.file_id = $1 AND t.tenant_id = $2`,
		fileID, tenantID)
	if err != nil {
		return core.TrashEntry{}, lookupErr(err, "Trash entry")
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanTrashEntry)
	if err != nil {
		return core.TrashEntry{}, lookupErr(err, "Trash entry")
	}
	return e, nil
}

func (p *Postgres) DeleteTrashEntry(ctx context.Context, fileID string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM trash_entries WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("delete trash entry: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteStrayTrashEntry(ctx context.Context, tenantID, fileID string) (bool, error) {
	tag, err := p.db.Exec(ctx,
		`DELETE FROM trash_entries e USING files f
		 WHERE e.file_id = $2 AND e.tenant_id = $1 AND f.id = e.file_id AND NOT f.is_deleted`,
		tenantID, fileID)
	if err != nil {
		if db.IsInvalidInput(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete stray trash entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) ListTrash(ctx context.Context, tenantID string) ([]TrashItem, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+trashColumns+`, f.id::text, f.owner_id::text, f.folder_id::text, f.name, f.blob_key, f.file_type,
		        f.content_type, f.size, f.uploaded_at, f.is_public, f.is_starred, f.is_deleted
		 FROM trash_entries t JOIN files f ON f.id = t.file_id
		 WHERE t.tenant_id = $1
		 ORDER BY t.deleted_at DESC, t.file_id`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list trash: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TrashItem, error) {
		var it TrashItem
		e, f := &it.Entry, &it.File
		err := row.Scan(&e.FileID, &e.TenantID, &e.OriginalFolderID, &e.DeletedAt, &e.PurgeAfter,
			&f.ID, &f.OwnerID, &f.FolderID, &f.Name, &f.BlobKey, &f.FileType,
			&f.ContentType, &f.Size, &f.UploadedAt, &f.IsPublic, &f.IsStarred, &f.IsDeleted)
		return it, err
	})
}

func (p *Postgres) ListExpiredTrash(ctx context.Context, now time.Time, limit int) ([]core.TrashEntry, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+trashColumns+` FROM trash_entries t
		 WHERE t.purge_after <= $1
		 ORDER BY t.purge_after, t.file_id
		 LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired trash: %w", err)
	}
	return pgx.CollectRows(rows, scanTrashEntry)
}

// Share links

const linkColumns = `l.id::text, l.file_id::text, l.token, l.created_at, l.expires_at, l.is_active`

func scanShareLink(row pgx.CollectableRow) (core.ShareLink, error) {
	var l core.ShareLink
	err := row.Scan(&l.ID, &l.FileID, &l.Token, &l.CreatedAt, &l.ExpiresAt, &l.IsActive)
	return l, err
}

func (p *Postgres) oneLink(ctx context.Context, sql string, args ...any) (core.ShareLink, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return core.ShareLink{}, lookupErr(err, "Share link")
	}
	l, err := pgx.CollectExactlyOneRow(rows, scanShareLink)
	if err != nil {
		return core.ShareLink{}, lookupErr(err, "Share link")
	}
	return l, nil
}

func (p *Postgres) InsertShareLink(ctx context.Context, l core.ShareLink) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO share_links (id, file_id, token, created_at, expires_at, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.FileID, l.Token, l.CreatedAt, l.ExpiresAt, l.IsActive)
	if err != nil {
		return writeErr(err, "insert share link")
	}
	return nil
}

func (p *Postgres) GetShareLinkByToken(ctx context.Context, token string) (core.ShareLink, error) {
	return p.oneLink(ctx, `SELECT `+linkColumns+` FROM share_links l WHERE l.token = $1`, token)
}

func (p *Postgres) GetShareLink(ctx context.Context, ownerID, linkID string) (core.ShareLink, error) {
	return p.oneLink(ctx,
		`SELECT `+linkColumns+` FROM share_links l JOIN files f ON f.id = l.file_id
		 WHERE l.id = $1 AND f.owner_id = $2`,
		linkID, ownerID)
}

func (p *Postgres) DeactivateShareLink(ctx context.Context, ownerID, linkID string) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE share_links l SET is_active = FALSE
		 FROM files f
		 WHERE f.id = l.file_id AND l.id = $1 AND f.owner_id = $2`,
		linkID, ownerID)
	if err != nil {
		if db.IsInvalidInput(err) {
			return core.NotFound("Share link")
		}
		return fmt.Errorf("deactivate share link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("Share link")
	}
	return nil
}

func (p *Postgres) ListShareLinks(ctx context.Context, ownerID, fileID string) ([]core.ShareLink, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+linkColumns+` FROM share_links l JOIN files f ON f.id = l.file_id
		 WHERE l.file_id = $1 AND f.owner_id = $2
		 ORDER BY l.created_at DESC, l.id`,
		fileID, ownerID)
	if err != nil {
		if db.IsInvalidInput(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list share links: %w", err)
	}
	return pgx.CollectRows(rows, scanShareLink)
}

var _ Store = (*Postgres)(nil)
