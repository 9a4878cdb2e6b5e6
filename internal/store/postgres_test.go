package store_test

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/store"
	"github.com/dmitrymomot/filevault/internal/store/migrations"
	"github.com/dmitrymomot/filevault/pkg/db"
	"github.com/dmitrymomot/filevault/pkg/id"
	"github.com/dmitrymomot/filevault/pkg/logger"
)

// openPostgres migrates a throwaway schema on DATABASE_URL and skips the
// test when no database is configured.
func openPostgres(t *testing.T) *store.Postgres {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL is not set")
	}
	ctx := context.Background()

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	admin, err := pgxpool.NewWithConfig(ctx, cfg.Copy())
	require.NoError(t, err)

	schema := "filevault_test_" + strings.ToLower(id.NewShortID())
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool, migrations.FS, "", logger.Discard()))
	return store.NewPostgres(pool)
}

func seedPostgresTenant(t *testing.T, s *store.Postgres) string {
	t.Helper()
	ctx := context.Background()
	tenantID := id.New()
	created, err := s.CreateTenant(ctx, core.Tenant{ID: tenantID, Email: "owner@example.com"})
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, s.CreateQuotaProfile(ctx, core.QuotaProfile{TenantID: tenantID}))
	return tenantID
}

func TestPostgres_ReserveUsageRespectsLimit(t *testing.T) {
	ctx := context.Background()
	s := openPostgres(t)
	tenantID := seedPostgresTenant(t, s)

	used, ok, err := s.ReserveUsage(ctx, reservation(tenantID, 60), 100)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 60, used)

	used, ok, err = s.ReserveUsage(ctx, reservation(tenantID, 41), 100)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 60, used)

	used, ok, err = s.ReserveUsage(ctx, reservation(tenantID, 40), 100)
	require.NoError(t, err)
	assert.True(t, ok, "exactly at the limit is admitted")
	assert.EqualValues(t, 100, used)

	_, _, err = s.ReserveUsage(ctx, reservation(id.New(), 1), 100)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPostgres_ReserveUsageConcurrent(t *testing.T) {
	ctx := context.Background()
	s := openPostgres(t)
	tenantID := seedPostgresTenant(t, s)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.ReserveUsage(ctx, reservation(tenantID, 10), 100)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, admitted)
	q, err := s.GetQuotaProfile(ctx, tenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 100, q.UsedBytes)
}

func TestPostgres_ReservationsAndRecompute(t *testing.T) {
	ctx := context.Background()
	s := openPostgres(t)
	tenantID := seedPostgresTenant(t, s)
	now := time.Now().UTC()

	settled, live, failed := reservation(tenantID, 100), reservation(tenantID, 9), reservation(tenantID, 20)
	stale := core.Reservation{ID: id.New(), TenantID: tenantID, Bytes: 40, CreatedAt: now.Add(-48 * time.Hour)}
	for _, r := range []core.Reservation{settled, live, failed, stale} {
		_, ok, err := s.ReserveUsage(ctx, r, 1000)
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.NoError(t, s.RunInTx(ctx, func(tx store.Store) error {
		if _, err := tx.SettleReservation(ctx, settled.ID); err != nil {
			return err
		}
		return tx.InsertFile(ctx, newFile(tenantID, nil, 100))
	}))

	used, ok, err := s.CancelReservation(ctx, failed.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 149, used)
	_, ok, err = s.CancelReservation(ctx, failed.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	before, after, err := s.RecomputeUsage(ctx, tenantID, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 149, before)
	assert.EqualValues(t, 109, after, "files plus the live reservation")

	ok, err = s.SettleReservation(ctx, stale.ID)
	require.NoError(t, err)
	assert.False(t, ok, "the stale reservation was dropped")
}

func TestPostgres_DeleteTrashedFileCascades(t *testing.T) {
	ctx := context.Background()
	s := openPostgres(t)
	tenantID := seedPostgresTenant(t, s)
	now := time.Now().UTC()

	f := newFile(tenantID, nil, 50)
	f.UploadedAt = now
	require.NoError(t, s.InsertFile(ctx, f))
	link := core.ShareLink{ID: id.New(), FileID: f.ID, Token: id.New(), CreatedAt: now, IsActive: true}
	require.NoError(t, s.InsertShareLink(ctx, link))

	_, ok, err := s.DeleteTrashedFile(ctx, tenantID, f.ID)
	require.NoError(t, err)
	assert.False(t, ok, "an active file is not purged")

	_, ok, err = s.MarkDeleted(ctx, tenantID, f.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.InsertTrashEntry(ctx, core.TrashEntry{
		FileID: f.ID, TenantID: tenantID, DeletedAt: now, PurgeAfter: now.Add(time.Hour),
	}))

	purged, ok, err := s.DeleteTrashedFile(ctx, tenantID, f.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f.ID, purged.ID)
	assert.EqualValues(t, 50, purged.Size)

	_, err = s.GetTrashEntry(ctx, tenantID, f.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetShareLinkByToken(ctx, link.Token)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, ok, err = s.DeleteTrashedFile(ctx, tenantID, f.ID)
	require.NoError(t, err)
	assert.False(t, ok, "purging twice is a no-op")
}

func TestPostgres_DeleteStrayTrashEntry(t *testing.T) {
	ctx := context.Background()
	s := openPostgres(t)
	tenantID := seedPostgresTenant(t, s)
	now := time.Now().UTC()

	f := newFile(tenantID, nil, 10)
	require.NoError(t, s.InsertFile(ctx, f))
	require.NoError(t, s.InsertTrashEntry(ctx, core.TrashEntry{
		FileID: f.ID, TenantID: tenantID, DeletedAt: now, PurgeAfter: now,
	}))

	dropped, err := s.DeleteStrayTrashEntry(ctx, tenantID, f.ID)
	require.NoError(t, err)
	assert.True(t, dropped)

	_, ok, err := s.MarkDeleted(ctx, tenantID, f.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.InsertTrashEntry(ctx, core.TrashEntry{
		FileID: f.ID, TenantID: tenantID, DeletedAt: now, PurgeAfter: now,
	}))

	dropped, err = s.DeleteStrayTrashEntry(ctx, tenantID, f.ID)
	require.NoError(t, err)
	assert.False(t, dropped, "the entry of a trashed file is kept")
}

func TestPostgres_Folders(t *testing.T) {
	ctx := context.Background()
	s := openPostgres(t)
	tenantID := seedPostgresTenant(t, s)

	docs := core.Folder{ID: id.New(), OwnerID: tenantID, Name: "Docs"}
	require.NoError(t, s.CreateFolder(ctx, docs))
	err := s.CreateFolder(ctx, core.Folder{ID: id.New(), OwnerID: tenantID, Name: "Docs"})
	require.ErrorIs(t, err, core.ErrDuplicateName, "root siblings clash")

	child := core.Folder{ID: id.New(), OwnerID: tenantID, ParentID: &docs.ID, Name: "Docs"}
	require.NoError(t, s.CreateFolder(ctx, child), "the same name under another parent is fine")

	deleted, err := s.DeleteEmptyFolder(ctx, tenantID, docs.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "a folder with a sub-folder stays")

	f := newFile(tenantID, &child.ID, 10)
	require.NoError(t, s.InsertFile(ctx, f))
	deleted, err = s.DeleteEmptyFolder(ctx, tenantID, child.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "a folder with an active file stays")

	_, ok, err := s.MarkDeleted(ctx, tenantID, f.ID)
	require.NoError(t, err)
	require.True(t, ok)
	deleted, err = s.DeleteEmptyFolder(ctx, tenantID, child.ID)
	require.NoError(t, err)
	assert.True(t, deleted, "trashed files do not keep a folder alive")

	deleted, err = s.DeleteEmptyFolder(ctx, tenantID, docs.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
}
