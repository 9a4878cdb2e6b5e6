package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/store"
	"github.com/dmitrymomot/filevault/pkg/id"
)

func seedTenant(t *testing.T, s *store.Memory) string {
	t.Helper()
	ctx := context.Background()
	tenantID := id.New()
	created, err := s.CreateTenant(ctx, core.Tenant{ID: tenantID, Email: "owner@example.com"})
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, s.CreateQuotaProfile(ctx, core.QuotaProfile{TenantID: tenantID}))
	return tenantID
}

func newFile(owner string, folderID *string, size int64) core.File {
	fileID := id.New()
	return core.File{
		ID:       fileID,
		OwnerID:  owner,
		FolderID: folderID,
		Name:     "report.pdf",
		BlobKey:  "user_" + owner + "/" + fileID,
		Size:     size,
	}
}

func reservation(tenantID string, n int64) core.Reservation {
	return core.Reservation{ID: id.New(), TenantID: tenantID, Bytes: n, CreatedAt: time.Now()}
}

func TestMemory_CreateTenantIsIdempotent(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	tenantID := seedTenant(t, s)

	created, err := s.CreateTenant(context.Background(), core.Tenant{ID: tenantID})
	require.NoError(t, err)
	assert.False(t, created)

	_, err = s.GetTenant(context.Background(), id.New())
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemory_ReserveUsageRespectsLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	tenantID := seedTenant(t, s)

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
	assert.True(t, ok)
	assert.EqualValues(t, 100, used)

	_, _, err = s.ReserveUsage(ctx, reservation(id.New(), 1), 100)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemory_ReserveUsageConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	tenantID := seedTenant(t, s)

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

func TestMemory_SubtractUsageFloorsAtZero(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	tenantID := seedTenant(t, s)

	_, _, err := s.ReserveUsage(ctx, reservation(tenantID, 30), 100)
	require.NoError(t, err)

	used, underflow, err := s.SubtractUsage(ctx, tenantID, 50)
	require.NoError(t, err)
	assert.True(t, underflow)
	assert.Zero(t, used)

	used, underflow, err = s.SubtractUsage(ctx, tenantID, 0)
	require.NoError(t, err)
	assert.False(t, underflow)
	assert.Zero(t, used)
}

func TestMemory_RecomputeUsageCountsTrashedFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	tenantID := seedTenant(t, s)

	active := newFile(tenantID, nil, 100)
	trashed := newFile(tenantID, nil, 50)
	require.NoError(t, s.InsertFile(ctx, active))
	require.NoError(t, s.InsertFile(ctx, trashed))
	_, ok, err := s.MarkDeleted(ctx, tenantID, trashed.ID)
	require.NoError(t, err)
	require.True(t, ok)

	before, after, err := s.RecomputeUsage(ctx, tenantID, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, before)
	assert.EqualValues(t, 150, after)

	activeCount, trashedCount, err := s.CountFiles(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, activeCount)
	assert.Equal(t, 1, trashedCount)
}

func TestMemory_SettleAndCancelReservation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	tenantID := seedTenant(t, s)

	kept, failed := reservation(tenantID, 30), reservation(tenantID, 20)
	for _, r := range []core.Reservation{kept, failed} {
		_, ok, err := s.ReserveUsage(ctx, r, 100)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := s.SettleReservation(ctx, kept.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.SettleReservation(ctx, kept.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	used, ok, err := s.CancelReservation(ctx, failed.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 30, used)

	_, ok, err = s.CancelReservation(ctx, failed.ID)
	require.NoError(t, err)
	assert.False(t, ok, "a cancelled reservation returns nothing twice")
	q, err := s.GetQuotaProfile(ctx, tenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 30, q.UsedBytes)
}

func TestMemory_RecomputeUsageCountsLiveReservations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	tenantID := seedTenant(t, s)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertFile(ctx, newFile(tenantID, nil, 100)))
	live := core.Reservation{ID: id.New(), TenantID: tenantID, Bytes: 9, CreatedAt: now.Add(-time.Minute)}
	stale := core.Reservation{ID: id.New(), TenantID: tenantID, Bytes: 40, CreatedAt: now.Add(-48 * time.Hour)}
	for _, r := range []core.Reservation{live, stale} {
		_, ok, err := s.ReserveUsage(ctx, r, 1000)
		require.NoError(t, err)
		require.True(t, ok)
	}

	before, after, err := s.RecomputeUsage(ctx, tenantID, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 49, before)
	assert.EqualValues(t, 109, after)

	_, ok, err := s.CancelReservation(ctx, stale.ID)
	require.NoError(t, err)
	assert.False(t, ok, "stale reservations are dropped by the recompute")

	used, ok, err := s.CancelReservation(ctx, live.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 100, used)
}

func TestMemory_RunInTxRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	tenantID := seedTenant(t, s)
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(tx store.Store) error {
		if _, _, err := tx.ReserveUsage(ctx, reservation(tenantID, 10), 100); err != nil {
			return err
		}
		// Nested calls join the outer transaction.
		return tx.RunInTx(ctx, func(inner store.Store) error {
			if err := inner.InsertFile(ctx, newFile(tenantID, nil, 10)); err != nil {
				return err
			}
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	q, err := s.GetQuotaProfile(ctx, tenantID)
	require.NoError(t, err)
	assert.Zero(t, q.UsedBytes)
	files, err := s.ListFiles(ctx, tenantID, store.FileFilter{AllFolders: true})
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestMemory_RunInTxCommits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	tenantID := seedTenant(t, s)

	err := s.RunInTx(ctx, func(tx store.Store) error {
		_, _, err := tx.ReserveUsage(ctx, reservation(tenantID, 10), 100)
		return err
	})
	require.NoError(t, err)

	q, err := s.GetQuotaProfile(ctx, tenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 10, q.UsedBytes)
}

func TestMemory_FolderSiblingNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	owner := seedTenant(t, s)
	other := seedTenant(t, s)

	root := core.Folder{ID: id.New(), OwnerID: owner, Name: "Docs"}
	require.NoError(t, s.CreateFolder(ctx, root))

	err := s.CreateFolder(ctx, core.Folder{ID: id.New(), OwnerID: owner, Name: "Docs"})
	assert.ErrorIs(t, err, core.ErrDuplicateName)

	assert.NoError(t, s.CreateFolder(ctx, core.Folder{ID: id.New(), OwnerID: owner, ParentID: &root.ID, Name: "Docs"}))
	assert.NoError(t, s.CreateFolder(ctx, core.Folder{ID: id.New(), OwnerID: other, Name: "Docs"}))

	_, err = s.GetFolder(ctx, other, root.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemory_DeleteEmptyFolder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	owner := seedTenant(t, s)

	folder := core.Folder{ID: id.New(), OwnerID: owner, Name: "Photos"}
	require.NoError(t, s.CreateFolder(ctx, folder))
	f := newFile(owner, &folder.ID, 10)
	require.NoError(t, s.InsertFile(ctx, f))

	deleted, err := s.DeleteEmptyFolder(ctx, owner, folder.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "folder with an active file stays")

	_, ok, err := s.MarkDeleted(ctx, owner, f.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.InsertTrashEntry(ctx, core.TrashEntry{FileID: f.ID, TenantID: owner, OriginalFolderID: &folder.ID}))

	deleted, err = s.DeleteEmptyFolder(ctx, owner, folder.ID)
	require.NoError(t, err)
	assert.True(t, deleted, "trashed files do not block deletion")

	got, err := s.GetFile(ctx, owner, f.ID)
	require.NoError(t, err)
	assert.Nil(t, got.FolderID)
	entry, err := s.GetTrashEntry(ctx, owner, f.ID)
	require.NoError(t, err)
	assert.Nil(t, entry.OriginalFolderID)
}

func TestMemory_TrashTransitionsAreConditional(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	owner := seedTenant(t, s)
	f := newFile(owner, nil, 10)
	require.NoError(t, s.InsertFile(ctx, f))

	_, ok, err := s.DeleteTrashedFile(ctx, owner, f.ID)
	require.NoError(t, err)
	assert.False(t, ok, "active files cannot be purged")

	_, ok, err = s.MarkRestored(ctx, owner, f.ID, nil)
	require.NoError(t, err)
	assert.False(t, ok, "active files cannot be restored")

	_, ok, err = s.MarkDeleted(ctx, owner, f.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = s.MarkDeleted(ctx, owner, f.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.SetStarred(ctx, owner, f.ID, true)
	assert.ErrorIs(t, err, core.ErrNotFound, "trashed files are not mutable")

	link := core.ShareLink{ID: id.New(), FileID: f.ID, Token: "tok", IsActive: true}
	require.NoError(t, s.InsertShareLink(ctx, link))
	require.NoError(t, s.InsertTrashEntry(ctx, core.TrashEntry{FileID: f.ID, TenantID: owner}))

	purged, ok, err := s.DeleteTrashedFile(ctx, owner, f.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, f.ID, purged.ID)

	_, err = s.GetShareLinkByToken(ctx, "tok")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetTrashEntry(ctx, owner, f.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemory_ListFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	owner := seedTenant(t, s)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	folderID := id.New()
	var ids []string
	for i := range 3 {
		f := newFile(owner, nil, 1)
		f.UploadedAt = base.Add(time.Duration(i) * time.Hour)
		f.IsStarred = i == 1
		require.NoError(t, s.InsertFile(ctx, f))
		ids = append(ids, f.ID)
	}
	inFolder := newFile(owner, &folderID, 1)
	inFolder.UploadedAt = base
	require.NoError(t, s.InsertFile(ctx, inFolder))

	root, err := s.ListFiles(ctx, owner, store.FileFilter{})
	require.NoError(t, err)
	require.Len(t, root, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{root[0].ID, root[1].ID, root[2].ID})

	starred, err := s.ListFiles(ctx, owner, store.FileFilter{AllFolders: true, StarredOnly: true})
	require.NoError(t, err)
	require.Len(t, starred, 1)
	assert.Equal(t, ids[1], starred[0].ID)

	all, err := s.ListFiles(ctx, owner, store.FileFilter{AllFolders: true, Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	folder, err := s.ListFiles(ctx, owner, store.FileFilter{FolderID: &folderID})
	require.NoError(t, err)
	require.Len(t, folder, 1)
	assert.Equal(t, inFolder.ID, folder[0].ID)
}

func TestMemory_BlobKeyUnique(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	owner := seedTenant(t, s)
	f := newFile(owner, nil, 1)
	require.NoError(t, s.InsertFile(ctx, f))

	taken, err := s.BlobKeyTaken(ctx, f.BlobKey)
	require.NoError(t, err)
	assert.True(t, taken)

	dup := newFile(owner, nil, 1)
	dup.BlobKey = f.BlobKey
	assert.ErrorIs(t, s.InsertFile(ctx, dup), store.ErrConflict)
}

func TestMemory_Plans(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()

	_, err := s.DefaultPlan(ctx)
	assert.ErrorIs(t, err, core.ErrNotFound)

	paid, err := s.UpsertPlan(ctx, core.Plan{Code: "basic", MaxBytes: 5, MonthlyPriceCents: 500, DisplayOrder: 1, IsActive: true})
	require.NoError(t, err)
	free, err := s.UpsertPlan(ctx, core.Plan{Code: "free", MaxBytes: 1, DisplayOrder: 0, IsActive: true})
	require.NoError(t, err)

	again, err := s.UpsertPlan(ctx, core.Plan{Code: "basic", Name: "Basic", MaxBytes: 6, MonthlyPriceCents: 500, DisplayOrder: 1, IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, paid.ID, again.ID)
	assert.EqualValues(t, 6, again.MaxBytes)

	def, err := s.DefaultPlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, free.ID, def.ID)

	plans, err := s.ListPlans(ctx, true)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "free", plans[0].Code)
}

func TestMemory_OneActiveSubscriptionPerTenant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	tenantID := seedTenant(t, s)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.UpsertSubscription(ctx, core.Subscription{TenantID: tenantID, PlanID: "p1", ExternalRef: "sub_1", Status: core.SubscriptionActive})
	require.NoError(t, err)

	_, err = s.UpsertSubscription(ctx, core.Subscription{TenantID: tenantID, PlanID: "p2", ExternalRef: "sub_2", Status: core.SubscriptionActive})
	assert.ErrorIs(t, err, store.ErrConflict)

	n, err := s.CancelOtherActive(ctx, tenantID, "sub_2", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.UpsertSubscription(ctx, core.Subscription{TenantID: tenantID, PlanID: "p2", ExternalRef: "sub_2", Status: core.SubscriptionActive})
	require.NoError(t, err)

	active, err := s.ActiveSubscription(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, "sub_2", active.ExternalRef)
}

func TestMemory_ListLapsed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	tenantID := seedTenant(t, s)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for ref, sub := range map[string]core.Subscription{
		"ended":    {Status: core.SubscriptionCanceled, PeriodEnd: now.Add(-time.Hour)},
		"running":  {Status: core.SubscriptionCanceled, PeriodEnd: now.Add(time.Hour)},
		"past_due": {Status: core.SubscriptionPastDue, PeriodEnd: now.Add(-time.Hour)},
	} {
		sub.TenantID, sub.ExternalRef, sub.PlanID = tenantID, ref, "p"
		_, err := s.UpsertSubscription(ctx, sub)
		require.NoError(t, err)
	}

	lapsed, err := s.ListLapsed(ctx, now)
	require.NoError(t, err)
	require.Len(t, lapsed, 1)
	assert.Equal(t, "ended", lapsed[0].ExternalRef)
}

func TestMemory_ShareLinksScopedToOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	owner := seedTenant(t, s)
	stranger := seedTenant(t, s)
	f := newFile(owner, nil, 1)
	require.NoError(t, s.InsertFile(ctx, f))

	link := core.ShareLink{ID: id.New(), FileID: f.ID, Token: "abc", IsActive: true}
	require.NoError(t, s.InsertShareLink(ctx, link))

	_, err := s.GetShareLink(ctx, stranger, link.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.DeactivateShareLink(ctx, stranger, link.ID), core.ErrNotFound)

	links, err := s.ListShareLinks(ctx, stranger, f.ID)
	require.NoError(t, err)
	assert.Empty(t, links)

	require.NoError(t, s.DeactivateShareLink(ctx, owner, link.ID))
	got, err := s.GetShareLinkByToken(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestMemory_ListExpiredTrash(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	owner := seedTenant(t, s)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var due []string
	for i, offset := range []time.Duration{-2 * time.Hour, -time.Hour, 0, time.Hour} {
		f := newFile(owner, nil, 1)
		require.NoError(t, s.InsertFile(ctx, f))
		require.NoError(t, s.InsertTrashEntry(ctx, core.TrashEntry{FileID: f.ID, TenantID: owner, PurgeAfter: now.Add(offset)}))
		if i < 3 {
			due = append(due, f.ID)
		}
	}

	entries, err := s.ListExpiredTrash(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, due, []string{entries[0].FileID, entries[1].FileID, entries[2].FileID})

	limited, err := s.ListExpiredTrash(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
