package testutil

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/store"
	"github.com/dmitrymomot/filevault/pkg/id"
	"github.com/dmitrymomot/filevault/pkg/storage"
)

// SeedTenant provisions a tenant whose counter starts at used.
func SeedTenant(t testing.TB, st store.Store, used int64) string {
	t.Helper()
	ctx := context.Background()
	tenantID := id.New()
	_, err := st.CreateTenant(ctx, core.Tenant{ID: tenantID, Email: "tenant@example.com"})
	require.NoError(t, err)
	require.NoError(t, st.CreateQuotaProfile(ctx, core.QuotaProfile{TenantID: tenantID, UsedBytes: used}))
	return tenantID
}

// SeedFile stores a blob of size bytes, records its row and charges the
// tenant's counter, as a completed upload would.
func SeedFile(t testing.TB, st store.Store, blobs storage.Storage, ownerID string, folderID *string, name string, size int64) core.File {
	t.Helper()
	ctx := context.Background()
	f := core.File{
		ID:          id.New(),
		OwnerID:     ownerID,
		FolderID:    folderID,
		Name:        name,
		BlobKey:     "user_" + ownerID + "/" + id.NewShortID() + "_" + name,
		FileType:    core.FileType(name),
		ContentType: "application/octet-stream",
		Size:        size,
	}
	_, err := blobs.Put(ctx, bytes.NewReader(make([]byte, size)), size, storage.WithKey(f.BlobKey))
	require.NoError(t, err)
	require.NoError(t, st.InsertFile(ctx, f))
	Charge(t, st, ownerID, size)
	return f
}

// Charge adds n settled bytes to the tenant's counter without a file row.
func Charge(t testing.TB, st store.Store, tenantID string, n int64) {
	t.Helper()
	ctx := context.Background()
	r := core.Reservation{ID: id.New(), TenantID: tenantID, Bytes: n, CreatedAt: time.Now()}
	_, ok, err := st.ReserveUsage(ctx, r, 1<<62)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.SettleReservation(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

// UsedBytes reads the tenant's counter.
func UsedBytes(t testing.TB, st store.Store, tenantID string) int64 {
	t.Helper()
	p, err := st.GetQuotaProfile(context.Background(), tenantID)
	require.NoError(t, err)
	return p.UsedBytes
}
