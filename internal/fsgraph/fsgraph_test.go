package fsgraph_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/fsgraph"
	"github.com/dmitrymomot/filevault/internal/store"
	tu "github.com/dmitrymomot/filevault/internal/testutil"
	"github.com/dmitrymomot/filevault/pkg/id"
)

func newService(t *testing.T, opts ...fsgraph.Option) (*fsgraph.Service, *store.Memory, string) {
	t.Helper()
	st := store.NewMemory()
	owner := id.New()
	_, err := st.CreateTenant(context.Background(), core.Tenant{ID: owner})
	require.NoError(t, err)
	opts = append([]fsgraph.Option{fsgraph.WithClock(tu.FixedClock())}, opts...)
	return fsgraph.New(st, opts...), st, owner
}

func record(t *testing.T, svc *fsgraph.Service, owner string, folderID *string, name string) core.File {
	t.Helper()
	f, err := svc.RecordUpload(context.Background(), fsgraph.RecordParams{
		OwnerID:  owner,
		FolderID: folderID,
		BlobKey:  fsgraph.CandidateKey(owner, id.New()+"-"+name, 0),
		Name:     name,
		Size:     1,
	})
	require.NoError(t, err)
	return f
}

func TestFolderName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"plain", "Photos", "Photos", false},
		{"trims and collapses", "  Tax   2025 ", "Tax 2025", false},
		{"strips markup", "<b>Invoices</b>", "Invoices", false},
		{"rejects slash", "a/b", "", true},
		{"rejects empty", "   ", "", true},
		{"rejects markup only", "<script></script>", "", true},
		{"rejects too long", strings.Repeat("x", fsgraph.MaxNameLength+1), "", true},
		{"accepts max length", strings.Repeat("é", fsgraph.MaxNameLength), strings.Repeat("é", fsgraph.MaxNameLength), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := fsgraph.FolderName(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateFolder_DuplicateSiblings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, owner := newService(t)

	docs, err := svc.CreateFolder(ctx, owner, "Docs", nil)
	require.NoError(t, err)
	assert.Nil(t, docs.ParentID)

	_, err = svc.CreateFolder(ctx, owner, "Docs", nil)
	assert.ErrorIs(t, err, core.ErrDuplicateName)

	archive, err := svc.CreateFolder(ctx, owner, "Archive", nil)
	require.NoError(t, err)
	nested, err := svc.CreateFolder(ctx, owner, "Docs", &archive.ID)
	require.NoError(t, err)
	assert.Equal(t, archive.ID, *nested.ParentID)

	_, err = svc.CreateFolder(ctx, owner, "Docs", &archive.ID)
	assert.ErrorIs(t, err, core.ErrDuplicateName)
}

func TestCreateFolder_ParentMustBeOwned(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, owner := newService(t)
	stranger := id.New()
	_, err := st.CreateTenant(ctx, core.Tenant{ID: stranger})
	require.NoError(t, err)

	theirs, err := svc.CreateFolder(ctx, stranger, "Private", nil)
	require.NoError(t, err)

	_, err = svc.CreateFolder(ctx, owner, "Inside", &theirs.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	missing := id.New()
	_, err = svc.CreateFolder(ctx, owner, "Inside", &missing)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDeleteFolder_NotEmptyUntilFileMovedOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, owner := newService(t)

	folder, err := svc.CreateFolder(ctx, owner, "Reports", nil)
	require.NoError(t, err)
	f := record(t, svc, owner, &folder.ID, "q1.pdf")

	err = svc.DeleteFolder(ctx, owner, folder.ID)
	require.ErrorIs(t, err, core.ErrFolderNotEmpty)

	_, err = svc.MoveFile(ctx, owner, f.ID, nil)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteFolder(ctx, owner, folder.ID))
	assert.ErrorIs(t, svc.DeleteFolder(ctx, owner, folder.ID), core.ErrNotFound)
}

func TestDeleteFolder_SubfolderBlocks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, owner := newService(t)

	parent, err := svc.CreateFolder(ctx, owner, "Parent", nil)
	require.NoError(t, err)
	_, err = svc.CreateFolder(ctx, owner, "Child", &parent.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteFolder(ctx, owner, parent.ID), core.ErrFolderNotEmpty)
}

func TestListFolder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, owner := newService(t)

	_, err := svc.CreateFolder(ctx, owner, "b", nil)
	require.NoError(t, err)
	a, err := svc.CreateFolder(ctx, owner, "a", nil)
	require.NoError(t, err)

	rootFile := record(t, svc, owner, nil, "root.txt")
	nestedFile := record(t, svc, owner, &a.ID, "nested.txt")
	_, err = svc.SetStarred(ctx, owner, nestedFile.ID, true)
	require.NoError(t, err)

	root, err := svc.ListFolder(ctx, owner, nil, fsgraph.Filter{})
	require.NoError(t, err)
	assert.Nil(t, root.Folder)
	require.Len(t, root.Folders, 2)
	assert.Equal(t, "a", root.Folders[0].Name)
	require.Len(t, root.Files, 1)
	assert.Equal(t, rootFile.ID, root.Files[0].ID)

	inA, err := svc.ListFolder(ctx, owner, &a.ID, fsgraph.Filter{})
	require.NoError(t, err)
	require.NotNil(t, inA.Folder)
	assert.Empty(t, inA.Folders)
	require.Len(t, inA.Files, 1)

	starred, err := svc.ListFolder(ctx, owner, nil, fsgraph.Filter{Starred: true})
	require.NoError(t, err)
	assert.Empty(t, starred.Folders)
	require.Len(t, starred.Files, 1)
	assert.Equal(t, nestedFile.ID, starred.Files[0].ID)

	missing := id.New()
	_, err = svc.ListFolder(ctx, owner, &missing, fsgraph.Filter{})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMoveFile_TargetMustBeOwned(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, owner := newService(t)
	stranger := id.New()
	_, err := st.CreateTenant(ctx, core.Tenant{ID: stranger})
	require.NoError(t, err)

	theirs, err := svc.CreateFolder(ctx, stranger, "Theirs", nil)
	require.NoError(t, err)
	f := record(t, svc, owner, nil, "a.txt")

	_, err = svc.MoveFile(ctx, owner, f.ID, &theirs.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	mine, err := svc.CreateFolder(ctx, owner, "Mine", nil)
	require.NoError(t, err)
	moved, err := svc.MoveFile(ctx, owner, f.ID, &mine.ID)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, *moved.FolderID)

	_, err = svc.MoveFile(ctx, stranger, f.ID, nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRecordUpload_Defaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, owner := newService(t)

	f, err := svc.RecordUpload(ctx, fsgraph.RecordParams{
		OwnerID: owner,
		BlobKey: fsgraph.KeyPrefix(owner) + "Annual_Report.PDF",
		Size:    42,
	})
	require.NoError(t, err)
	assert.Equal(t, "Annual_Report.PDF", f.Name)
	assert.Equal(t, "pdf", f.FileType)
	assert.Equal(t, "application/octet-stream", f.ContentType)
	assert.Equal(t, tu.FixedClock().Now(), f.UploadedAt)

	got, err := svc.GetFile(ctx, owner, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)

	_, err = svc.RecordUpload(ctx, fsgraph.RecordParams{OwnerID: owner})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestSetPublic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, owner := newService(t)
	f := record(t, svc, owner, nil, "a.txt")

	got, err := svc.SetPublic(ctx, owner, f.ID, true)
	require.NoError(t, err)
	assert.True(t, got.IsPublic)

	_, err = svc.SetPublic(ctx, id.New(), f.ID, false)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
