// Package store persists filevault entities. Postgres is the production
// implementation; Memory backs tests and single-process development runs.
//
// Every state transition that races (quota counters, trash transitions,
// folder deletion) is a single conditional statement, so callers never
// check-then-write.
package store

import (
	"context"
	"time"

	"github.com/dmitrymomot/filevault/internal/core"
)

// Store is the full persistence surface. Services depend on narrower
// interfaces declared next to them.
type Store interface {
	Tenants
	Quotas
	Plans
	Subscriptions
	Folders
	Files
	Trash
	ShareLinks

	// RunInTx runs fn against a Store bound to one transaction. fn's error
	// rolls everything back. Nested calls join the outer transaction.
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}

type Tenants interface {
	// CreateTenant inserts t and reports false when it already existed.
	CreateTenant(ctx context.Context, t core.Tenant) (bool, error)
	GetTenant(ctx context.Context, id string) (core.Tenant, error)
	ListTenantIDs(ctx context.Context) ([]string, error)
}

type Quotas interface {
	// CreateQuotaProfile is a no-op when the profile exists.
	CreateQuotaProfile(ctx context.Context, p core.QuotaProfile) error
	GetQuotaProfile(ctx context.Context, tenantID string) (core.QuotaProfile, error)
	SetProfilePlan(ctx context.Context, tenantID string, planID *string) error
	// ReserveUsage charges r.Bytes and records r when the counter stays
	// within limit. ok is false and nothing changes otherwise.
	ReserveUsage(ctx context.Context, r core.Reservation, limit int64) (used int64, ok bool, err error)
	// SettleReservation drops the reservation record and leaves its bytes
	// charged. false means the reservation was no longer held.
	SettleReservation(ctx context.Context, id string) (bool, error)
	// CancelReservation drops the reservation and returns its bytes. ok is
	// false when it was no longer held; nothing is returned then.
	CancelReservation(ctx context.Context, id string) (used int64, ok bool, err error)
	// SubtractUsage floors at zero. underflow reports that the counter held
	// fewer than n bytes.
	SubtractUsage(ctx context.Context, tenantID string, n int64) (used int64, underflow bool, err error)
	// RecomputeUsage overwrites the counter with the sum of the tenant's
	// file sizes plus its reservations created at or after staleBefore.
	// Older reservations are dropped. Returns the previous and new values.
	RecomputeUsage(ctx context.Context, tenantID string, staleBefore time.Time) (before, after int64, err error)
	CountFiles(ctx context.Context, tenantID string) (active, trashed int, err error)
}

type Plans interface {
	// UpsertPlan inserts or updates by code.
	UpsertPlan(ctx context.Context, p core.Plan) (core.Plan, error)
	GetPlan(ctx context.Context, id string) (core.Plan, error)
	GetPlanByCode(ctx context.Context, code string) (core.Plan, error)
	// ListPlans returns plans by display order.
	ListPlans(ctx context.Context, activeOnly bool) ([]core.Plan, error)
	// DefaultPlan is the free active plan with the lowest display order.
	DefaultPlan(ctx context.Context) (core.Plan, error)
}

type Subscriptions interface {
	ActiveSubscription(ctx context.Context, tenantID string) (core.Subscription, error)
	// UpsertSubscription inserts or updates by external reference.
	UpsertSubscription(ctx context.Context, s core.Subscription) (core.Subscription, error)
	// CancelOtherActive cancels the tenant's active subscriptions except keepRef.
	CancelOtherActive(ctx context.Context, tenantID, keepRef string, now time.Time) (int, error)
	// ListLapsed returns canceled or unpaid subscriptions whose period ended before now.
	ListLapsed(ctx context.Context, now time.Time) ([]core.Subscription, error)
}

type Folders interface {
	// CreateFolder fails with core.ErrDuplicateName on a sibling name clash.
	CreateFolder(ctx context.Context, f core.Folder) error
	GetFolder(ctx context.Context, ownerID, id string) (core.Folder, error)
	// DeleteEmptyFolder deletes the folder only when it has no child folder
	// and no active file; false means the folder was not deleted.
	DeleteEmptyFolder(ctx context.Context, ownerID, id string) (bool, error)
	ListFolders(ctx context.Context, ownerID string, parentID *string) ([]core.Folder, error)
}

// FileFilter selects active files.
type FileFilter struct {
	FolderID    *string
	AllFolders  bool
	StarredOnly bool
	Limit       int
	Offset      int
}

type Files interface {
	InsertFile(ctx context.Context, f core.File) error
	// GetFile returns the owner's file in any state.
	GetFile(ctx context.Context, ownerID, id string) (core.File, error)
	// GetActiveFile returns an active file regardless of owner.
	GetActiveFile(ctx context.Context, id string) (core.File, error)
	// ListFiles returns active files, newest first.
	ListFiles(ctx context.Context, ownerID string, f FileFilter) ([]core.File, error)
	BlobKeyTaken(ctx context.Context, key string) (bool, error)
	// MoveFile, SetStarred and SetPublic only touch active files.
	MoveFile(ctx context.Context, ownerID, id string, folderID *string) (core.File, error)
	SetStarred(ctx context.Context, ownerID, id string, starred bool) (core.File, error)
	SetPublic(ctx context.Context, ownerID, id string, public bool) (core.File, error)
	// MarkDeleted flips an active file to trashed; false when it was not active.
	MarkDeleted(ctx context.Context, ownerID, id string) (core.File, bool, error)
	// MarkRestored flips a trashed file to active in folderID; false when it
	// was not trashed.
	MarkRestored(ctx context.Context, ownerID, id string, folderID *string) (core.File, bool, error)
	// DeleteTrashedFile removes a trashed file row, cascading to its trash
	// entry and share links; false when no trashed row matched.
	DeleteTrashedFile(ctx context.Context, ownerID, id string) (core.File, bool, error)
}

// TrashItem pairs a trash entry with its file.
type TrashItem struct {
	Entry core.TrashEntry
	File  core.File
}

type Trash interface {
	InsertTrashEntry(ctx context.Context, e core.TrashEntry) error
	GetTrashEntry(ctx context.Context, tenantID, fileID string) (core.TrashEntry, error)
	DeleteTrashEntry(ctx context.Context, fileID string) error
	// DeleteStrayTrashEntry removes the owner's trash entry for fileID only
	// while that file is active; false when no such entry existed.
	DeleteStrayTrashEntry(ctx context.Context, tenantID, fileID string) (bool, error)
	ListTrash(ctx context.Context, tenantID string) ([]TrashItem, error)
	// ListExpiredTrash returns up to limit entries due at now, oldest first.
	ListExpiredTrash(ctx context.Context, now time.Time, limit int) ([]core.TrashEntry, error)
}

type ShareLinks interface {
	InsertShareLink(ctx context.Context, l core.ShareLink) error
	GetShareLinkByToken(ctx context.Context, token string) (core.ShareLink, error)
	// GetShareLink returns a link whose file belongs to ownerID.
	GetShareLink(ctx context.Context, ownerID, id string) (core.ShareLink, error)
	DeactivateShareLink(ctx context.Context, ownerID, id string) error
	ListShareLinks(ctx context.Context, ownerID, fileID string) ([]core.ShareLink, error)
}
