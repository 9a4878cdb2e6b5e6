package store

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/pkg/id"
)

type memData struct {
	tenants  map[string]core.Tenant
	profiles map[string]core.QuotaProfile
	reserved map[string]core.Reservation
	plans    map[string]core.Plan
	subs     map[string]core.Subscription
	folders  map[string]core.Folder
	files    map[string]core.File
	trash    map[string]core.TrashEntry
	links    map[string]core.ShareLink
}

func newMemData() *memData {
	return &memData{
		tenants:  map[string]core.Tenant{},
		profiles: map[string]core.QuotaProfile{},
		reserved: map[string]core.Reservation{},
		plans:    map[string]core.Plan{},
		subs:     map[string]core.Subscription{},
		folders:  map[string]core.Folder{},
		files:    map[string]core.File{},
		trash:    map[string]core.TrashEntry{},
		links:    map[string]core.ShareLink{},
	}
}

// clone copies the maps. Entities are values whose pointer fields are
// replaced, never written through, so a shallow copy is a snapshot.
func (d *memData) clone() *memData {
	return &memData{
		tenants:  maps.Clone(d.tenants),
		profiles: maps.Clone(d.profiles),
		reserved: maps.Clone(d.reserved),
		plans:    maps.Clone(d.plans),
		subs:     maps.Clone(d.subs),
		folders:  maps.Clone(d.folders),
		files:    maps.Clone(d.files),
		trash:    maps.Clone(d.trash),
		links:    maps.Clone(d.links),
	}
}

type memShared struct {
	mu  sync.Mutex
	d   *memData
	now func() time.Time
}

// Memory is a Store held in process memory. Transactions take the store
// lock for their whole duration and restore a snapshot on error.
type Memory struct {
	shared *memShared
	inTx   bool
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{shared: &memShared{d: newMemData(), now: func() time.Time { return time.Now().UTC() }}}
}

// SetNow replaces the time source used for updated_at columns.
func (m *Memory) SetNow(now func() time.Time) {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	m.shared.now = now
}

func (m *Memory) RunInTx(ctx context.Context, fn func(tx Store) error) (err error) {
	if m.inTx {
		return fn(m)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()

	snapshot := m.shared.d.clone()
	defer func() {
		if p := recover(); p != nil {
			m.shared.d = snapshot
			panic(p)
		}
		if err != nil {
			m.shared.d = snapshot
		}
	}()
	return fn(&Memory{shared: m.shared, inTx: true})
}

func (m *Memory) read(fn func(d *memData)) {
	if !m.inTx {
		m.shared.mu.Lock()
		defer m.shared.mu.Unlock()
	}
	fn(m.shared.d)
}

func (m *Memory) now() time.Time { return m.shared.now() }

// Tenants

func (m *Memory) CreateTenant(_ context.Context, t core.Tenant) (created bool, err error) {
	m.read(func(d *memData) {
		if _, ok := d.tenants[t.ID]; ok {
			return
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = m.now()
		}
		d.tenants[t.ID] = t
		created = true
	})
	return created, nil
}

func (m *Memory) GetTenant(_ context.Context, tenantID string) (t core.Tenant, err error) {
	m.read(func(d *memData) {
		var ok bool
		if t, ok = d.tenants[tenantID]; !ok {
			err = core.NotFound("Account")
		}
	})
	return t, err
}

func (m *Memory) ListTenantIDs(_ context.Context) (ids []string, _ error) {
	m.read(func(d *memData) {
		ids = slices.Sorted(maps.Keys(d.tenants))
	})
	return ids, nil
}

// Quotas

func (m *Memory) CreateQuotaProfile(_ context.Context, p core.QuotaProfile) (err error) {
	m.read(func(d *memData) {
		if _, ok := d.tenants[p.TenantID]; !ok {
			err = fmt.Errorf("%w: unknown tenant %s", ErrConflict, p.TenantID)
			return
		}
		if _, ok := d.profiles[p.TenantID]; ok {
			return
		}
		p.UpdatedAt = m.now()
		d.profiles[p.TenantID] = p
	})
	return err
}

func (m *Memory) GetQuotaProfile(_ context.Context, tenantID string) (p core.QuotaProfile, err error) {
	m.read(func(d *memData) {
		var ok bool
		if p, ok = d.profiles[tenantID]; !ok {
			err = core.NotFound("Quota profile")
		}
	})
	return p, err
}

func (m *Memory) SetProfilePlan(_ context.Context, tenantID string, planID *string) (err error) {
	m.read(func(d *memData) {
		p, ok := d.profiles[tenantID]
		if !ok {
			err = core.NotFound("Quota profile")
			return
		}
		p.PlanID = planID
		p.UpdatedAt = m.now()
		d.profiles[tenantID] = p
	})
	return err
}

func (m *Memory) ReserveUsage(_ context.Context, r core.Reservation, limit int64) (used int64, ok bool, err error) {
	m.read(func(d *memData) {
		p, exists := d.profiles[r.TenantID]
		if !exists {
			err = core.NotFound("Quota profile")
			return
		}
		if p.UsedBytes+r.Bytes > limit {
			used = p.UsedBytes
			return
		}
		p.UsedBytes += r.Bytes
		p.UpdatedAt = m.now()
		d.profiles[r.TenantID] = p
		d.reserved[r.ID] = r
		used, ok = p.UsedBytes, true
	})
	return used, ok, err
}

func (m *Memory) SettleReservation(_ context.Context, reservationID string) (ok bool, _ error) {
	m.read(func(d *memData) {
		if _, ok = d.reserved[reservationID]; ok {
			delete(d.reserved, reservationID)
		}
	})
	return ok, nil
}

func (m *Memory) CancelReservation(_ context.Context, reservationID string) (used int64, ok bool, _ error) {
	m.read(func(d *memData) {
		var r core.Reservation
		if r, ok = d.reserved[reservationID]; !ok {
			return
		}
		delete(d.reserved, reservationID)
		p := d.profiles[r.TenantID]
		p.UsedBytes = max(p.UsedBytes-r.Bytes, 0)
		p.UpdatedAt = m.now()
		d.profiles[r.TenantID] = p
		used = p.UsedBytes
	})
	return used, ok, nil
}

func (m *Memory) SubtractUsage(_ context.Context, tenantID string, n int64) (used int64, underflow bool, err error) {
	m.read(func(d *memData) {
		p, exists := d.profiles[tenantID]
		if !exists {
			err = core.NotFound("Quota profile")
			return
		}
		underflow = p.UsedBytes < n
		p.UsedBytes = max(p.UsedBytes-n, 0)
		p.UpdatedAt = m.now()
		d.profiles[tenantID] = p
		used = p.UsedBytes
	})
	return used, underflow, err
}

func (m *Memory) RecomputeUsage(_ context.Context, tenantID string, staleBefore time.Time) (before, after int64, err error) {
	m.read(func(d *memData) {
		p, exists := d.profiles[tenantID]
		if !exists {
			err = core.NotFound("Quota profile")
			return
		}
		for _, f := range d.files {
			if f.OwnerID == tenantID {
				after += f.Size
			}
		}
		for rid, r := range d.reserved {
			switch {
			case r.TenantID != tenantID:
			case r.CreatedAt.Before(staleBefore):
				delete(d.reserved, rid)
			default:
				after += r.Bytes
			}
		}
		before = p.UsedBytes
		p.UsedBytes = after
		p.UpdatedAt = m.now()
		d.profiles[tenantID] = p
	})
	return before, after, err
}

func (m *Memory) CountFiles(_ context.Context, tenantID string) (active, trashed int, _ error) {
	m.read(func(d *memData) {
		for _, f := range d.files {
			switch {
			case f.OwnerID != tenantID:
			case f.IsDeleted:
				trashed++
			default:
				active++
			}
		}
	})
	return active, trashed, nil
}

// Plans

func (m *Memory) UpsertPlan(_ context.Context, p core.Plan) (out core.Plan, _ error) {
	m.read(func(d *memData) {
		for _, existing := range d.plans {
			if existing.Code == p.Code {
				p.ID = existing.ID
				break
			}
		}
		if p.ID == "" {
			p.ID = id.New()
		}
		d.plans[p.ID] = p
		out = p
	})
	return out, nil
}

func (m *Memory) GetPlan(_ context.Context, planID string) (p core.Plan, err error) {
	m.read(func(d *memData) {
		var ok bool
		if p, ok = d.plans[planID]; !ok {
			err = core.NotFound("Plan")
		}
	})
	return p, err
}

func (m *Memory) GetPlanByCode(_ context.Context, code string) (p core.Plan, err error) {
	m.read(func(d *memData) {
		for _, candidate := range d.plans {
			if candidate.Code == code {
				p = candidate
				return
			}
		}
		err = core.NotFound("Plan")
	})
	return p, err
}

func (m *Memory) ListPlans(_ context.Context, activeOnly bool) (out []core.Plan, _ error) {
	m.read(func(d *memData) {
		for _, p := range d.plans {
			if !activeOnly || p.IsActive {
				out = append(out, p)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.Plan) int {
		return cmp.Or(cmp.Compare(a.DisplayOrder, b.DisplayOrder), cmp.Compare(a.Code, b.Code))
	})
	return out, nil
}

func (m *Memory) DefaultPlan(ctx context.Context) (core.Plan, error) {
	plans, _ := m.ListPlans(ctx, true)
	for _, p := range plans {
		if p.IsFree() {
			return p, nil
		}
	}
	return core.Plan{}, core.NotFound("Default plan")
}

// Subscriptions

func (m *Memory) ActiveSubscription(_ context.Context, tenantID string) (s core.Subscription, err error) {
	m.read(func(d *memData) {
		for _, sub := range d.subs {
			if sub.TenantID == tenantID && sub.Status == core.SubscriptionActive {
				s = sub
				return
			}
		}
		err = core.NotFound("Subscription")
	})
	return s, err
}

func (m *Memory) UpsertSubscription(_ context.Context, s core.Subscription) (out core.Subscription, err error) {
	m.read(func(d *memData) {
		now := m.now()
		for _, existing := range d.subs {
			if existing.ExternalRef == s.ExternalRef {
				s.ID, s.CreatedAt = existing.ID, existing.CreatedAt
			} else if s.Status == core.SubscriptionActive && existing.Status == core.SubscriptionActive && existing.TenantID == s.TenantID {
				err = fmt.Errorf("%w: tenant %s already has an active subscription", ErrConflict, s.TenantID)
				return
			}
		}
		if s.ID == "" {
			s.ID, s.CreatedAt = id.New(), now
		}
		s.UpdatedAt = now
		d.subs[s.ID] = s
		out = s
	})
	return out, err
}

func (m *Memory) CancelOtherActive(_ context.Context, tenantID, keepRef string, now time.Time) (n int, _ error) {
	m.read(func(d *memData) {
		for subID, s := range d.subs {
			if s.TenantID == tenantID && s.Status == core.SubscriptionActive && s.ExternalRef != keepRef {
				s.Status, s.UpdatedAt = core.SubscriptionCanceled, now
				d.subs[subID] = s
				n++
			}
		}
	})
	return n, nil
}

func (m *Memory) ListLapsed(_ context.Context, now time.Time) (out []core.Subscription, _ error) {
	m.read(func(d *memData) {
		for _, s := range d.subs {
			if s.Lapsed(now) {
				out = append(out, s)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.Subscription) int { return a.PeriodEnd.Compare(b.PeriodEnd) })
	return out, nil
}

// Folders

func (m *Memory) CreateFolder(_ context.Context, f core.Folder) (err error) {
	m.read(func(d *memData) {
		for _, sibling := range d.folders {
			if sibling.OwnerID == f.OwnerID && sameFolder(sibling.ParentID, f.ParentID) && sibling.Name == f.Name {
				err = core.ErrDuplicateName
				return
			}
		}
		if f.CreatedAt.IsZero() {
			f.CreatedAt = m.now()
		}
		d.folders[f.ID] = f
	})
	return err
}

func (m *Memory) GetFolder(_ context.Context, ownerID, folderID string) (f core.Folder, err error) {
	m.read(func(d *memData) {
		var ok bool
		if f, ok = d.folders[folderID]; !ok || f.OwnerID != ownerID {
			f, err = core.Folder{}, core.NotFound("Folder")
		}
	})
	return f, err
}

func (m *Memory) DeleteEmptyFolder(_ context.Context, ownerID, folderID string) (deleted bool, _ error) {
	m.read(func(d *memData) {
		f, ok := d.folders[folderID]
		if !ok || f.OwnerID != ownerID {
			return
		}
		for _, child := range d.folders {
			if child.ParentID != nil && *child.ParentID == folderID {
				return
			}
		}
		for _, file := range d.files {
			if !file.IsDeleted && file.FolderID != nil && *file.FolderID == folderID {
				return
			}
		}
		delete(d.folders, folderID)
		for fileID, file := range d.files {
			if file.FolderID != nil && *file.FolderID == folderID {
				file.FolderID = nil
				d.files[fileID] = file
			}
		}
		for fileID, e := range d.trash {
			if e.OriginalFolderID != nil && *e.OriginalFolderID == folderID {
				e.OriginalFolderID = nil
				d.trash[fileID] = e
			}
		}
		deleted = true
	})
	return deleted, nil
}

func (m *Memory) ListFolders(_ context.Context, ownerID string, parentID *string) (out []core.Folder, _ error) {
	m.read(func(d *memData) {
		for _, f := range d.folders {
			if f.OwnerID == ownerID && sameFolder(f.ParentID, parentID) {
				out = append(out, f)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.Folder) int { return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID)) })
	return out, nil
}

// Files

func (m *Memory) InsertFile(_ context.Context, f core.File) (err error) {
	m.read(func(d *memData) {
		for _, existing := range d.files {
			if existing.BlobKey == f.BlobKey {
				err = fmt.Errorf("%w: blob key %s", ErrConflict, f.BlobKey)
				return
			}
		}
		if f.UploadedAt.IsZero() {
			f.UploadedAt = m.now()
		}
		d.files[f.ID] = f
	})
	return err
}

func (m *Memory) GetFile(_ context.Context, ownerID, fileID string) (f core.File, err error) {
	m.read(func(d *memData) {
		var ok bool
		if f, ok = d.files[fileID]; !ok || f.OwnerID != ownerID {
			f, err = core.File{}, core.NotFound("File")
		}
	})
	return f, err
}

func (m *Memory) GetActiveFile(_ context.Context, fileID string) (f core.File, err error) {
	m.read(func(d *memData) {
		var ok bool
		if f, ok = d.files[fileID]; !ok || f.IsDeleted {
			f, err = core.File{}, core.NotFound("File")
		}
	})
	return f, err
}

func (m *Memory) ListFiles(_ context.Context, ownerID string, filter FileFilter) (out []core.File, _ error) {
	m.read(func(d *memData) {
		for _, f := range d.files {
			if f.OwnerID != ownerID || f.IsDeleted {
				continue
			}
			if !filter.AllFolders && !sameFolder(f.FolderID, filter.FolderID) {
				continue
			}
			if filter.StarredOnly && !f.IsStarred {
				continue
			}
			out = append(out, f)
		}
	})
	slices.SortFunc(out, func(a, b core.File) int {
		return cmp.Or(b.UploadedAt.Compare(a.UploadedAt), cmp.Compare(b.ID, a.ID))
	})
	return page(out, filter.Offset, filter.Limit), nil
}

func (m *Memory) BlobKeyTaken(_ context.Context, key string) (taken bool, _ error) {
	m.read(func(d *memData) {
		for _, f := range d.files {
			if f.BlobKey == key {
				taken = true
				return
			}
		}
	})
	return taken, nil
}

func (m *Memory) updateActive(ownerID, fileID string, fn func(*core.File)) (f core.File, err error) {
	m.read(func(d *memData) {
		var ok bool
		if f, ok = d.files[fileID]; !ok || f.OwnerID != ownerID || f.IsDeleted {
			f, err = core.File{}, core.NotFound("File")
			return
		}
		fn(&f)
		d.files[fileID] = f
	})
	return f, err
}

func (m *Memory) MoveFile(_ context.Context, ownerID, fileID string, folderID *string) (core.File, error) {
	return m.updateActive(ownerID, fileID, func(f *core.File) { f.FolderID = folderID })
}

func (m *Memory) SetStarred(_ context.Context, ownerID, fileID string, starred bool) (core.File, error) {
	return m.updateActive(ownerID, fileID, func(f *core.File) { f.IsStarred = starred })
}

func (m *Memory) SetPublic(_ context.Context, ownerID, fileID string, public bool) (core.File, error) {
	return m.updateActive(ownerID, fileID, func(f *core.File) { f.IsPublic = public })
}

func (m *Memory) MarkDeleted(_ context.Context, ownerID, fileID string) (f core.File, ok bool, _ error) {
	m.read(func(d *memData) {
		cur, exists := d.files[fileID]
		if !exists || cur.OwnerID != ownerID || cur.IsDeleted {
			return
		}
		cur.IsDeleted = true
		d.files[fileID] = cur
		f, ok = cur, true
	})
	return f, ok, nil
}

func (m *Memory) MarkRestored(_ context.Context, ownerID, fileID string, folderID *string) (f core.File, ok bool, _ error) {
	m.read(func(d *memData) {
		cur, exists := d.files[fileID]
		if !exists || cur.OwnerID != ownerID || !cur.IsDeleted {
			return
		}
		cur.IsDeleted = false
		cur.FolderID = folderID
		d.files[fileID] = cur
		f, ok = cur, true
	})
	return f, ok, nil
}

func (m *Memory) DeleteTrashedFile(_ context.Context, ownerID, fileID string) (f core.File, ok bool, _ error) {
	m.read(func(d *memData) {
		cur, exists := d.files[fileID]
		if !exists || cur.OwnerID != ownerID || !cur.IsDeleted {
			return
		}
		delete(d.files, fileID)
		delete(d.trash, fileID)
		for linkID, l := range d.links {
			if l.FileID == fileID {
				delete(d.links, linkID)
			}
		}
		f, ok = cur, true
	})
	return f, ok, nil
}

// Trash

func (m *Memory) InsertTrashEntry(_ context.Context, e core.TrashEntry) (err error) {
	m.read(func(d *memData) {
		if _, exists := d.trash[e.FileID]; exists {
			err = fmt.Errorf("%w: trash entry for %s", ErrConflict, e.FileID)
			return
		}
		if _, exists := d.files[e.FileID]; !exists {
			err = core.NotFound("File")
			return
		}
		d.trash[e.FileID] = e
	})
	return err
}

func (m *Memory) GetTrashEntry(_ context.Context, tenantID, fileID string) (e core.TrashEntry, err error) {
	m.read(func(d *memData) {
		var ok bool
		if e, ok = d.trash[fileID]; !ok || e.TenantID != tenantID {
			e, err = core.TrashEntry{}, core.NotFound("Trash entry")
		}
	})
	return e, err
}

func (m *Memory) DeleteTrashEntry(_ context.Context, fileID string) error {
	m.read(func(d *memData) { delete(d.trash, fileID) })
	return nil
}

func (m *Memory) DeleteStrayTrashEntry(_ context.Context, tenantID, fileID string) (ok bool, _ error) {
	m.read(func(d *memData) {
		e, exists := d.trash[fileID]
		if !exists || e.TenantID != tenantID {
			return
		}
		if f, found := d.files[fileID]; found && f.IsDeleted {
			return
		}
		delete(d.trash, fileID)
		ok = true
	})
	return ok, nil
}

func (m *Memory) ListTrash(_ context.Context, tenantID string) (out []TrashItem, _ error) {
	m.read(func(d *memData) {
		for fileID, e := range d.trash {
			if e.TenantID != tenantID {
				continue
			}
			if f, ok := d.files[fileID]; ok {
				out = append(out, TrashItem{Entry: e, File: f})
			}
		}
	})
	slices.SortFunc(out, func(a, b TrashItem) int {
		return cmp.Or(b.Entry.DeletedAt.Compare(a.Entry.DeletedAt), cmp.Compare(a.Entry.FileID, b.Entry.FileID))
	})
	return out, nil
}

func (m *Memory) ListExpiredTrash(_ context.Context, now time.Time, limit int) (out []core.TrashEntry, _ error) {
	m.read(func(d *memData) {
		for _, e := range d.trash {
			if !e.PurgeAfter.After(now) {
				out = append(out, e)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.TrashEntry) int {
		return cmp.Or(a.PurgeAfter.Compare(b.PurgeAfter), cmp.Compare(a.FileID, b.FileID))
	})
	return page(out, 0, limit), nil
}

// Share links

func (m *Memory) InsertShareLink(_ context.Context, l core.ShareLink) (err error) {
	m.read(func(d *memData) {
		if _, ok := d.files[l.FileID]; !ok {
			err = core.NotFound("File")
			return
		}
		for _, existing := range d.links {
			if existing.Token == l.Token {
				err = fmt.Errorf("%w: share token", ErrConflict)
				return
			}
		}
		d.links[l.ID] = l
	})
	return err
}

func (m *Memory) GetShareLinkByToken(_ context.Context, token string) (l core.ShareLink, err error) {
	m.read(func(d *memData) {
		for _, candidate := range d.links {
			if candidate.Token == token {
				l = candidate
				return
			}
		}
		err = core.NotFound("Share link")
	})
	return l, err
}

func (m *Memory) GetShareLink(_ context.Context, ownerID, linkID string) (l core.ShareLink, err error) {
	m.read(func(d *memData) {
		var ok bool
		l, ok = d.links[linkID]
		if !ok || d.files[l.FileID].OwnerID != ownerID {
			l, err = core.ShareLink{}, core.NotFound("Share link")
		}
	})
	return l, err
}

func (m *Memory) DeactivateShareLink(_ context.Context, ownerID, linkID string) (err error) {
	m.read(func(d *memData) {
		l, ok := d.links[linkID]
		if !ok || d.files[l.FileID].OwnerID != ownerID {
			err = core.NotFound("Share link")
			return
		}
		l.IsActive = false
		d.links[linkID] = l
	})
	return err
}

func (m *Memory) ListShareLinks(_ context.Context, ownerID, fileID string) (out []core.ShareLink, _ error) {
	m.read(func(d *memData) {
		if d.files[fileID].OwnerID != ownerID {
			return
		}
		for _, l := range d.links {
			if l.FileID == fileID {
				out = append(out, l)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.ShareLink) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func sameFolder(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

var _ Store = (*Memory)(nil)
