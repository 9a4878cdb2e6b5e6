package core

import (
	"path"
	"strings"
	"time"
)

type Tenant struct {
	CreatedAt time.Time
	ID        string
	Email     string
}

// Plan is a storage tier. The default plan is the active plan with a zero
// price and the lowest display order.
type Plan struct {
	ID                string   `json:"id"`
	Code              string   `json:"code"`
	Name              string   `json:"name"`
	ExternalPriceRef  string   `json:"-"`
	Features          []string `json:"features"`
	MaxBytes          int64    `json:"max_bytes"`
	MonthlyPriceCents int64    `json:"monthly_price_cents"`
	DisplayOrder      int      `json:"display_order"`
	IsActive          bool     `json:"is_active"`
}

// IsFree reports whether the plan qualifies as a default plan.
func (p Plan) IsFree() bool { return p.MonthlyPriceCents == 0 }

type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionCanceled, SubscriptionPastDue, SubscriptionUnpaid, SubscriptionIncomplete:
		return true
	}
	return false
}

// Lapsing statuses force a downgrade once the paid period is over.
func (s SubscriptionStatus) Lapsing() bool {
	return s == SubscriptionCanceled || s == SubscriptionUnpaid
}

type Subscription struct {
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ID                string
	TenantID          string
	PlanID            string
	ExternalRef       string
	Status            SubscriptionStatus
	CancelAtPeriodEnd bool
}

// Lapsed reports whether the subscription no longer entitles the tenant to
// its plan at now.
func (s Subscription) Lapsed(now time.Time) bool {
	return s.Status.Lapsing() && !s.PeriodEnd.IsZero() && s.PeriodEnd.Before(now)
}

// QuotaProfile is the per-tenant storage counter. UsedBytes covers every
// file row of the tenant, trashed ones included, plus the bytes of
// uploads still in flight.
type QuotaProfile struct {
	UpdatedAt time.Time
	PlanID    *string
	TenantID  string
	UsedBytes int64
}

// Reservation is the charge of an upload whose file row does not exist
// yet. It is settled when the row is written and cancelled on failure.
type Reservation struct {
	CreatedAt time.Time
	ID        string
	TenantID  string
	Bytes     int64
}

type Folder struct {
	CreatedAt time.Time `json:"created_at"`
	ParentID  *string   `json:"parent_id"`
	ID        string    `json:"id"`
	OwnerID   string    `json:"-"`
	Name      string    `json:"name"`
}

type File struct {
	UploadedAt  time.Time `json:"uploaded_at"`
	FolderID    *string   `json:"folder_id"`
	ID          string    `json:"id"`
	OwnerID     string    `json:"-"`
	Name        string    `json:"name"`
	BlobKey     string    `json:"-"`
	FileType    string    `json:"file_type"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	IsPublic    bool      `json:"is_public"`
	IsStarred   bool      `json:"is_starred"`
	IsDeleted   bool      `json:"-"`
}

// FileType derives the lowercase extension without the dot.
func FileType(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

type TrashEntry struct {
	DeletedAt        time.Time `json:"deleted_at"`
	PurgeAfter       time.Time `json:"purge_after"`
	OriginalFolderID *string   `json:"original_folder_id"`
	FileID           string    `json:"file_id"`
	TenantID         string    `json:"-"`
}

type ShareLink struct {
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at"`
	ID        string     `json:"id"`
	FileID    string     `json:"file_id"`
	Token     string     `json:"token"`
	IsActive  bool       `json:"is_active"`
}

// Expired reports whether the link has a deadline that has passed.
func (l ShareLink) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}
