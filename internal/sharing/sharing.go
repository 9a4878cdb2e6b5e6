// Package sharing issues and resolves tokenized share links and turns
// access grants into short-lived presigned URLs. Links are checked at
// access time; nothing is presigned at issuance.
package sharing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/metrics"
	"github.com/dmitrymomot/filevault/internal/store"
	"github.com/dmitrymomot/filevault/pkg/id"
	"github.com/dmitrymomot/filevault/pkg/logger"
	"github.com/dmitrymomot/filevault/pkg/storage"
)

const (
	// DefaultURLTTL is the lifetime of a presigned URL handed out on access.
	DefaultURLTTL = time.Hour
	// MaxTTLDays bounds the expiry of an issued link.
	MaxTTLDays = 365
)

// Store is the persistence the service needs.
type Store interface {
	store.ShareLinks
	store.Files
}

// URLSigner presigns blob URLs.
type URLSigner interface {
	URL(ctx context.Context, key string, opts ...storage.URLOption) (string, error)
}

// Service issues, resolves and revokes share links.
type Service struct {
	store   Store
	urls    URLSigner
	clock   core.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
	ttl     time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithURLTTL sets the lifetime of issued URLs, clamped to the storage maximum.
func WithURLTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = storage.ClampExpiry(d) }
}

// WithClock sets the time source for link expiry.
func WithClock(c core.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithMetrics counts share resolutions by outcome.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Service over st signing URLs with urls.
func New(st Store, urls URLSigner, opts ...Option) *Service {
	s := &Service{
		store:  st,
		urls:   urls,
		clock:  core.SystemClock{},
		logger: logger.Discard(),
		ttl:    DefaultURLTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a link to an active file of the owner. A nil ttlDays
// issues a link that never expires.
func (s *Service) Issue(ctx context.Context, ownerID, fileID string, ttlDays *int) (core.ShareLink, error) {
	if ttlDays != nil && (*ttlDays < 1 || *ttlDays > MaxTTLDays) {
		return core.ShareLink{}, core.Invalid("Expiry must be between 1 and %d days", MaxTTLDays)
	}
	f, err := s.activeFile(ctx, ownerID, fileID)
	if err != nil {
		return core.ShareLink{}, err
	}

	token, err := id.NewToken(id.TokenBytes)
	if err != nil {
		return core.ShareLink{}, err
	}
	now := s.clock.Now()
	link := core.ShareLink{
		ID:        id.New(),
		FileID:    f.ID,
		Token:     token,
		CreatedAt: now,
		IsActive:  true,
	}
	if ttlDays != nil {
		exp := now.AddDate(0, 0, *ttlDays)
		link.ExpiresAt = &exp
	}
	if err := s.store.InsertShareLink(ctx, link); err != nil {
		return core.ShareLink{}, err
	}
	return link, nil
}

// Resolve checks a token: unknown, then expired, then revoked. A link to
// a trashed file resolves as not found.
func (s *Service) Resolve(ctx context.Context, token string) (core.File, error) {
	f, result, err := s.resolve(ctx, token)
	s.metrics.ShareResolved(result)
	return f, err
}

func (s *Service) resolve(ctx context.Context, token string) (core.File, string, error) {
	if token == "" {
		return core.File{}, "not_found", core.NotFound("Share link")
	}
	link, err := s.store.GetShareLinkByToken(ctx, token)
	if errors.Is(err, core.ErrNotFound) {
		return core.File{}, "not_found", core.NotFound("Share link")
	}
	if err != nil {
		return core.File{}, "error", err
	}
	if link.Expired(s.clock.Now()) {
		return core.File{}, "expired", core.ErrExpired
	}
	if !link.IsActive {
		return core.File{}, "revoked", core.ErrRevoked
	}
	f, err := s.store.GetActiveFile(ctx, link.FileID)
	if errors.Is(err, core.ErrNotFound) {
		return core.File{}, "not_found", core.NotFound("File")
	}
	if err != nil {
		return core.File{}, "error", err
	}
	return f, "ok", nil
}

// Revoke deactivates a link. Revoking twice succeeds.
func (s *Service) Revoke(ctx context.Context, ownerID, linkID string) error {
	return s.store.DeactivateShareLink(ctx, ownerID, linkID)
}

// List returns the links of one of the owner's files, newest first.
func (s *Service) List(ctx context.Context, ownerID, fileID string) ([]core.ShareLink, error) {
	if _, err := s.store.GetFile(ctx, ownerID, fileID); err != nil {
		return nil, err
	}
	links, err := s.store.ListShareLinks(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	if links == nil {
		links = []core.ShareLink{}
	}
	return links, nil
}

// Grant is a presigned URL for one file.
type Grant struct {
	ExpiresAt time.Time `json:"expires_at"`
	URL       string    `json:"url"`
	File      core.File `json:"file"`
}

// Mode selects the Content-Disposition of an owner URL.
type Mode int

const (
	Download Mode = iota
	Preview
)

// AccessLink exchanges a share token for a download URL.
func (s *Service) AccessLink(ctx context.Context, token string) (Grant, error) {
	f, err := s.Resolve(ctx, token)
	if err != nil {
		return Grant{}, err
	}
	return s.grant(ctx, f, Download)
}

// AccessPublic grants a download URL for a file its owner made public.
func (s *Service) AccessPublic(ctx context.Context, fileID string) (Grant, error) {
	f, err := s.store.GetActiveFile(ctx, fileID)
	if err != nil {
		return Grant{}, err
	}
	if !f.IsPublic {
		return Grant{}, core.NotFound("File")
	}
	return s.grant(ctx, f, Download)
}

// OwnerURL grants the owner a download or inline preview URL.
func (s *Service) OwnerURL(ctx context.Context, ownerID, fileID string, mode Mode) (Grant, error) {
	f, err := s.activeFile(ctx, ownerID, fileID)
	if err != nil {
		return Grant{}, err
	}
	return s.grant(ctx, f, mode)
}

func (s *Service) grant(ctx context.Context, f core.File, mode Mode) (Grant, error) {
	disposition := storage.WithDownload(f.Name)
	if mode == Preview {
		disposition = storage.WithInline(f.Name)
	}
	u, err := s.urls.URL(ctx, f.BlobKey, disposition, storage.WithSigned(s.ttl))
	if err != nil {
		s.logger.ErrorContext(ctx, "presign failed",
			slog.String("file_id", f.ID),
			slog.Any("error", err),
		)
		return Grant{}, core.Unavailable(core.ErrBlobStoreUnavailable, err)
	}
	return Grant{URL: u, File: f, ExpiresAt: s.clock.Now().Add(s.ttl)}, nil
}

func (s *Service) activeFile(ctx context.Context, ownerID, fileID string) (core.File, error) {
	f, err := s.store.GetFile(ctx, ownerID, fileID)
	if err != nil {
		return core.File{}, err
	}
	if f.IsDeleted {
		return core.File{}, core.NotFound("File")
	}
	return f, nil
}
