// Package fsgraph owns the folder tree and file metadata of each tenant,
// and the naming contract for blob keys.
package fsgraph

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/store"
	"github.com/dmitrymomot/filevault/pkg/id"
	"github.com/dmitrymomot/filevault/pkg/logger"
	"github.com/dmitrymomot/filevault/pkg/sanitizer"
	"github.com/dmitrymomot/filevault/pkg/storage"
)

const MaxNameLength = 255

type Store interface {
	store.Folders
	store.Files
}

// BlobChecker reports whether a key is already used in the blob store.
type BlobChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

type Service struct {
	store  Store
	blobs  BlobChecker
	clock  core.Clock
	logger *slog.Logger
}

type Option func(*Service)

// WithBlobChecker makes key selection skip keys present in the blob store
// but unknown to the database, such as blobs orphaned by a failed purge.
func WithBlobChecker(b BlobChecker) Option {
	return func(s *Service) { s.blobs = b }
}

func WithClock(c core.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(st Store, opts ...Option) *Service {
	s := &Service{store: st, clock: core.SystemClock{}, logger: logger.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// In returns a service writing through tx.
func (s *Service) In(tx Store) *Service {
	c := *s
	c.store = tx
	return &c
}

// FolderName validates and cleans a user supplied folder name.
func FolderName(raw string) (string, error) {
	if strings.Contains(raw, "/") {
		return "", core.Invalid("Folder name must not contain '/'")
	}
	name := sanitizer.Name(raw)
	switch {
	case name == "":
		return "", core.Invalid("Folder name is required")
	case utf8.RuneCountInString(name) > MaxNameLength:
		return "", core.Invalid("Folder name must be at most %d characters", MaxNameLength)
	}
	return name, nil
}

func (s *Service) CreateFolder(ctx context.Context, ownerID, rawName string, parentID *string) (core.Folder, error) {
	name, err := FolderName(rawName)
	if err != nil {
		return core.Folder{}, err
	}
	if err := s.CheckFolder(ctx, ownerID, parentID); err != nil {
		return core.Folder{}, err
	}

	f := core.Folder{
		ID:        id.New(),
		OwnerID:   ownerID,
		ParentID:  parentID,
		Name:      name,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateFolder(ctx, f); err != nil {
		return core.Folder{}, err
	}
	return f, nil
}

// CheckFolder fails with core.ErrNotFound unless folderID is nil (the root)
// or names one of the owner's folders.
func (s *Service) CheckFolder(ctx context.Context, ownerID string, folderID *string) error {
	if folderID == nil {
		return nil
	}
	_, err := s.store.GetFolder(ctx, ownerID, *folderID)
	return err
}

// DeleteFolder removes an empty folder. It never cascades: a folder with
// sub-folders or active files fails with core.ErrFolderNotEmpty.
func (s *Service) DeleteFolder(ctx context.Context, ownerID, folderID string) error {
	deleted, err := s.store.DeleteEmptyFolder(ctx, ownerID, folderID)
	if err != nil {
		return err
	}
	if deleted {
		return nil
	}
	if _, err := s.store.GetFolder(ctx, ownerID, folderID); err != nil {
		return err
	}
	return core.ErrFolderNotEmpty
}

// Filter narrows a listing. Starred lists starred files of every folder.
type Filter struct {
	Starred bool
	Limit   int
	Offset  int
}

// Listing is the content of one folder, or of the root when Folder is nil.
type Listing struct {
	Folder  *core.Folder  `json:"folder"`
	Folders []core.Folder `json:"folders"`
	Files   []core.File   `json:"files"`
}

func (s *Service) ListFolder(ctx context.Context, ownerID string, parentID *string, f Filter) (Listing, error) {
	var l Listing
	if parentID != nil {
		folder, err := s.store.GetFolder(ctx, ownerID, *parentID)
		if err != nil {
			return Listing{}, err
		}
		l.Folder = &folder
	}

	var err error
	if !f.Starred {
		if l.Folders, err = s.store.ListFolders(ctx, ownerID, parentID); err != nil {
			return Listing{}, err
		}
	}
	l.Files, err = s.store.ListFiles(ctx, ownerID, store.FileFilter{
		FolderID:    parentID,
		AllFolders:  f.Starred && parentID == nil,
		StarredOnly: f.Starred,
		Limit:       f.Limit,
		Offset:      f.Offset,
	})
	if err != nil {
		return Listing{}, err
	}
	if l.Folders == nil {
		l.Folders = []core.Folder{}
	}
	if l.Files == nil {
		l.Files = []core.File{}
	}
	return l, nil
}

// MoveFile reassigns the folder of an active file. A nil target is the root.
func (s *Service) MoveFile(ctx context.Context, ownerID, fileID string, target *string) (core.File, error) {
	if target != nil {
		if _, err := s.store.GetFolder(ctx, ownerID, *target); err != nil {
			return core.File{}, err
		}
	}
	return s.store.MoveFile(ctx, ownerID, fileID, target)
}

func (s *Service) GetFile(ctx context.Context, ownerID, fileID string) (core.File, error) {
	f, err := s.store.GetFile(ctx, ownerID, fileID)
	if err != nil {
		return core.File{}, err
	}
	if f.IsDeleted {
		return core.File{}, core.NotFound("File")
	}
	return f, nil
}

func (s *Service) SetStarred(ctx context.Context, ownerID, fileID string, starred bool) (core.File, error) {
	return s.store.SetStarred(ctx, ownerID, fileID, starred)
}

// SetPublic toggles unauthenticated access by file id.
func (s *Service) SetPublic(ctx context.Context, ownerID, fileID string, public bool) (core.File, error) {
	return s.store.SetPublic(ctx, ownerID, fileID, public)
}

type RecordParams struct {
	FolderID    *string
	OwnerID     string
	BlobKey     string
	Name        string
	ContentType string
	Size        int64
}

// RecordUpload inserts the metadata row of a stored blob. Name defaults to
// the last key segment and the file type to its lowercase extension.
func (s *Service) RecordUpload(ctx context.Context, p RecordParams) (core.File, error) {
	if p.BlobKey == "" {
		return core.File{}, core.Invalid("Blob key is required")
	}
	if p.Size < 0 {
		return core.File{}, core.Invalid("Size must not be negative")
	}
	name := p.Name
	if name == "" {
		name = path.Base(p.BlobKey)
	}
	contentType := p.ContentType
	if contentType == "" {
		contentType = storage.MIMEOctetStream
	}

	f := core.File{
		ID:          id.New(),
		OwnerID:     p.OwnerID,
		FolderID:    p.FolderID,
		Name:        name,
		BlobKey:     p.BlobKey,
		FileType:    core.FileType(name),
		ContentType: contentType,
		Size:        p.Size,
		UploadedAt:  s.clock.Now(),
	}
	if err := s.store.InsertFile(ctx, f); err != nil {
		return core.File{}, err
	}
	return f, nil
}
