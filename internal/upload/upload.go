// Package upload stores a new file: quota first, then the blob, then the
// metadata row, compensating earlier steps when a later one fails.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/fsgraph"
	"github.com/dmitrymomot/filevault/internal/metrics"
	"github.com/dmitrymomot/filevault/internal/quota"
	"github.com/dmitrymomot/filevault/internal/store"
	"github.com/dmitrymomot/filevault/pkg/logger"
	"github.com/dmitrymomot/filevault/pkg/sanitizer"
	"github.com/dmitrymomot/filevault/pkg/storage"
)

// DefaultMaxSize is the largest accepted file.
const DefaultMaxSize = 100 << 20

// TxRunner runs fn in one store transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx store.Store) error) error
}

type Service struct {
	store   TxRunner
	files   *fsgraph.Service
	ledger  *quota.Ledger
	blobs   storage.Storage
	metrics *metrics.Metrics
	logger  *slog.Logger
	maxSize int64
}

type Option func(*Service)

func WithMaxSize(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(st TxRunner, files *fsgraph.Service, ledger *quota.Ledger, blobs storage.Storage, opts ...Option) *Service {
	s := &Service{
		store:   st,
		files:   files,
		ledger:  ledger,
		blobs:   blobs,
		logger:  logger.Discard(),
		maxSize: DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxSize is the configured per-file limit.
func (s *Service) MaxSize() int64 { return s.maxSize }

type Params struct {
	Body        io.Reader
	FolderID    *string
	OwnerID     string
	Filename    string
	ContentType string
	Size        int64
}

// Upload stores p.Body and records it. The quota is charged before any
// byte reaches the blob store and released again if the blob or the row
// cannot be written, so a failed upload leaves the counter unchanged.
func (s *Service) Upload(ctx context.Context, p Params) (core.File, error) {
	f, result, err := s.upload(ctx, p)
	s.metrics.UploadResult(result, p.Size)
	return f, err
}

func (s *Service) upload(ctx context.Context, p Params) (core.File, string, error) {
	name := sanitizer.FileName(p.Filename)
	switch {
	case name == "":
		return core.File{}, "invalid", core.Invalid("File name is required")
	case p.Size <= 0:
		return core.File{}, "invalid", core.Invalid("File is empty")
	case p.Size > s.maxSize:
		return core.File{}, "too_large", core.WithMessage(core.ErrFileTooLarge,
			fmt.Sprintf("File exceeds the %s limit", humanize.IBytes(uint64(s.maxSize))))
	}
	if err := s.files.CheckFolder(ctx, p.OwnerID, p.FolderID); err != nil {
		return core.File{}, "invalid", err
	}

	body, err := seekable(p.Body, p.Size)
	if err != nil {
		return core.File{}, "invalid", err
	}

	res, err := s.ledger.Reserve(ctx, p.OwnerID, p.Size)
	if err != nil {
		if errors.Is(err, core.ErrQuotaExceeded) {
			return core.File{}, "quota_exceeded", err
		}
		return core.File{}, "error", err
	}

	contentType := p.ContentType
	if contentType == "" || contentType == storage.MIMEOctetStream {
		contentType = storage.ContentTypeFor(name)
	}

	key, err := s.put(ctx, p.OwnerID, name, contentType, body, p.Size)
	if err != nil {
		s.cancel(ctx, res)
		s.logger.ErrorContext(ctx, "blob upload failed",
			slog.String("tenant_id", p.OwnerID),
			slog.Any("error", err),
		)
		return core.File{}, "blob_error", core.Unavailable(core.ErrBlobStoreUnavailable, err)
	}

	var f core.File
	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		if err := s.ledger.In(tx).Settle(ctx, res); err != nil {
			return err
		}
		var err error
		f, err = s.files.In(tx).RecordUpload(ctx, fsgraph.RecordParams{
			FolderID:    p.FolderID,
			OwnerID:     p.OwnerID,
			BlobKey:     key,
			Name:        name,
			ContentType: contentType,
			Size:        p.Size,
		})
		return err
	})
	if err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), key); derr != nil {
			s.logger.WarnContext(ctx, "orphaned blob after failed record",
				slog.String("key", key),
				slog.Any("error", derr),
			)
		}
		s.cancel(ctx, res)
		return core.File{}, "error", fmt.Errorf("record upload: %w", err)
	}

	s.logger.InfoContext(ctx, "file uploaded",
		slog.String("tenant_id", p.OwnerID),
		slog.String("file_id", f.ID),
		slog.Int64("size", f.Size),
	)
	return f, "ok", nil
}

// put writes the body under the first free key. A key claimed between the
// lookup and the conditional write moves on to the next candidate.
func (s *Service) put(ctx context.Context, ownerID, name, contentType string, body io.ReadSeeker, size int64) (string, error) {
	for key, err := range s.files.BlobKeys(ctx, ownerID, name) {
		if err != nil {
			return "", err
		}
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return "", err
		}
		opts := []storage.Option{storage.WithKey(key), storage.IfAbsent()}
		if contentType != "" {
			opts = append(opts, storage.WithContentType(contentType))
		}
		_, perr := s.blobs.Put(ctx, body, size, opts...)
		if errors.Is(perr, storage.ErrAlreadyExists) {
			continue
		}
		return key, perr
	}
	return "", errors.New("blob key candidates exhausted")
}

func (s *Service) cancel(ctx context.Context, res quota.Reservation) {
	if err := s.ledger.Cancel(context.WithoutCancel(ctx), res); err != nil {
		s.logger.ErrorContext(ctx, "quota release after failed upload",
			slog.String("tenant_id", res.TenantID),
			slog.Int64("bytes", res.Bytes),
			slog.Any("error", err),
		)
	}
}

// seekable returns r when it can be rewound, else buffers exactly size
// bytes of it.
func seekable(r io.Reader, size int64) (io.ReadSeeker, error) {
	if r == nil {
		return nil, core.Invalid("File body is required")
	}
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, size+1))
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}
	if int64(len(data)) != size {
		return nil, core.Invalid("File body is %d bytes, expected %d", len(data), size)
	}
	return bytes.NewReader(data), nil
}
