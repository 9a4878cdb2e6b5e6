// Package storage is the blob store adapter: put, get, delete, existence
// checks and presigned read URLs against S3-compatible object storage.
//
// Three implementations share the Storage interface:
//
//   - S3Storage talks to AWS S3, MinIO, Backblaze B2 or any S3-compatible API.
//   - Memory keeps objects in process memory for tests and local development.
//   - Resilient decorates another Storage with per-attempt timeouts and
//     bounded exponential retry of transient failures.
//
// # Keys
//
// Callers own the key layout and pass it with WithKey. IfAbsent turns a put
// into a conditional create so concurrent writers cannot overwrite each other:
//
//	info, err := store.Put(ctx, body, size,
//		storage.WithKey("user_42/report.pdf"),
//		storage.IfAbsent(),
//	)
//	if errors.Is(err, storage.ErrAlreadyExists) {
//		// pick another key
//	}
//
// # Presigned URLs
//
// Read URLs are always signed and never outlive MaxSignedURLExpiry:
//
//	url, err := store.URL(ctx, key,
//		storage.WithDownload("report.pdf"),
//		storage.WithSigned(time.Hour),
//	)
//
// # Errors
//
// Backend errors are normalized to the sentinels in errors.go. Use
// errors.Is(err, storage.ErrUnavailable) to detect a store that kept failing
// after retries.
package storage
