package storage

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
)

const (
	MIMEOctetStream    = "application/octet-stream"
	mimeDetectionBytes = 512
)

// ContentTypeFor resolves a content type from a file name extension.
// Returns an empty string when the extension is unknown.
func ContentTypeFor(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		return ""
	}
	return normalizeMIME(mime.TypeByExtension(ext))
}

// detectMIMEWithReader sniffs the content type and returns a seekable body.
// AWS SDK v2 needs an io.ReadSeeker to compute the payload hash, so
// non-seekable readers are buffered.
func detectMIMEWithReader(r io.Reader) (string, io.ReadSeeker, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		buf := make([]byte, mimeDetectionBytes)
		n, _ := io.ReadFull(rs, buf)
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return "", nil, err
		}
		if n == 0 {
			return MIMEOctetStream, rs, nil
		}
		return http.DetectContentType(buf[:n]), rs, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", nil, err
	}
	if len(data) == 0 {
		return MIMEOctetStream, bytes.NewReader(nil), nil
	}
	return http.DetectContentType(data), bytes.NewReader(data), nil
}

// normalizeMIME strips parameters such as charset and lowercases the type.
func normalizeMIME(mimeType string) string {
	mimeType, _, _ = strings.Cut(mimeType, ";")
	return strings.TrimSpace(strings.ToLower(mimeType))
}
