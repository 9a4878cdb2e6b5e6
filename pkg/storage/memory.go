package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"sync"
)

type memoryObject struct {
	contentType string
	data        []byte
	acl         ACL
}

// Memory is an in-process Storage used by tests and local development.
// URLs it issues are not fetchable; they carry the same query parameters a
// presigned S3 URL would so callers can assert on disposition and expiry.
type Memory struct {
	objects map[string]memoryObject
	baseURL string
	mu      sync.RWMutex
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]memoryObject),
		baseURL: "memory://blobs",
	}
}

func (m *Memory) Put(ctx context.Context, r io.Reader, size int64, opts ...Option) (*FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := newPutOptions(ACLPrivate, opts...)
	if o.key == "" {
		return nil, ErrMissingKey
	}
	if size <= 0 {
		return nil, ErrEmptyFile
	}

	contentType, body, err := detectMIMEWithReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read input: %v", ErrUploadFailed, err)
	}
	if o.contentType != "" {
		contentType = o.contentType
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: read input: %v", ErrUploadFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.objects[o.key]; exists && o.ifAbsent {
		return nil, ErrAlreadyExists
	}
	m.objects[o.key] = memoryObject{contentType: contentType, data: data, acl: o.acl}

	return &FileInfo{Key: o.key, Size: int64(len(data)), ContentType: contentType, ACL: o.acl}, nil
}

func (m *Memory) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(obj.data))), nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *Memory) URL(ctx context.Context, key string, opts ...URLOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	o := newURLOptions(opts...)

	q := url.Values{}
	q.Set("X-Amz-Expires", strconv.Itoa(int(o.expiry.Seconds())))
	if d := o.disposition(); d != "" {
		q.Set("response-content-disposition", d)
	}
	return m.baseURL + "/" + key + "?" + q.Encode(), nil
}

// Keys returns the stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.objects))
}

var _ Storage = (*Memory)(nil)
