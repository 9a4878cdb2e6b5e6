package storage

// Option configures Put operations.
type Option func(*putOptions)

type putOptions struct {
	key         string
	contentType string
	acl         ACL
	ifAbsent    bool
}

func newPutOptions(defaultACL ACL, opts ...Option) *putOptions {
	o := &putOptions{acl: defaultACL}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithKey sets the storage key.
func WithKey(key string) Option {
	return func(o *putOptions) {
		o.key = key
	}
}

// WithContentType overrides content type detection.
func WithContentType(ct string) Option {
	return func(o *putOptions) {
		o.contentType = ct
	}
}

// WithACL overrides the default ACL for this upload.
func WithACL(acl ACL) Option {
	return func(o *putOptions) {
		o.acl = acl
	}
}

// IfAbsent makes the put conditional: it fails with ErrAlreadyExists when
// an object is already stored under the key.
func IfAbsent() Option {
	return func(o *putOptions) {
		o.ifAbsent = true
	}
}
