package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Storage implements Storage using S3-compatible object storage.
type S3Storage struct {
	client    *s3.Client
	presigner *s3.PresignClient
	cfg       Config
}

// NewS3 creates an S3Storage from cfg.
func NewS3(cfg Config) (*S3Storage, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := s3.New(s3.Options{}, func(o *s3.Options) {
		o.Region = cfg.Region
		o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.PathStyle
		}
	})

	return &S3Storage{
		client:    client,
		presigner: s3.NewPresignClient(client),
		cfg:       cfg,
	}, nil
}

// Put uploads data to S3. With IfAbsent the request carries If-None-Match: *
// and a conflicting key yields ErrAlreadyExists.
func (s *S3Storage) Put(ctx context.Context, r io.Reader, size int64, opts ...Option) (*FileInfo, error) {
	o := newPutOptions(s.cfg.DefaultACL, opts...)
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

	acl := types.ObjectCannedACLPrivate
	if o.acl == ACLPublicRead {
		acl = types.ObjectCannedACLPublicRead
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(o.key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		ACL:           acl,
	}
	if o.ifAbsent {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, wrapS3Error(err, ErrUploadFailed)
	}

	return &FileInfo{
		Key:         o.key,
		Size:        size,
		ContentType: contentType,
		ACL:         o.acl,
	}, nil
}

// Get retrieves an object from S3.
func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapS3Error(err, ErrNotFound)
	}
	return output.Body, nil
}

// Delete removes an object. A missing object is not an error.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = wrapS3Error(err, ErrDeleteFailed)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// Exists issues a HEAD request for key.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = wrapS3Error(err, ErrHeadFailed)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// URL returns a presigned GET URL.
func (s *S3Storage) URL(ctx context.Context, key string, opts ...URLOption) (string, error) {
	o := newURLOptions(opts...)

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}
	if d := o.disposition(); d != "" {
		input.ResponseContentDisposition = aws.String(d)
	}

	result, err := s.presigner.PresignGetObject(ctx, input, func(po *s3.PresignOptions) {
		po.Expires = o.expiry
	})
	if err != nil {
		return "", wrapS3Error(err, ErrPresignFailed)
	}
	return result.URL, nil
}

var _ Storage = (*S3Storage)(nil)
