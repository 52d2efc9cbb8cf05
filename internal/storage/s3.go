package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// uploaderAPI is the part of *manager.Uploader S3Store needs. Defined here
// for testability.
type uploaderAPI interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Store keeps media objects in one bucket.
type S3Store struct {
	api           uploaderAPI
	bucket        string
	publicBaseURL string
}

// New creates an S3Store. publicBaseURL is the CDN or bucket website prefix
// objects are served from; when empty the virtual-hosted bucket URL for
// region is used.
func New(api uploaderAPI, bucket, region, publicBaseURL string) (*S3Store, error) {
	if api == nil {
		return nil, errors.New("storage: uploader must not be nil")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket must not be empty")
	}
	base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &S3Store{api: api, bucket: bucket, publicBaseURL: base}, nil
}

// NewFromClient wraps an S3 client in a multipart uploader, which accepts
// non-seekable bodies.
func NewFromClient(client *s3.Client, bucket, region, publicBaseURL string) (*S3Store, error) {
	if client == nil {
		return nil, errors.New("storage: s3 client must not be nil")
	}
	return New(manager.NewUploader(client), bucket, region, publicBaseURL)
}

// UploadObject stores body under key and returns the storage reference
// (the object key).
func (s *S3Store) UploadObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("storage: object key is required")
	}

	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size > 0 {
		in.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	if _, err := s.api.Upload(ctx, in); err != nil {
		return "", fmt.Errorf("storage: upload %q: %w", key, err)
	}
	return key, nil
}

// PublicURL resolves the URL an uploaded object is served from.
func (s *S3Store) PublicURL(ref string) (string, error) {
	ref = strings.TrimLeft(strings.TrimSpace(ref), "/")
	if ref == "" {
		return "", errors.New("storage: empty storage reference")
	}
	segments := strings.Split(ref, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicBaseURL + "/" + strings.Join(segments, "/"), nil
}
