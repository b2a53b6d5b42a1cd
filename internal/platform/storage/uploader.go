package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

var (
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
)

// Uploader writes report objects to a Cloud Storage bucket.
type Uploader struct {
	client *storage.Client
	bucket string
	now    func() time.Time
}

// UploaderOption customises Uploader behaviour.
type UploaderOption func(*Uploader)

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) UploaderOption {
	return func(u *Uploader) {
		if clock != nil {
			u.now = clock
		}
	}
}

// NewUploader constructs an Uploader bound to the given bucket.
func NewUploader(ctx context.Context, bucket string, opts []option.ClientOption, uopts ...UploaderOption) (*Uploader, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}
	u := &Uploader{client: client, bucket: bucket, now: time.Now}
	for _, opt := range uopts {
		if opt != nil {
			opt(u)
		}
	}
	return u, nil
}

// UploadResult describes the written object.
type UploadResult struct {
	Bucket string
	Object string
	URI    string
	Size   int64
}

// Upload writes data under the given object name with the provided content
// type and returns the gs:// URI of the object.
func (u *Uploader) Upload(ctx context.Context, object, contentType string, data []byte) (UploadResult, error) {
	if u == nil || u.client == nil {
		return UploadResult{}, errors.New("storage: uploader not initialised")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return UploadResult{}, errInvalidObject
	}

	w := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return UploadResult{}, fmt.Errorf("storage: write object %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("storage: close object %s: %w", object, err)
	}

	return UploadResult{
		Bucket: u.bucket,
		Object: object,
		URI:    fmt.Sprintf("gs://%s/%s", u.bucket, object),
		Size:   int64(len(data)),
	}, nil
}

// Close releases the underlying client.
func (u *Uploader) Close() error {
	if u == nil || u.client == nil {
		return nil
	}
	return u.client.Close()
}
