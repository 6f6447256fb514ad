package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"datalake/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioBackend implements Backend with a MinIO client bound to one bucket.
type MinioBackend struct {
	client *minio.Client
	bucket string
}

// NewMinioBackend builds a Backend from a MinIO client.
func NewMinioBackend(client *minio.Client, bucket string) *MinioBackend {
	return &MinioBackend{client: client, bucket: bucket}
}

// DialMinio connects to the bucket described by cfg, creating it when it
// does not exist yet.
func DialMinio(ctx context.Context, cfg config.BucketConfig) (*MinioBackend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, Error.New("minio %s: %v", cfg.Endpoint, err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, Error.New("check bucket %s: %v", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, Error.New("create bucket %s: %v", cfg.Bucket, err)
		}
	}
	return NewMinioBackend(client, cfg.Bucket), nil
}

func (s *MinioBackend) Bucket() string {
	return s.bucket
}

func isNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
	}
	return false
}

func toInfo(stat minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Size:         stat.Size,
		ContentType:  stat.ContentType,
		ETag:         stat.ETag,
		LastModified: stat.LastModified,
		CacheControl: stat.Metadata.Get("Cache-Control"),
	}
}

// Head stats an object.
func (s *MinioBackend) Head(ctx context.Context, filename string) (*ObjectInfo, error) {
	stat, err := s.client.StatObject(ctx, s.bucket, filename, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, Error.Wrap(err)
	}
	info := toInfo(stat)
	return &info, nil
}

// Get opens an object, optionally restricted to a byte range. Ranged reads
// stat the object first so Info.Size stays the full object size.
func (s *MinioBackend) Get(ctx context.Context, filename string, rng *Range) (*Object, error) {
	opts := minio.GetObjectOptions{}
	var head *ObjectInfo
	if rng != nil {
		var err error
		if head, err = s.Head(ctx, filename); err != nil || head == nil {
			return nil, err
		}
		// minio reads (0,-1) as a suffix range and rejects (N,-1).
		end := rng.End
		if end < 0 || end >= head.Size {
			end = head.Size - 1
		}
		if err := opts.SetRange(rng.Start, end); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	// Core issues a single GET; the lazy Object drops Range after a Stat.
	body, stat, _, err := minio.Core{Client: s.client}.GetObject(ctx, s.bucket, filename, opts)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, Error.Wrap(err)
	}
	if head == nil {
		info := toInfo(stat)
		return &Object{Body: body, Info: info, Length: info.Size}, nil
	}
	return &Object{Body: body, Info: *head, Length: rng.Length(head.Size)}, nil
}

// Put uploads an object.
func (s *MinioBackend) Put(ctx context.Context, filename string, reader io.Reader, size int64, opts PutOptions) error {
	_, err := s.client.PutObject(ctx, s.bucket, filename, reader, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
	})
	return Error.Wrap(err)
}

// Delete removes an object.
func (s *MinioBackend) Delete(ctx context.Context, filename string) error {
	return Error.Wrap(s.client.RemoveObject(ctx, s.bucket, filename, minio.RemoveObjectOptions{}))
}

// PresignPut returns a URL a client can PUT filename to until expiry.
func (s *MinioBackend) PresignPut(ctx context.Context, filename string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, filename, expiry)
	if err != nil {
		return "", Error.Wrap(err)
	}
	return u.String(), nil
}

var (
	_ Backend = (*MinioBackend)(nil)
	_ Signer  = (*MinioBackend)(nil)
)
