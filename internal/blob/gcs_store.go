package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore keeps bodies in a Google Cloud Storage bucket using application
// default credentials.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) Upload(ctx context.Context, data []byte) (Info, error) {
	sum, hash := digest(data)
	path := objectKey(s.prefix, hash)
	info := Info{URL: fmt.Sprintf("gs://%s/%s", s.bucket, path), Digest: sum}

	obj := s.client.Bucket(s.bucket).Object(path)
	if _, err := obj.Attrs(ctx); err == nil {
		return info, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return Info{}, fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return Info{}, fmt.Errorf("gcs close failed: %w", err)
	}
	return info, nil
}

func (s *GCSStore) Get(ctx context.Context, url string) ([]byte, error) {
	bucket, path, err := splitURL(url, "gs")
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Bucket(bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gcs get failed for %s: %w", url, err)
	}
	defer func() { _ = reader.Close() }()

	return io.ReadAll(reader)
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
