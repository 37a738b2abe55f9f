package storage

import (
	"context"
	"strings"
)

// PrefixedStorage wraps an ObjectStorage and prepends a prefix to all
// object paths, so several deployments can share one bucket.
type PrefixedStorage struct {
	inner  ObjectStorage
	prefix string
}

// WithPrefix wraps inner. An empty prefix returns inner unchanged.
func WithPrefix(inner ObjectStorage, prefix string) ObjectStorage {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return inner
	}
	return &PrefixedStorage{inner: inner, prefix: prefix}
}

func (s *PrefixedStorage) key(objectPath string) string {
	return s.prefix + "/" + objectPath
}

func (s *PrefixedStorage) Upload(ctx context.Context, localPath, objectPath string, meta Metadata) error {
	return s.inner.Upload(ctx, localPath, s.key(objectPath), meta)
}

func (s *PrefixedStorage) Download(ctx context.Context, objectPath, localPath string) error {
	return s.inner.Download(ctx, s.key(objectPath), localPath)
}

func (s *PrefixedStorage) Delete(ctx context.Context, objectPath string) error {
	return s.inner.Delete(ctx, s.key(objectPath))
}

func (s *PrefixedStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	return s.inner.Exists(ctx, s.key(objectPath))
}

// ListObjects lists under the wrapped prefix and strips it from the results.
func (s *PrefixedStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	objects, err := s.inner.ListObjects(ctx, s.key(prefix))
	if err != nil {
		return nil, err
	}

	stripped := make([]string, len(objects))
	for i, obj := range objects {
		stripped[i] = strings.TrimPrefix(obj, s.prefix+"/")
	}
	return stripped, nil
}
