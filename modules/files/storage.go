package files

import (
	"context"
	"errors"
	"fmt"
	"time"

	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"
)

// ErrObjectNotFound is returned by an ObjectStore for unknown keys.
var ErrObjectNotFound = errors.New("object not found")

// Object describes a stored object.
type Object struct {
	Key         string
	Size        int64
	ContentType string
	Digest      string
	ModTime     time.Time
}

// ObjectStore is the durable blob storage behind uploads.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, headers map[string]string) (*Object, error)
	Get(ctx context.Context, key string) ([]byte, *Object, error)
	Delete(ctx context.Context, key string) error
}

// bucketStore adapts an fs-jetstream bucket to ObjectStore.
type bucketStore struct {
	bucket fsjetstream.FileStoragePort
}

// NewBucketStore wraps an fs-jetstream bucket.
func NewBucketStore(bucket fsjetstream.FileStoragePort) ObjectStore {
	return &bucketStore{bucket: bucket}
}

func objectFrom(info *fsjetstream.ObjectInfo) *Object {
	ct := info.Headers["Content-Type"]
	if ct == "" {
		ct = defaultContentType
	}
	return &Object{
		Key:         info.Name,
		Size:        int64(info.Size),
		ContentType: ct,
		Digest:      info.Digest,
		ModTime:     info.ModTime,
	}
}

func (s *bucketStore) Put(ctx context.Context, key string, data []byte, headers map[string]string) (*Object, error) {
	info, err := s.bucket.Put(ctx, key, data,
		fsjetstream.WithDescription(fmt.Sprintf("Upload: %s", key)),
		fsjetstream.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store object: %w", err)
	}
	obj := objectFrom(info)
	if obj.ContentType == defaultContentType && headers["Content-Type"] != "" {
		obj.ContentType = headers["Content-Type"]
	}
	return obj, nil
}

// find resolves key through a prefix listing so a missing object is
// distinguishable from a storage failure.
func (s *bucketStore) find(key string) (*fsjetstream.ObjectInfo, error) {
	infos, err := s.bucket.List(fsjetstream.WithPrefix(key))
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	for i := range infos {
		if infos[i].Name == key {
			return &infos[i], nil
		}
	}
	return nil, ErrObjectNotFound
}

func (s *bucketStore) Get(_ context.Context, key string) ([]byte, *Object, error) {
	info, err := s.find(key)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.bucket.Get(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get object: %w", err)
	}
	return data, objectFrom(info), nil
}

func (s *bucketStore) Delete(_ context.Context, key string) error {
	if _, err := s.find(key); err != nil {
		return err
	}
	if err := s.bucket.Delete(key); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
