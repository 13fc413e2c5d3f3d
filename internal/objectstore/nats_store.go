// Package objectstore archives timeline files and source recordings in NATS
// JetStream object store buckets.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	errFmtGetObject   = "failed to get object '%s' from bucket '%s': %w"
	errFmtPutObject   = "failed to put object '%s' to bucket '%s': %w"
	errFmtReadObject  = "failed to read object '%s': %w"
	errFmtCloseObject = "failed to close object '%s': %w"
)

// NatsObjectStore implements the core.ObjectStore interface using NATS JetStream.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New binds to bucketName, creating it on first use.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Timeline storage for the %s bucket.", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{bucket: bucketName, store: store}, nil
}

// Bucket returns the bucket name.
func (n *NatsObjectStore) Bucket() string {
	return n.bucket
}

// Download retrieves an object from the bucket.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf(errFmtGetObject, key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf(errFmtReadObject, key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf(errFmtCloseObject, key, closeErr)
	}

	return data, nil
}

// Upload saves an object to the bucket, replacing any previous version.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	return n.put(ctx, key, bytes.NewReader(data))
}

// UploadFile streams the file at path into the bucket under key.
func (n *NatsObjectStore) UploadFile(ctx context.Context, key, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open '%s' for upload: %w", path, err)
	}
	defer file.Close()

	return n.put(ctx, key, file)
}

// DownloadFile writes the object stored under key to path. The file appears
// under its final name only once it is complete.
func (n *NatsObjectStore) DownloadFile(ctx context.Context, key, path string) error {
	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf(errFmtGetObject, key, n.bucket, err)
	}
	defer obj.Close()

	partial := path + ".part"

	file, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", partial, err)
	}

	_, copyErr := io.Copy(file, obj)
	closeErr := file.Close()

	if copyErr == nil {
		copyErr = closeErr
	}

	if copyErr != nil {
		_ = os.Remove(partial)

		return fmt.Errorf(errFmtReadObject, key, copyErr)
	}

	renameErr := os.Rename(partial, path)
	if renameErr != nil {
		_ = os.Remove(partial)

		return fmt.Errorf("failed to move '%s' into place: %w", path, renameErr)
	}

	return nil
}

// Delete removes the object stored under key.
func (n *NatsObjectStore) Delete(key string) error {
	err := n.store.Delete(key)
	if err != nil {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// Keys lists the names of the objects in the bucket.
func (n *NatsObjectStore) Keys(ctx context.Context) ([]string, error) {
	infos, err := n.store.List(nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrNoObjectsFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list bucket '%s': %w", n.bucket, err)
	}

	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Name)
	}

	return keys, nil
}

func (n *NatsObjectStore) put(ctx context.Context, key string, reader io.Reader) error {
	_, err := n.store.Put(&nats.ObjectMeta{Name: key}, reader, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf(errFmtPutObject, key, n.bucket, err)
	}

	return nil
}
