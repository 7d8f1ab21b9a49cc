package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCS stores objects in a Google Cloud Storage bucket
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// NewGCS creates a client using application default credentials
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCS{client: client, bucket: client.Bucket(bucket), name: bucket}, nil
}

// Save writes data only if no object exists at path
func (g *GCS) Save(ctx context.Context, path string, data []byte, contentType string) error {
	key, err := cleanKey(path)
	if err != nil {
		return err
	}

	w := g.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return g.writeError(path, err)
	}
	if err := w.Close(); err != nil {
		return g.writeError(path, err)
	}
	return nil
}

func (g *GCS) writeError(path string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("%s: %w", path, ErrExists)
	}
	return fmt.Errorf("writing object: %w", err)
}

// Get reads the object at path
func (g *GCS) Get(ctx context.Context, path string) ([]byte, error) {
	key, err := cleanKey(path)
	if err != nil {
		return nil, err
	}
	r, err := g.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening object: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	return data, nil
}

// Delete removes the object at path
func (g *GCS) Delete(ctx context.Context, path string) error {
	key, err := cleanKey(path)
	if err != nil {
		return err
	}
	if err := g.bucket.Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

// PublicURL returns the storage.googleapis.com address of path
func (g *GCS) PublicURL(path string) string {
	return joinURL("https://storage.googleapis.com/"+g.name, path)
}

// Close releases the underlying client
func (g *GCS) Close() error {
	return g.client.Close()
}
