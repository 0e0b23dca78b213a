package blob

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const uploadTimeout = 2 * time.Minute

// GCSStore writes objects to a Cloud Storage bucket.
type GCSStore struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

// NewGCSStore connects with application default credentials. An empty
// baseURL serves objects from storage.googleapis.com.
func NewGCSStore(ctx context.Context, bucket, baseURL string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (g *GCSStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	key = strings.TrimLeft(key, "/")
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close GCS writer: %w", err)
	}
	return g.PublicURL(key), nil
}

// PublicURL is the address an object is served from.
func (g *GCSStore) PublicURL(key string) string {
	key = strings.TrimLeft(key, "/")
	if g.baseURL != "" {
		return g.baseURL + "/" + key
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, key)
}

// Close releases the storage client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}
