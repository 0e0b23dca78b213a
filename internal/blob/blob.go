// Package blob stores chat transcripts and other uploaded files, either
// on local disk or in a Google Cloud Storage bucket.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// Store writes an object and returns the URL it can be fetched from.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
}

// ChatHistoryKey is the object key of a saved chat transcript:
// chat-histories/<sanitized email>/<sanitized case>_<timestamp>.txt.
func ChatHistoryKey(email, caseName string, ts time.Time) string {
	stamp := strings.ReplaceAll(ts.UTC().Format("2006-01-02T15:04:05.000Z07:00"), ":", "_")
	return fmt.Sprintf("chat-histories/%s/%s_%s.txt", sanitizeEmail(email), sanitizeName(caseName), stamp)
}

func sanitizeEmail(email string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(email) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// sanitizeName keeps letters, digits, '-' and '_' so a name stays one
// path segment.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// DirStore keeps objects under a local directory and serves them from
// baseURL.
type DirStore struct {
	root    string
	baseURL string
}

// NewDirStore creates root if needed.
func NewDirStore(root, baseURL string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &DirStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (d *DirStore) Put(ctx context.Context, key string, r io.Reader, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key = strings.TrimLeft(key, "/")
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("put blob: invalid key %q", key)
	}
	path := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("put blob %s: %w", key, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("put blob %s: %w", key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write blob %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close blob %s: %w", key, err)
	}
	return d.baseURL + "/" + key, nil
}
