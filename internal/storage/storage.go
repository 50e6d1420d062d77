// Package storage uploads and fetches report artifacts in Google Cloud Storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// Service stores report artifacts.
type Service interface {
	UploadBytes(ctx context.Context, bucket, object, contentType string, data []byte) (string, error)
	FetchFromGCS(ctx context.Context, uri string) ([]byte, error)
}

// GCS is a Service backed by one shared storage client.
type GCS struct {
	client *storage.Client
}

// NewGCS creates a client using Application Default Credentials.
func NewGCS(ctx context.Context) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCS: create storage client: %w", err)
	}
	return &GCS{client: client}, nil
}

// Close closes the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// UploadBytes writes data to bucket/object and returns its gs:// URI.
func (g *GCS) UploadBytes(ctx context.Context, bucket, object, contentType string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("UploadBytes: write %s/%s: %w", bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("UploadBytes: finalize %s/%s: %w", bucket, object, err)
	}
	return "gs://" + bucket + "/" + object, nil
}

// FetchFromGCS downloads the object at a gs:// URI.
func (g *GCS) FetchFromGCS(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: %w", err)
	}

	rc, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: reading bytes: %w", err)
	}
	return data, nil
}

// ParseGCSURI splits "gs://bucket/path/to/object" into bucket and object.
func ParseGCSURI(uri string) (string, string, error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// ExtractFilenameFromGCSURI returns the last path element of a GCS URI,
// e.g. "gs://bucket/folder/file.md" gives "file.md".
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// ReportObject is the object path of a report artifact:
// reports/<type>/<symbol>/<year>_<quarter>.<ext>.
func ReportObject(reportType, symbol string, fiscalYear int, quarter, ext string) string {
	if symbol == "" {
		symbol = "ALL"
	}
	symbol = strings.ReplaceAll(symbol, "/", "_")
	return fmt.Sprintf("reports/%s/%s/%d_%s.%s", reportType, symbol, fiscalYear, quarter, strings.TrimPrefix(ext, "."))
}

// ServiceFunc is a Service built from functions, for tests.
type ServiceFunc struct {
	UploadBytesFunc  func(ctx context.Context, bucket, object, contentType string, data []byte) (string, error)
	FetchFromGCSFunc func(ctx context.Context, uri string) ([]byte, error)
}

// UploadBytes implements Service.
func (s *ServiceFunc) UploadBytes(ctx context.Context, bucket, object, contentType string, data []byte) (string, error) {
	if s.UploadBytesFunc == nil {
		return "gs://" + bucket + "/" + object, nil
	}
	return s.UploadBytesFunc(ctx, bucket, object, contentType, data)
}

// FetchFromGCS implements Service.
func (s *ServiceFunc) FetchFromGCS(ctx context.Context, uri string) ([]byte, error) {
	if s.FetchFromGCSFunc == nil {
		return nil, fmt.Errorf("FetchFromGCS: not found: %s", uri)
	}
	return s.FetchFromGCSFunc(ctx, uri)
}
