// Package gcs publishes snapshots to Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

// Config captures the bucket and optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// SnapshotWriter uploads latest.json and runs/<run id>.json to a bucket.
type SnapshotWriter struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed snapshot writer.
func New(client *storage.Client, cfg Config) (*SnapshotWriter, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &SnapshotWriter{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// WriteSnapshot implements scrape.SnapshotSink.
func (s *SnapshotWriter) WriteSnapshot(ctx context.Context, snapshot scrape.Snapshot, summary scrape.RunSummary) error {
	latest, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := s.PutObject(ctx, s.object("latest.json"), "application/json", bytes.NewReader(latest)); err != nil {
		return err
	}
	if summary.RunID == "" {
		return nil
	}
	record, err := json.Marshal(struct {
		Summary  scrape.RunSummary `json:"summary"`
		Snapshot scrape.Snapshot   `json:"snapshot"`
	}{summary, snapshot})
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	_, err = s.PutObject(ctx, s.object("runs", summary.RunID+".json"), "application/json", bytes.NewReader(record))
	return err
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (s *SnapshotWriter) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name is required")
	}
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	// The dashboard polls latest.json; never serve it stale from a CDN.
	writer.CacheControl = "no-cache, max-age=0"
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return "", fmt.Errorf("copy object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer for %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

func (s *SnapshotWriter) object(parts ...string) string {
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return path.Join(parts...)
}
