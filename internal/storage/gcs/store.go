// Package gcs uploads the published report to Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/statuswatch/internal/publisher"
)

// Config captures the bucket and object the report is written to.
type Config struct {
	Bucket string
	Object string
}

// Store overwrites one object per publish.
type Store struct {
	client *storage.Client
	bucket string
	object string
}

// New creates a GCS-backed report store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(cfg.Object) == "" {
		cfg.Object = "status.json"
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		object: cfg.Object,
	}, nil
}

// Name identifies the sink.
func (s *Store) Name() string {
	return "gcs"
}

// URI returns the gs:// location of the report.
func (s *Store) URI() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

// Publish uploads body with caching disabled so readers always get the
// latest cycle.
func (s *Store) Publish(ctx context.Context, _ publisher.Report, body []byte) error {
	writer := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-cache, no-store, must-revalidate"
	if _, err := io.Copy(writer, bytes.NewReader(body)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Close releases the storage client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
