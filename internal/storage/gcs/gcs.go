// Package gcs implements the Google Cloud Storage archive backend. Credentials come
// from a configured service-account key file or Application Default Credentials
// (GOOGLE_APPLICATION_CREDENTIALS, GCE/GKE metadata service, gcloud auth).
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/finvest-platform/audit-service/internal/config"
	"github.com/finvest-platform/audit-service/internal/storage"
	"github.com/finvest-platform/audit-service/pkg/checksum"
)

func init() {
	storage.Register("gcs", func(cfg *config.Config) (storage.Archive, error) {
		return New(&cfg.Archive.GCS)
	})
}

// GCSArchive implements the Archive interface over a GCS bucket.
type GCSArchive struct {
	client *gcstorage.Client
	bucket string
}

// New creates a GCS archive backend.
func New(cfg *config.GCSArchiveConfig) (*GCSArchive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := gcstorage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSArchive{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Close closes the underlying GCS client.
func (a *GCSArchive) Close() error {
	return a.client.Close()
}

// Store writes the export to the bucket.
func (a *GCSArchive) Store(ctx context.Context, path string, reader io.Reader) (*storage.StoreResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}

	sum, err := checksum.CalculateSHA256(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	w := a.client.Bucket(a.bucket).Object(path).NewWriter(ctx)
	w.Metadata = map[string]string{"sha256": sum}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize GCS upload: %w", err)
	}

	return &storage.StoreResult{
		Path:     path,
		Size:     int64(len(data)),
		Checksum: sum,
	}, nil
}

// Open retrieves a stored export.
func (a *GCSArchive) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := a.client.Bucket(a.bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil, fmt.Errorf("export not found: %s", path)
		}
		return nil, fmt.Errorf("failed to download from GCS: %w", err)
	}
	return r, nil
}

// Exists reports whether an object is present at path.
func (a *GCSArchive) Exists(ctx context.Context, path string) (bool, error) {
	_, err := a.client.Bucket(a.bucket).Object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

// Delete removes an object. A missing object is not an error.
func (a *GCSArchive) Delete(ctx context.Context, path string) error {
	if err := a.client.Bucket(a.bucket).Object(path).Delete(ctx); err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}
