// Package local implements the filesystem archive backend. Intended for development
// and single-node deployments; multiple service instances would need a shared
// filesystem. Production deployments should use a cloud backend.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/finvest-platform/audit-service/internal/config"
	"github.com/finvest-platform/audit-service/internal/storage"
)

func init() {
	storage.Register("local", func(cfg *config.Config) (storage.Archive, error) {
		return New(&cfg.Archive.Local)
	})
}

// LocalArchive implements the Archive interface on the local filesystem.
type LocalArchive struct {
	basePath string
}

// New creates a filesystem archive rooted at the configured base path.
func New(cfg *config.LocalArchiveConfig) (*LocalArchive, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("archive base path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &LocalArchive{basePath: cfg.BasePath}, nil
}

// Store writes the export to disk, hashing the content as it streams through.
func (a *LocalArchive) Store(ctx context.Context, path string, reader io.Reader) (*storage.StoreResult, error) {
	fullPath := filepath.Join(a.basePath, filepath.FromSlash(path))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(file, hasher), reader)
	if err != nil {
		_ = os.Remove(fullPath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	return &storage.StoreResult{
		Path:     path,
		Size:     written,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open retrieves a stored export.
func (a *LocalArchive) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath := filepath.Join(a.basePath, filepath.FromSlash(path))

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("export not found: %s", path)
		}
		return nil, fmt.Errorf("failed to open export: %w", err)
	}

	return file, nil
}

// Exists reports whether an export is present at path.
func (a *LocalArchive) Exists(ctx context.Context, path string) (bool, error) {
	fullPath := filepath.Join(a.basePath, filepath.FromSlash(path))

	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat export: %w", err)
	}
	return true, nil
}

// Delete removes an export and prunes empty parent directories best-effort.
func (a *LocalArchive) Delete(ctx context.Context, path string) error {
	fullPath := filepath.Join(a.basePath, filepath.FromSlash(path))

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete export: %w", err)
	}

	dir := filepath.Dir(fullPath)
	for dir != a.basePath {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}
