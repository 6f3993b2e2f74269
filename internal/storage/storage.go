// Package storage defines the Archive interface and common types for the backends
// that hold exported reports and purged-log archives.
//
// New backends are added by implementing the Archive interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (Archive, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init(), so
// adding a backend requires no changes to the factory or main package beyond the
// blank import.
package storage

import (
	"context"
	"io"
)

// Archive is the write-mostly store for report exports. Exports are immutable once
// written; Delete exists only for retention housekeeping.
type Archive interface {
	// Store writes the content at path and returns the stored size and SHA-256
	// checksum so callers can record integrity metadata alongside the export.
	Store(ctx context.Context, path string, reader io.Reader) (*StoreResult, error)

	// Open retrieves a previously stored export.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists reports whether an export is present at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes an export. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error
}

// StoreResult describes a completed export write.
type StoreResult struct {
	// Path is the backend path the export was written to.
	Path string

	// Size is the stored size in bytes.
	Size int64

	// Checksum is the SHA-256 hash of the stored content, hex encoded.
	Checksum string
}
