// factory.go implements the archive backend registry and factory, mapping backend type
// strings (local, s3, azure, gcs) to constructor functions.
package storage

import (
	"fmt"

	"github.com/finvest-platform/audit-service/internal/config"
)

// FactoryFunc constructs an archive backend from the service configuration.
type FactoryFunc func(*config.Config) (Archive, error)

var factories = make(map[string]FactoryFunc)

// Register registers an archive backend factory under a backend type name.
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// NewArchive creates the archive backend selected by configuration.
func NewArchive(cfg *config.Config) (Archive, error) {
	factory, ok := factories[cfg.Archive.DefaultBackend]
	if !ok {
		return nil, fmt.Errorf("unsupported archive backend: %s (must be 'local', 's3', 'azure', or 'gcs')", cfg.Archive.DefaultBackend)
	}

	return factory(cfg)
}
