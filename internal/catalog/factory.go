// Package catalog provides the persistence backends behind snap.Catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"srcsnap/internal/config"
	"srcsnap/internal/snap"
)

var errDuplicateID = errors.New("snapshot id already exists")

func missingAncestor(id string) error {
	return fmt.Errorf("referenced snapshot %s does not exist", id)
}

// DatabaseFile is the SQLite catalog file name inside the data directory.
const DatabaseFile = "catalog.db"

// NewCatalogStoreFromConfig creates a CatalogStore based on the catalog config type.
func NewCatalogStoreFromConfig(ctx context.Context, cfg config.CatalogConfig, logger snap.Logger) (snap.CatalogStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite catalog")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, DatabaseFile), logger)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres_dsn required for postgres catalog")
		}
		return NewPostgresStore(ctx, cfg.PostgresDSN, logger)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown catalog type: %s", cfg.Type)
	}
}
