package database

import (
	"fmt"
	"path/filepath"

	"scoresync/internal/cloud"
	"scoresync/internal/config"
)

// StoreFileName is the SQLite file inside the configured data_dir.
const StoreFileName = "scoresync.db"

// NewStoreFromConfig creates a LocalStore implementation based on the database config type.
func NewStoreFromConfig(cfg config.DatabaseConfig, clock cloud.Clock) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, StoreFileName), clock)
	case "memory":
		return NewSQLiteStore(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
