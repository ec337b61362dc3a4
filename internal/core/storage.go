package core

import (
	"context"
	"fmt"

	"herbtrace/internal/config"
	"herbtrace/internal/infra/persistence/memory"
	"herbtrace/internal/infra/persistence/postgres"
	"herbtrace/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore opens the backend selected by cfg. The returned closer
// releases database handles and is never nil.
func OpenPersistentStore(ctx context.Context, cfg config.StorageConfig, engine *RulesEngine) (PersistentStore, func() error, error) {
	noop := func() error { return nil }
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageMemory
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), noop, nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, engine)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, store.Close, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, engine)
		if err != nil {
			return nil, noop, fmt.Errorf("open postgres store: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage driver %s", driver)
	}
}
