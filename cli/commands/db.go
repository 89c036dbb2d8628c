package commands

import (
	"database/sql"
	"fmt"

	"github.com/arkivo/saga/adapters/postgres"
	"github.com/arkivo/saga/cli/config"
)

// loadConfig reads the config file named by path, falling back to the
// default location when path is empty.
func loadConfig(path *string) (*config.Config, error) {
	if path != nil && *path != "" {
		return config.LoadFile(*path)
	}
	return config.Load()
}

// openDB connects to the configured database.
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := postgres.Open(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

func newStateStore(db *sql.DB, cfg *config.Config) *postgres.StateStore {
	return postgres.NewStateStore(db,
		postgres.WithStateSchema(cfg.Database.Schema),
		postgres.WithStateTable(cfg.Tables.Executions),
	)
}

func newLockStore(db *sql.DB, cfg *config.Config) *postgres.LockStore {
	return postgres.NewLockStore(db,
		postgres.WithLockSchema(cfg.Database.Schema),
		postgres.WithLockTable(cfg.Tables.Locks),
	)
}

func newIdempotencyStore(db *sql.DB, cfg *config.Config) *postgres.IdempotencyStore {
	return postgres.NewIdempotencyStore(db,
		postgres.WithIdempotencySchema(cfg.Database.Schema),
		postgres.WithIdempotencyTable(cfg.Tables.Idempotency),
	)
}

func newDispatchStore(db *sql.DB, cfg *config.Config) *postgres.DispatchStore {
	return postgres.NewDispatchStore(db,
		postgres.WithDispatchSchema(cfg.Database.Schema),
		postgres.WithDispatchTable(cfg.Tables.Dispatch),
	)
}
