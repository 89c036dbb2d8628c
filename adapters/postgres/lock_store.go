package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arkivo/saga/adapters"
)

// Ensure interface compliance at compile time
var (
	_ adapters.LockStore   = (*LockStore)(nil)
	_ adapters.Initializer = (*LockStore)(nil)
)

// LockStore provides a PostgreSQL implementation of adapters.LockStore.
// A lock is one row keyed by resource ID. Expired leases are treated as
// free: acquisition overwrites them instead of waiting for a reaper.
type LockStore struct {
	db     *sql.DB
	schema string
	table  string
}

// LockStoreOption configures a LockStore.
type LockStoreOption func(*LockStore)

// WithLockSchema sets the PostgreSQL schema for the lock table.
func WithLockSchema(schema string) LockStoreOption {
	return func(s *LockStore) {
		s.schema = schema
	}
}

// WithLockTable sets the table name for resource locks.
func WithLockTable(table string) LockStoreOption {
	return func(s *LockStore) {
		s.table = table
	}
}

// NewLockStore creates a new PostgreSQL LockStore.
func NewLockStore(db *sql.DB, opts ...LockStoreOption) *LockStore {
	s := &LockStore{
		db:     db,
		schema: "public",
		table:  "saga_locks",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// fullTableName returns the fully qualified and quoted table name.
func (s *LockStore) fullTableName() string {
	return quoteQualifiedTable(s.schema, s.table)
}

// Initialize creates the lock table if it doesn't exist.
func (s *LockStore) Initialize(ctx context.Context) error {
	// Validate schema and table names to prevent SQL injection
	if err := validateIdentifier(s.schema, "schema"); err != nil {
		return err
	}
	if err := validateIdentifier(s.table, "table"); err != nil {
		return err
	}

	tableQ := s.fullTableName()
	query := `
		CREATE TABLE IF NOT EXISTS ` + tableQ + ` (
			resource_id VARCHAR(255) PRIMARY KEY,
			holder_id VARCHAR(255) NOT NULL,
			acquired_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS ` + quoteIdentifier("idx_"+s.table+"_holder") + ` ON ` + tableQ + ` (holder_id);
		CREATE INDEX IF NOT EXISTS ` + quoteIdentifier("idx_"+s.table+"_expires_at") + ` ON ` + tableQ + ` (expires_at);
	`

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to create lock table: %w", err)
	}

	return nil
}

// AcquireAll acquires every resource in the batch for the holder or none of
// them, inside a single transaction. The caller passes resource IDs in a
// canonical sorted order, which keeps concurrent batch acquisitions from
// deadlocking against each other. Re-acquiring a resource already held by
// the same holder renews its lease.
func (s *LockStore) AcquireAll(ctx context.Context, holderID string, resourceIDs []string, lease time.Duration) error {
	if len(resourceIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	expiresAt := now.Add(lease)

	query := `
		INSERT INTO ` + s.fullTableName() + ` (resource_id, holder_id, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (resource_id) DO UPDATE SET
			holder_id = EXCLUDED.holder_id,
			acquired_at = CASE
				WHEN ` + s.fullTableName() + `.holder_id = EXCLUDED.holder_id THEN ` + s.fullTableName() + `.acquired_at
				ELSE EXCLUDED.acquired_at
			END,
			expires_at = EXCLUDED.expires_at
		WHERE ` + s.fullTableName() + `.holder_id = EXCLUDED.holder_id
			OR ` + s.fullTableName() + `.expires_at <= NOW()
	`

	for _, resourceID := range resourceIDs {
		res, err := tx.ExecContext(ctx, query, resourceID, holderID, now, expiresAt)
		if err != nil {
			return fmt.Errorf("saga/postgres: failed to acquire lock on %q: %w", resourceID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("saga/postgres: failed to read rows affected: %w", err)
		}
		if affected == 0 {
			// Held by someone else with a live lease. Abort the batch.
			var currentHolder string
			holderQuery := `SELECT holder_id FROM ` + s.fullTableName() + ` WHERE resource_id = $1`
			if err := tx.QueryRowContext(ctx, holderQuery, resourceID).Scan(&currentHolder); err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("saga/postgres: failed to read lock holder: %w", err)
			}
			return &adapters.LockHeldError{ResourceID: resourceID, HolderID: currentHolder}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("saga/postgres: failed to commit transaction: %w", err)
	}

	return nil
}

// Release removes the holder's locks on the given resources. Locks held by
// other holders are left alone.
func (s *LockStore) Release(ctx context.Context, holderID string, resourceIDs []string) error {
	if len(resourceIDs) == 0 {
		return nil
	}

	query := `DELETE FROM ` + s.fullTableName() + ` WHERE resource_id = $1 AND holder_id = $2`

	for _, resourceID := range resourceIDs {
		if _, err := s.db.ExecContext(ctx, query, resourceID, holderID); err != nil {
			return fmt.Errorf("saga/postgres: failed to release lock on %q: %w", resourceID, err)
		}
	}

	return nil
}

// Renew extends the lease on locks the holder currently holds. Fails with
// ErrLockNotHeld if any lock in the batch is missing, expired, or held by
// another holder.
func (s *LockStore) Renew(ctx context.Context, holderID string, resourceIDs []string, lease time.Duration) error {
	if len(resourceIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		UPDATE ` + s.fullTableName() + `
		SET expires_at = $1
		WHERE resource_id = $2 AND holder_id = $3 AND expires_at > NOW()
	`

	expiresAt := time.Now().Add(lease)
	for _, resourceID := range resourceIDs {
		res, err := tx.ExecContext(ctx, query, expiresAt, resourceID, holderID)
		if err != nil {
			return fmt.Errorf("saga/postgres: failed to renew lock on %q: %w", resourceID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("saga/postgres: failed to read rows affected: %w", err)
		}
		if affected == 0 {
			return ErrLockNotHeld
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("saga/postgres: failed to commit transaction: %w", err)
	}

	return nil
}

// Active returns all locks whose lease has not expired.
func (s *LockStore) Active(ctx context.Context) ([]adapters.ResourceLock, error) {
	query := `
		SELECT resource_id, holder_id, acquired_at, expires_at
		FROM ` + s.fullTableName() + `
		WHERE expires_at > NOW()
		ORDER BY resource_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("saga/postgres: failed to list active locks: %w", err)
	}
	defer rows.Close()

	var locks []adapters.ResourceLock
	for rows.Next() {
		var lock adapters.ResourceLock
		if err := rows.Scan(&lock.ResourceID, &lock.HolderID, &lock.AcquiredAt, &lock.ExpiresAt); err != nil {
			return nil, fmt.Errorf("saga/postgres: failed to scan lock: %w", err)
		}
		locks = append(locks, lock)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("saga/postgres: error iterating locks: %w", err)
	}

	return locks, nil
}

// Close releases the database connection.
func (s *LockStore) Close() error {
	return s.db.Close()
}
