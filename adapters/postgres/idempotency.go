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
	_ adapters.IdempotencyStore = (*IdempotencyStore)(nil)
	_ adapters.Initializer      = (*IdempotencyStore)(nil)
)

// IdempotencyStore provides a PostgreSQL implementation of
// adapters.IdempotencyStore.
type IdempotencyStore struct {
	db     *sql.DB
	schema string
	table  string
}

// IdempotencyStoreOption configures an IdempotencyStore.
type IdempotencyStoreOption func(*IdempotencyStore)

// WithIdempotencySchema sets the PostgreSQL schema for the idempotency table.
func WithIdempotencySchema(schema string) IdempotencyStoreOption {
	return func(s *IdempotencyStore) {
		s.schema = schema
	}
}

// WithIdempotencyTable sets the table name for idempotency records.
func WithIdempotencyTable(table string) IdempotencyStoreOption {
	return func(s *IdempotencyStore) {
		s.table = table
	}
}

// NewIdempotencyStore creates a new PostgreSQL IdempotencyStore.
func NewIdempotencyStore(db *sql.DB, opts ...IdempotencyStoreOption) *IdempotencyStore {
	s := &IdempotencyStore{
		db:     db,
		schema: "public",
		table:  "saga_idempotency",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// fullTableName returns the fully qualified and quoted table name.
func (s *IdempotencyStore) fullTableName() string {
	return quoteQualifiedTable(s.schema, s.table)
}

// Initialize creates the idempotency table if it doesn't exist.
func (s *IdempotencyStore) Initialize(ctx context.Context) error {
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
			key VARCHAR(255) PRIMARY KEY,
			saga_id VARCHAR(255) NOT NULL,
			saga_type VARCHAR(255) NOT NULL,
			result BYTEA,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS ` + quoteIdentifier("idx_"+s.table+"_expires_at") + ` ON ` + tableQ + ` (expires_at);
	`

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to create idempotency table: %w", err)
	}

	return nil
}

// Get retrieves a record by key. Returns nil without error when the key is
// absent or the record has expired.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*adapters.IdempotencyRecord, error) {
	if key == "" {
		return nil, adapters.ErrEmptySagaID
	}

	query := `
		SELECT key, saga_id, saga_type, result, created_at, expires_at
		FROM ` + s.fullTableName() + `
		WHERE key = $1 AND expires_at > NOW()
	`

	var record adapters.IdempotencyRecord
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&record.Key,
		&record.SagaID,
		&record.SagaType,
		&record.Result,
		&record.CreatedAt,
		&record.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("saga/postgres: failed to get idempotency record: %w", err)
	}

	return &record, nil
}

// Store saves a record, replacing any previous record under the same key.
func (s *IdempotencyStore) Store(ctx context.Context, record *adapters.IdempotencyRecord) error {
	if record == nil || record.Key == "" {
		return adapters.ErrEmptySagaID
	}

	query := `
		INSERT INTO ` + s.fullTableName() + ` (key, saga_id, saga_type, result, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			saga_id = EXCLUDED.saga_id,
			saga_type = EXCLUDED.saga_type,
			result = EXCLUDED.result,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`

	_, err := s.db.ExecContext(ctx, query,
		record.Key,
		record.SagaID,
		record.SagaType,
		record.Result,
		record.CreatedAt,
		record.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to store idempotency record: %w", err)
	}

	return nil
}

// Delete removes a record by key. Removing a missing key is not an error.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return adapters.ErrEmptySagaID
	}

	query := `DELETE FROM ` + s.fullTableName() + ` WHERE key = $1`
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("saga/postgres: failed to delete idempotency record: %w", err)
	}

	return nil
}

// Cleanup removes records that expired at least olderThan ago and returns
// the number removed.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `DELETE FROM ` + s.fullTableName() + ` WHERE expires_at < $1`

	res, err := s.db.ExecContext(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("saga/postgres: failed to cleanup idempotency records: %w", err)
	}

	return res.RowsAffected()
}

// Close releases the database connection.
func (s *IdempotencyStore) Close() error {
	return s.db.Close()
}
