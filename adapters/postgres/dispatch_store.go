package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arkivo/saga/adapters"
)

// Ensure interface compliance at compile time
var (
	_ adapters.DispatchStore = (*DispatchStore)(nil)
	_ adapters.Initializer   = (*DispatchStore)(nil)
)

// DispatchStore provides a PostgreSQL implementation of
// adapters.DispatchStore.
type DispatchStore struct {
	db     *sql.DB
	schema string
	table  string
}

// DispatchStoreOption configures a DispatchStore.
type DispatchStoreOption func(*DispatchStore)

// WithDispatchSchema sets the PostgreSQL schema for the dispatch table.
func WithDispatchSchema(schema string) DispatchStoreOption {
	return func(s *DispatchStore) {
		s.schema = schema
	}
}

// WithDispatchTable sets the table name for dispatch messages.
func WithDispatchTable(table string) DispatchStoreOption {
	return func(s *DispatchStore) {
		s.table = table
	}
}

// NewDispatchStore creates a new PostgreSQL DispatchStore.
func NewDispatchStore(db *sql.DB, opts ...DispatchStoreOption) *DispatchStore {
	s := &DispatchStore{
		db:     db,
		schema: "public",
		table:  "saga_dispatch",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// fullTableName returns the fully qualified and quoted table name.
func (s *DispatchStore) fullTableName() string {
	return quoteQualifiedTable(s.schema, s.table)
}

// Initialize creates the dispatch table if it doesn't exist.
func (s *DispatchStore) Initialize(ctx context.Context) error {
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
			id VARCHAR(255) PRIMARY KEY,
			saga_id VARCHAR(255) NOT NULL,
			step_name VARCHAR(255) NOT NULL,
			destination VARCHAR(500) NOT NULL,
			payload BYTEA,
			status INT NOT NULL DEFAULT 0,
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS ` + quoteIdentifier("idx_"+s.table+"_pending") + ` ON ` + tableQ + ` (next_attempt_at) WHERE status = 0;
		CREATE INDEX IF NOT EXISTS ` + quoteIdentifier("idx_"+s.table+"_saga_id") + ` ON ` + tableQ + ` (saga_id);
	`

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to create dispatch table: %w", err)
	}

	return nil
}

// Enqueue adds a message to the queue.
func (s *DispatchStore) Enqueue(ctx context.Context, message *adapters.DispatchMessage) error {
	if message == nil || message.ID == "" {
		return adapters.ErrEmptySagaID
	}

	query := `
		INSERT INTO ` + s.fullTableName() + ` (
			id, saga_id, step_name, destination, payload,
			status, attempts, last_error, next_attempt_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.ExecContext(ctx, query,
		message.ID,
		message.SagaID,
		message.StepName,
		message.Destination,
		message.Payload,
		int(message.Status),
		message.Attempts,
		nullString(message.LastError),
		message.NextAttemptAt,
		message.CreatedAt,
		message.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to enqueue dispatch message: %w", err)
	}

	return nil
}

// claimWindow is how long a fetched message stays invisible to other
// dispatchers. A crash mid-delivery makes the message due again after the
// window elapses.
const claimWindow = time.Minute

// FetchPending atomically claims up to limit pending messages due at or
// before now, oldest first. Claiming pushes next_attempt_at forward by the
// claim window so concurrent dispatchers do not fetch the same batch.
func (s *DispatchStore) FetchPending(ctx context.Context, limit int, now time.Time) ([]*adapters.DispatchMessage, error) {
	tableQ := s.fullTableName()
	query := `
		UPDATE ` + tableQ + ` SET
			next_attempt_at = $1,
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM ` + tableQ + `
			WHERE status = $2 AND next_attempt_at <= $3
			ORDER BY created_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, saga_id, step_name, destination, payload,
			status, attempts, last_error, next_attempt_at, created_at, updated_at
	`

	rows, err := s.db.QueryContext(ctx, query, now.Add(claimWindow), int(adapters.DispatchPending), now, limit)
	if err != nil {
		return nil, fmt.Errorf("saga/postgres: failed to fetch pending messages: %w", err)
	}
	defer rows.Close()

	var messages []*adapters.DispatchMessage
	for rows.Next() {
		var message adapters.DispatchMessage
		var status int
		var lastError sql.NullString

		err := rows.Scan(
			&message.ID,
			&message.SagaID,
			&message.StepName,
			&message.Destination,
			&message.Payload,
			&status,
			&message.Attempts,
			&lastError,
			&message.NextAttemptAt,
			&message.CreatedAt,
			&message.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("saga/postgres: failed to scan dispatch message: %w", err)
		}

		message.Status = adapters.DispatchStatus(status)
		message.LastError = lastError.String
		messages = append(messages, &message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("saga/postgres: error iterating dispatch messages: %w", err)
	}

	return messages, nil
}

// MarkDelivered marks a message as delivered.
func (s *DispatchStore) MarkDelivered(ctx context.Context, id string) error {
	query := `
		UPDATE ` + s.fullTableName() + `
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`

	return s.exec(ctx, query, int(adapters.DispatchDelivered), id)
}

// MarkFailed records a failed delivery attempt and schedules the next one.
func (s *DispatchStore) MarkFailed(ctx context.Context, id string, attempts int, lastError string, nextAttempt time.Time) error {
	query := `
		UPDATE ` + s.fullTableName() + `
		SET attempts = $1, last_error = $2, next_attempt_at = $3, updated_at = NOW()
		WHERE id = $4
	`

	return s.exec(ctx, query, attempts, nullString(lastError), nextAttempt, id)
}

// MarkDead parks a message in the dead letter state.
func (s *DispatchStore) MarkDead(ctx context.Context, id string, lastError string) error {
	query := `
		UPDATE ` + s.fullTableName() + `
		SET status = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3
	`

	return s.exec(ctx, query, int(adapters.DispatchDead), nullString(lastError), id)
}

// Cleanup removes delivered messages older than the given age and returns
// the number removed.
func (s *DispatchStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM ` + s.fullTableName() + `
		WHERE status = $1 AND updated_at < $2
	`

	res, err := s.db.ExecContext(ctx, query, int(adapters.DispatchDelivered), time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("saga/postgres: failed to cleanup dispatch messages: %w", err)
	}

	return res.RowsAffected()
}

// Close releases the database connection.
func (s *DispatchStore) Close() error {
	return s.db.Close()
}

// exec runs an update that must touch exactly one message.
func (s *DispatchStore) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to update dispatch message: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrMessageNotFound
	}

	return nil
}
