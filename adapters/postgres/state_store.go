package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arkivo/saga/adapters"
)

// Ensure interface compliance at compile time
var (
	_ adapters.StateStore  = (*StateStore)(nil)
	_ adapters.Initializer = (*StateStore)(nil)
)

// StateStore provides a PostgreSQL implementation of adapters.StateStore.
// Executions live in one table; step records live in a companion table keyed
// by (saga_id, step_name, attempt) so that a re-dispatched step gets its own
// row while an outcome write overwrites the pending row of the same attempt.
type StateStore struct {
	db     *sql.DB
	schema string
	table  string
}

// StateStoreOption configures a StateStore.
type StateStoreOption func(*StateStore)

// WithStateSchema sets the PostgreSQL schema for the execution tables.
func WithStateSchema(schema string) StateStoreOption {
	return func(s *StateStore) {
		s.schema = schema
	}
}

// WithStateTable sets the table name for executions. Step records are kept
// in "<table>_steps".
func WithStateTable(table string) StateStoreOption {
	return func(s *StateStore) {
		s.table = table
	}
}

// NewStateStore creates a new PostgreSQL StateStore.
func NewStateStore(db *sql.DB, opts ...StateStoreOption) *StateStore {
	s := &StateStore{
		db:     db,
		schema: "public",
		table:  "saga_executions",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// fullTableName returns the fully qualified and quoted executions table name.
func (s *StateStore) fullTableName() string {
	return quoteQualifiedTable(s.schema, s.table)
}

// stepsTableName returns the fully qualified and quoted step records table name.
func (s *StateStore) stepsTableName() string {
	return quoteQualifiedTable(s.schema, s.table+"_steps")
}

// Initialize creates the execution tables if they don't exist.
func (s *StateStore) Initialize(ctx context.Context) error {
	// Validate schema and table names to prevent SQL injection
	if err := validateIdentifier(s.schema, "schema"); err != nil {
		return err
	}
	if err := validateIdentifier(s.table, "table"); err != nil {
		return err
	}

	tableQ := s.fullTableName()
	stepsQ := s.stepsTableName()
	query := `
		CREATE TABLE IF NOT EXISTS ` + tableQ + ` (
			id VARCHAR(255) PRIMARY KEY,
			type VARCHAR(255) NOT NULL,
			status INT NOT NULL DEFAULT 0,
			current_step INT NOT NULL DEFAULT 0,
			context JSONB,
			idempotency_key VARCHAR(255),
			resource_ids JSONB,
			failure_reason TEXT,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS ` + stepsQ + ` (
			saga_id VARCHAR(255) NOT NULL REFERENCES ` + tableQ + ` (id) ON DELETE CASCADE,
			step_name VARCHAR(255) NOT NULL,
			classification VARCHAR(32) NOT NULL,
			status INT NOT NULL DEFAULT 0,
			attempt INT NOT NULL DEFAULT 1,
			output JSONB,
			error TEXT,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ,
			PRIMARY KEY (saga_id, step_name, attempt)
		);

		CREATE INDEX IF NOT EXISTS ` + quoteIdentifier("idx_"+s.table+"_type") + ` ON ` + tableQ + ` (type);
		CREATE INDEX IF NOT EXISTS ` + quoteIdentifier("idx_"+s.table+"_non_terminal") + ` ON ` + tableQ + ` (updated_at) WHERE status IN (0, 1, 3);
		CREATE INDEX IF NOT EXISTS ` + quoteIdentifier("idx_"+s.table+"_idempotency_key") + ` ON ` + tableQ + ` (idempotency_key) WHERE idempotency_key IS NOT NULL;
	`

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to create execution tables: %w", err)
	}

	return nil
}

// Create persists a new execution. Fails with ErrExecutionExists if the ID
// is already taken.
func (s *StateStore) Create(ctx context.Context, execution *adapters.Execution) error {
	if execution == nil {
		return adapters.ErrNilExecution
	}
	if execution.ID == "" {
		return adapters.ErrEmptySagaID
	}

	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to marshal context: %w", err)
	}
	resourcesJSON, err := json.Marshal(execution.ResourceIDs)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to marshal resource ids: %w", err)
	}

	query := `
		INSERT INTO ` + s.fullTableName() + ` (
			id, type, status, current_step, context,
			idempotency_key, resource_ids, failure_reason,
			started_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		ON CONFLICT (id) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query,
		execution.ID,
		execution.Type,
		int(execution.Status),
		execution.CurrentStep,
		contextJSON,
		nullString(execution.IdempotencyKey),
		resourcesJSON,
		nullString(execution.FailureReason),
		execution.StartedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to create execution: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrExecutionExists
	}

	execution.Version = 1
	return nil
}

// Get retrieves an execution by ID, including all of its step records.
func (s *StateStore) Get(ctx context.Context, sagaID string) (*adapters.Execution, error) {
	if sagaID == "" {
		return nil, adapters.ErrEmptySagaID
	}

	query := `
		SELECT id, type, status, current_step, context,
			idempotency_key, resource_ids, failure_reason,
			started_at, updated_at, completed_at, version
		FROM ` + s.fullTableName() + `
		WHERE id = $1
	`

	execution, err := s.scanExecution(s.db.QueryRowContext(ctx, query, sagaID))
	if err != nil {
		if errors.Is(err, adapters.ErrExecutionNotFound) {
			return nil, &adapters.ExecutionNotFoundError{SagaID: sagaID}
		}
		return nil, err
	}

	if err := s.loadSteps(ctx, execution); err != nil {
		return nil, err
	}

	return execution, nil
}

// GetByIdempotencyKey returns the most recent execution created with the
// given key, or nil if none exists. Served by the partial index on
// idempotency_key.
func (s *StateStore) GetByIdempotencyKey(ctx context.Context, key string) (*adapters.Execution, error) {
	if key == "" {
		return nil, nil
	}

	query := `
		SELECT id, type, status, current_step, context,
			idempotency_key, resource_ids, failure_reason,
			started_at, updated_at, completed_at, version
		FROM ` + s.fullTableName() + `
		WHERE idempotency_key = $1
		ORDER BY started_at DESC
		LIMIT 1
	`

	execution, err := s.scanExecution(s.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, adapters.ErrExecutionNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if err := s.loadSteps(ctx, execution); err != nil {
		return nil, err
	}

	return execution, nil
}

// AppendStepRecord atomically upserts a step record, advances the current
// step index, and replaces the saga context in one transaction.
func (s *StateStore) AppendStepRecord(ctx context.Context, sagaID string, record adapters.StepRecord, currentStep int, sagaContext map[string]interface{}) error {
	if sagaID == "" {
		return adapters.ErrEmptySagaID
	}

	contextJSON, err := json.Marshal(sagaContext)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to marshal context: %w", err)
	}
	outputJSON, err := json.Marshal(record.Output)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to marshal step output: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	updateQuery := `
		UPDATE ` + s.fullTableName() + `
		SET current_step = $1, context = $2, updated_at = NOW(), version = version + 1
		WHERE id = $3
	`
	res, err := tx.ExecContext(ctx, updateQuery, currentStep, contextJSON, sagaID)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to update execution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return &adapters.ExecutionNotFoundError{SagaID: sagaID}
	}

	stepQuery := `
		INSERT INTO ` + s.stepsTableName() + ` (
			saga_id, step_name, classification, status, attempt,
			output, error, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (saga_id, step_name, attempt) DO UPDATE SET
			status = EXCLUDED.status,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at
	`
	_, err = tx.ExecContext(ctx, stepQuery,
		sagaID,
		record.Name,
		string(record.Classification),
		int(record.Status),
		record.Attempt,
		outputJSON,
		nullString(record.Error),
		record.StartedAt,
		nullTime(record.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to upsert step record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("saga/postgres: failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateStatus transitions an execution's status. Terminal statuses also
// set the completion timestamp.
func (s *StateStore) UpdateStatus(ctx context.Context, sagaID string, status adapters.Status, failureReason string) error {
	if sagaID == "" {
		return adapters.ErrEmptySagaID
	}

	query := `
		UPDATE ` + s.fullTableName() + `
		SET status = $1, failure_reason = $2, updated_at = NOW(),
			completed_at = CASE WHEN $3 THEN NOW() ELSE completed_at END,
			version = version + 1
		WHERE id = $4
	`

	res, err := s.db.ExecContext(ctx, query,
		int(status),
		nullString(failureReason),
		status.IsTerminal(),
		sagaID,
	)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to update status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return &adapters.ExecutionNotFoundError{SagaID: sagaID}
	}

	return nil
}

// FindNonTerminal returns executions that are not in a terminal status and
// were last updated before the given cutoff.
func (s *StateStore) FindNonTerminal(ctx context.Context, olderThan time.Time) ([]*adapters.Execution, error) {
	query := `
		SELECT id, type, status, current_step, context,
			idempotency_key, resource_ids, failure_reason,
			started_at, updated_at, completed_at, version
		FROM ` + s.fullTableName() + `
		WHERE status IN ($1, $2, $3) AND updated_at < $4
		ORDER BY updated_at
	`

	rows, err := s.db.QueryContext(ctx, query,
		int(adapters.StatusPending),
		int(adapters.StatusRunning),
		int(adapters.StatusCompensating),
		olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("saga/postgres: failed to find non-terminal executions: %w", err)
	}
	defer rows.Close()

	var executions []*adapters.Execution
	for rows.Next() {
		execution, err := s.scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("saga/postgres: error iterating executions: %w", err)
	}

	for _, execution := range executions {
		if err := s.loadSteps(ctx, execution); err != nil {
			return nil, err
		}
	}

	return executions, nil
}

// Close releases the database connection.
func (s *StateStore) Close() error {
	return s.db.Close()
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanExecution.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanExecution scans one execution row.
func (s *StateStore) scanExecution(row rowScanner) (*adapters.Execution, error) {
	var execution adapters.Execution
	var status int
	var contextJSON, resourcesJSON []byte
	var idempotencyKey, failureReason sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&execution.ID,
		&execution.Type,
		&status,
		&execution.CurrentStep,
		&contextJSON,
		&idempotencyKey,
		&resourcesJSON,
		&failureReason,
		&execution.StartedAt,
		&execution.UpdatedAt,
		&completedAt,
		&execution.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &adapters.ExecutionNotFoundError{SagaID: execution.ID}
	}
	if err != nil {
		return nil, fmt.Errorf("saga/postgres: failed to scan execution: %w", err)
	}

	execution.Status = adapters.Status(status)
	execution.IdempotencyKey = idempotencyKey.String
	execution.FailureReason = failureReason.String
	if completedAt.Valid {
		t := completedAt.Time
		execution.CompletedAt = &t
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &execution.Context); err != nil {
			return nil, fmt.Errorf("saga/postgres: failed to unmarshal context: %w", err)
		}
	}
	if len(resourcesJSON) > 0 {
		if err := json.Unmarshal(resourcesJSON, &execution.ResourceIDs); err != nil {
			return nil, fmt.Errorf("saga/postgres: failed to unmarshal resource ids: %w", err)
		}
	}

	return &execution, nil
}

// loadSteps hydrates an execution's step records, oldest attempt first.
func (s *StateStore) loadSteps(ctx context.Context, execution *adapters.Execution) error {
	query := `
		SELECT step_name, classification, status, attempt, output, error, started_at, completed_at
		FROM ` + s.stepsTableName() + `
		WHERE saga_id = $1
		ORDER BY started_at, attempt
	`

	rows, err := s.db.QueryContext(ctx, query, execution.ID)
	if err != nil {
		return fmt.Errorf("saga/postgres: failed to load step records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var record adapters.StepRecord
		var classification string
		var status int
		var outputJSON []byte
		var stepError sql.NullString
		var completedAt sql.NullTime

		err := rows.Scan(
			&record.Name,
			&classification,
			&status,
			&record.Attempt,
			&outputJSON,
			&stepError,
			&record.StartedAt,
			&completedAt,
		)
		if err != nil {
			return fmt.Errorf("saga/postgres: failed to scan step record: %w", err)
		}

		record.Classification = adapters.Classification(classification)
		record.Status = adapters.StepStatus(status)
		record.Error = stepError.String
		if completedAt.Valid {
			t := completedAt.Time
			record.CompletedAt = &t
		}
		if len(outputJSON) > 0 {
			if err := json.Unmarshal(outputJSON, &record.Output); err != nil {
				return fmt.Errorf("saga/postgres: failed to unmarshal step output: %w", err)
			}
		}

		execution.Steps = append(execution.Steps, record)
	}

	return rows.Err()
}
