// Package postgres provides PostgreSQL implementations of the saga store
// adapters: execution state, resource locks, idempotency records, and the
// dispatch queue.
package postgres

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/arkivo/saga/adapters"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Sentinel errors for the postgres adapters.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	ErrExecutionNotFound   = adapters.ErrExecutionNotFound
	ErrExecutionExists     = adapters.ErrExecutionExists
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict
	ErrLockNotHeld         = adapters.ErrLockNotHeld
	ErrMessageNotFound     = adapters.ErrMessageNotFound
)

// Open opens a database handle using the pgx stdlib driver.
func Open(connStr string) (*sql.DB, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("saga/postgres: failed to open database: %w", err)
	}
	return db, nil
}

// identifierPattern matches valid unquoted PostgreSQL identifiers.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// validateIdentifier checks if a name is a valid PostgreSQL identifier.
// This helps prevent SQL injection when using identifiers in queries.
func validateIdentifier(name, kind string) error {
	if name == "" {
		return fmt.Errorf("saga/postgres: %s name cannot be empty", kind)
	}
	if len(name) > 63 {
		return fmt.Errorf("saga/postgres: %s name exceeds 63 characters", kind)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("saga/postgres: %s name contains invalid characters", kind)
	}
	return nil
}

// quoteIdentifier quotes a PostgreSQL identifier.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteQualifiedTable returns a quoted schema-qualified table name.
func quoteQualifiedTable(schema, table string) string {
	return quoteIdentifier(schema) + "." + quoteIdentifier(table)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
