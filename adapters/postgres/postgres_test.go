package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/arkivo/saga/adapters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		ident   string
		wantErr string
	}{
		{name: "simple", ident: "saga_executions"},
		{name: "leading underscore", ident: "_private"},
		{name: "mixed case with digits", ident: "Executions2"},
		{name: "empty", ident: "", wantErr: "cannot be empty"},
		{name: "too long", ident: strings.Repeat("a", 64), wantErr: "exceeds 63 characters"},
		{name: "leading digit", ident: "2fast", wantErr: "invalid characters"},
		{name: "injection attempt", ident: `executions"; DROP TABLE locks; --`, wantErr: "invalid characters"},
		{name: "hyphen", ident: "saga-executions", wantErr: "invalid characters"},
		{name: "whitespace", ident: "saga executions", wantErr: "invalid characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateIdentifier(tt.ident, "table")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Contains(t, err.Error(), "table")
		})
	}
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"saga_locks"`, quoteIdentifier("saga_locks"))
	assert.Equal(t, `"odd""name"`, quoteIdentifier(`odd"name`))
}

func TestQuoteQualifiedTable(t *testing.T) {
	assert.Equal(t, `"public"."saga_executions"`, quoteQualifiedTable("public", "saga_executions"))
}

func TestNullString(t *testing.T) {
	assert.False(t, nullString("").Valid)

	ns := nullString("permit denied")
	assert.True(t, ns.Valid)
	assert.Equal(t, "permit denied", ns.String)
}

func TestNullTime(t *testing.T) {
	assert.False(t, nullTime(nil).Valid)

	now := time.Now()
	nt := nullTime(&now)
	assert.True(t, nt.Valid)
	assert.Equal(t, now, nt.Time)
}

// getTestDB returns a database connection for integration tests.
// Set TEST_DATABASE_URL to run them; they are skipped otherwise.
func getTestDB(t *testing.T) *sql.DB {
	connStr := os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	db, err := Open(connStr)
	require.NoError(t, err)

	return db
}

// cleanupSchema drops the test schema.
func cleanupSchema(t *testing.T, db *sql.DB, schema string) {
	_, err := db.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
	require.NoError(t, err)
}

func testSchema() string {
	return fmt.Sprintf("test_%d", time.Now().UnixNano())
}

func TestStores_Initialize(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	db := getTestDB(t)
	defer db.Close()

	schema := testSchema()
	defer cleanupSchema(t, db, schema)

	ctx := context.Background()

	stores := []interface {
		Initialize(ctx context.Context) error
	}{
		NewStateStore(db, WithStateSchema(schema)),
		NewLockStore(db, WithLockSchema(schema)),
		NewIdempotencyStore(db, WithIdempotencySchema(schema)),
		NewDispatchStore(db, WithDispatchSchema(schema)),
	}
	for _, store := range stores {
		require.NoError(t, store.Initialize(ctx))
	}

	// Initialize is idempotent.
	for _, store := range stores {
		require.NoError(t, store.Initialize(ctx))
	}

	tables := []string{"saga_executions", "saga_executions_steps", "saga_locks", "saga_idempotency", "saga_dispatch"}
	for _, table := range tables {
		var exists bool
		err := db.QueryRow(`
			SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = $1 AND table_name = $2
			)`, schema, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}
}

func TestStateStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	db := getTestDB(t)
	defer db.Close()

	schema := testSchema()
	defer cleanupSchema(t, db, schema)

	ctx := context.Background()
	store := NewStateStore(db, WithStateSchema(schema))
	require.NoError(t, store.Initialize(ctx))

	exec := &adapters.Execution{
		ID:             "saga-pg-1",
		Type:           "PublishRecord",
		Status:         adapters.StatusRunning,
		Context:        map[string]interface{}{"recordId": "rec-42"},
		IdempotencyKey: "pg-key-1",
		ResourceIDs:    []string{"record/rec-42"},
		StartedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	t.Run("create and get", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, exec))

		got, err := store.Get(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, exec.Type, got.Type)
		assert.Equal(t, adapters.StatusRunning, got.Status)
		assert.Equal(t, "rec-42", got.Context["recordId"])
		assert.Equal(t, []string{"record/rec-42"}, got.ResourceIDs)
	})

	t.Run("duplicate create conflicts", func(t *testing.T) {
		err := store.Create(ctx, exec)
		assert.ErrorIs(t, err, ErrExecutionExists)
	})

	t.Run("append step record", func(t *testing.T) {
		record := adapters.StepRecord{
			Name:           "DraftRecord",
			Classification: adapters.ClassificationACID,
			Status:         adapters.StepSucceeded,
			Attempt:        1,
			Output:         map[string]interface{}{"draftId": "d-1"},
			StartedAt:      time.Now().UTC(),
		}
		err := store.AppendStepRecord(ctx, exec.ID, record, 1, map[string]interface{}{
			"recordId": "rec-42",
			"draftId":  "d-1",
		})
		require.NoError(t, err)

		got, err := store.Get(ctx, exec.ID)
		require.NoError(t, err)
		require.Len(t, got.Steps, 1)
		assert.Equal(t, "DraftRecord", got.Steps[0].Name)
		assert.Equal(t, adapters.StepSucceeded, got.Steps[0].Status)
		assert.Equal(t, 1, got.CurrentStep)
		assert.Equal(t, "d-1", got.Context["draftId"])
	})

	t.Run("update status to terminal", func(t *testing.T) {
		require.NoError(t, store.UpdateStatus(ctx, exec.ID, adapters.StatusCompleted, ""))

		got, err := store.Get(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, adapters.StatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
	})

	t.Run("find non-terminal excludes completed", func(t *testing.T) {
		orphans, err := store.FindNonTerminal(ctx, time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.Empty(t, orphans)
	})

	t.Run("get by idempotency key", func(t *testing.T) {
		got, err := store.GetByIdempotencyKey(ctx, "pg-key-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, exec.ID, got.ID)

		miss, err := store.GetByIdempotencyKey(ctx, "no-such-key")
		require.NoError(t, err)
		assert.Nil(t, miss)
	})

	t.Run("get missing execution", func(t *testing.T) {
		_, err := store.Get(ctx, "no-such-saga")
		assert.ErrorIs(t, err, ErrExecutionNotFound)
	})
}

func TestLockStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	db := getTestDB(t)
	defer db.Close()

	schema := testSchema()
	defer cleanupSchema(t, db, schema)

	ctx := context.Background()
	store := NewLockStore(db, WithLockSchema(schema))
	require.NoError(t, store.Initialize(ctx))

	resources := []string{"parcel/11-22", "record/rec-7"}

	t.Run("acquire and conflict", func(t *testing.T) {
		require.NoError(t, store.AcquireAll(ctx, "holder-a", resources, time.Minute))

		err := store.AcquireAll(ctx, "holder-b", []string{"record/rec-7"}, time.Minute)
		assert.ErrorIs(t, err, adapters.ErrLockHeld)
	})

	t.Run("renew and release", func(t *testing.T) {
		require.NoError(t, store.Renew(ctx, "holder-a", resources, time.Hour))
		require.NoError(t, store.Release(ctx, "holder-a", resources))

		require.NoError(t, store.AcquireAll(ctx, "holder-b", resources, time.Minute))
		require.NoError(t, store.Release(ctx, "holder-b", resources))
	})

	t.Run("expired lock is reclaimed", func(t *testing.T) {
		require.NoError(t, store.AcquireAll(ctx, "holder-a", []string{"deed/d-1"}, time.Millisecond))
		time.Sleep(5 * time.Millisecond)

		require.NoError(t, store.AcquireAll(ctx, "holder-b", []string{"deed/d-1"}, time.Minute))
	})
}

func TestDispatchStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	db := getTestDB(t)
	defer db.Close()

	schema := testSchema()
	defer cleanupSchema(t, db, schema)

	ctx := context.Background()
	store := NewDispatchStore(db, WithDispatchSchema(schema))
	require.NoError(t, store.Initialize(ctx))

	msg := &adapters.DispatchMessage{
		ID:            "msg-pg-1",
		SagaID:        "saga-pg-1",
		StepName:      "IndexRecord",
		Destination:   "webhook:https://search.example.test/reindex",
		Payload:       []byte(`{"recordId":"rec-42"}`),
		Status:        adapters.DispatchPending,
		NextAttemptAt: time.Now().UTC(),
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.Enqueue(ctx, msg))

	t.Run("fetch claims pending messages", func(t *testing.T) {
		fetched, err := store.FetchPending(ctx, 10, time.Now().Add(time.Second))
		require.NoError(t, err)
		require.Len(t, fetched, 1)
		assert.Equal(t, msg.ID, fetched[0].ID)
	})

	t.Run("mark failed reschedules", func(t *testing.T) {
		next := time.Now().Add(time.Millisecond)
		require.NoError(t, store.MarkFailed(ctx, msg.ID, 1, "connection refused", next))

		time.Sleep(5 * time.Millisecond)
		fetched, err := store.FetchPending(ctx, 10, time.Now())
		require.NoError(t, err)
		require.Len(t, fetched, 1)
		assert.Equal(t, 1, fetched[0].Attempts)
		assert.Equal(t, "connection refused", fetched[0].LastError)
	})

	t.Run("mark delivered removes from pending", func(t *testing.T) {
		require.NoError(t, store.MarkDelivered(ctx, msg.ID))

		fetched, err := store.FetchPending(ctx, 10, time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.Empty(t, fetched)
	})

	t.Run("missing message", func(t *testing.T) {
		err := store.MarkDelivered(ctx, "no-such-message")
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})
}

func TestIdempotencyStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	db := getTestDB(t)
	defer db.Close()

	schema := testSchema()
	defer cleanupSchema(t, db, schema)

	ctx := context.Background()
	store := NewIdempotencyStore(db, WithIdempotencySchema(schema))
	require.NoError(t, store.Initialize(ctx))

	record := &adapters.IdempotencyRecord{
		Key:       "pg-key-1",
		SagaID:    "saga-pg-1",
		SagaType:  "PublishRecord",
		Result:    []byte(`{"status":"completed"}`),
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, store.Store(ctx, record))

	t.Run("get cached record", func(t *testing.T) {
		got, err := store.Get(ctx, record.Key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, record.SagaID, got.SagaID)
		assert.Equal(t, record.Result, got.Result)
	})

	t.Run("miss returns nil", func(t *testing.T) {
		got, err := store.Get(ctx, "no-such-key")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("cleanup removes expired records", func(t *testing.T) {
		expired := &adapters.IdempotencyRecord{
			Key:       "pg-key-expired",
			SagaID:    "saga-pg-2",
			SagaType:  "PublishRecord",
			Result:    []byte(`{}`),
			CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
			ExpiresAt: time.Now().UTC().Add(-time.Hour),
		}
		require.NoError(t, store.Store(ctx, expired))

		removed, err := store.Cleanup(ctx, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		got, err := store.Get(ctx, record.Key)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}
