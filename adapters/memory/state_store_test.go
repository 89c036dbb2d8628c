package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkivo/saga/adapters"
)

func newExecution(id string) *adapters.Execution {
	now := time.Now()
	return &adapters.Execution{
		ID:        id,
		Type:      "PublishRecord",
		Status:    adapters.StatusPending,
		Context:   map[string]interface{}{"recordId": "rec-1"},
		StartedAt: now,
		UpdatedAt: now,
	}
}

func TestStateStore_CreateAndGet(t *testing.T) {
	store := NewStateStore()
	ctx := context.Background()

	exec := newExecution("saga-1")
	require.NoError(t, store.Create(ctx, exec))
	assert.Equal(t, int64(1), exec.Version)

	got, err := store.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, "saga-1", got.ID)
	assert.Equal(t, "PublishRecord", got.Type)
	assert.Equal(t, adapters.StatusPending, got.Status)
	assert.Equal(t, "rec-1", got.Context["recordId"])
}

func TestStateStore_Create_Duplicate(t *testing.T) {
	store := NewStateStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newExecution("saga-1")))
	err := store.Create(ctx, newExecution("saga-1"))
	assert.ErrorIs(t, err, adapters.ErrExecutionExists)
}

func TestStateStore_Create_Validation(t *testing.T) {
	store := NewStateStore()
	ctx := context.Background()

	assert.ErrorIs(t, store.Create(ctx, nil), adapters.ErrNilExecution)
	assert.ErrorIs(t, store.Create(ctx, &adapters.Execution{}), adapters.ErrEmptySagaID)
}

func TestStateStore_Get_NotFound(t *testing.T) {
	store := NewStateStore()

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, adapters.ErrExecutionNotFound)

	var notFound *adapters.ExecutionNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.SagaID)
}

func TestStateStore_Get_ReturnsCopy(t *testing.T) {
	store := NewStateStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newExecution("saga-1")))

	first, err := store.Get(ctx, "saga-1")
	require.NoError(t, err)
	first.Context["recordId"] = "mutated"
	first.Status = adapters.StatusFailed

	second, err := store.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", second.Context["recordId"])
	assert.Equal(t, adapters.StatusPending, second.Status)
}

func TestStateStore_AppendStepRecord(t *testing.T) {
	store := NewStateStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newExecution("saga-1")))

	rec := adapters.StepRecord{
		Name:           "ReserveSlot",
		Classification: adapters.ClassificationACID,
		Status:         adapters.StepPending,
		Attempt:        1,
		StartedAt:      time.Now(),
	}
	newCtx := map[string]interface{}{"recordId": "rec-1", "slotId": "slot-9"}
	require.NoError(t, store.AppendStepRecord(ctx, "saga-1", rec, 0, newCtx))

	// The same (name, attempt) pair upserts rather than duplicating.
	rec.Status = adapters.StepSucceeded
	require.NoError(t, store.AppendStepRecord(ctx, "saga-1", rec, 1, newCtx))

	got, err := store.Get(ctx, "saga-1")
	require.NoError(t, err)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, adapters.StepSucceeded, got.Steps[0].Status)
	assert.Equal(t, 1, got.CurrentStep)
	assert.Equal(t, "slot-9", got.Context["slotId"])
	assert.Equal(t, int64(3), got.Version)

	// A new attempt appends a second record.
	rec.Attempt = 2
	require.NoError(t, store.AppendStepRecord(ctx, "saga-1", rec, 1, newCtx))
	got, err = store.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Len(t, got.Steps, 2)
}

func TestStateStore_AppendStepRecord_NotFound(t *testing.T) {
	store := NewStateStore()
	err := store.AppendStepRecord(context.Background(), "missing", adapters.StepRecord{Name: "x", Attempt: 1}, 0, nil)
	assert.ErrorIs(t, err, adapters.ErrExecutionNotFound)
}

func TestStateStore_UpdateStatus(t *testing.T) {
	store := NewStateStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newExecution("saga-1")))

	require.NoError(t, store.UpdateStatus(ctx, "saga-1", adapters.StatusRunning, ""))
	got, err := store.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, adapters.StatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, store.UpdateStatus(ctx, "saga-1", adapters.StatusFailed, "boom"))
	got, err = store.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, adapters.StatusFailed, got.Status)
	assert.Equal(t, "boom", got.FailureReason)
	assert.NotNil(t, got.CompletedAt)
}

func TestStateStore_FindNonTerminal(t *testing.T) {
	store := NewStateStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newExecution("saga-pending")))
	require.NoError(t, store.Create(ctx, newExecution("saga-running")))
	require.NoError(t, store.UpdateStatus(ctx, "saga-running", adapters.StatusRunning, ""))
	require.NoError(t, store.Create(ctx, newExecution("saga-done")))
	require.NoError(t, store.UpdateStatus(ctx, "saga-done", adapters.StatusCompleted, ""))

	time.Sleep(2 * time.Millisecond)

	found, err := store.FindNonTerminal(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, found, 2)

	ids := map[string]bool{}
	for _, exec := range found {
		ids[exec.ID] = true
	}
	assert.True(t, ids["saga-pending"])
	assert.True(t, ids["saga-running"])

	// A cutoff in the past excludes recently updated executions.
	found, err = store.FindNonTerminal(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestStateStore_GetByIdempotencyKey(t *testing.T) {
	store := NewStateStore()
	ctx := context.Background()

	older := newExecution("saga-1")
	older.IdempotencyKey = "req-1"
	older.StartedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Create(ctx, older))

	newer := newExecution("saga-2")
	newer.IdempotencyKey = "req-1"
	require.NoError(t, store.Create(ctx, newer))

	t.Run("returns the most recent match", func(t *testing.T) {
		got, err := store.GetByIdempotencyKey(ctx, "req-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "saga-2", got.ID)
	})

	t.Run("miss returns nil", func(t *testing.T) {
		got, err := store.GetByIdempotencyKey(ctx, "no-such-key")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("empty key is a miss", func(t *testing.T) {
		got, err := store.GetByIdempotencyKey(ctx, "")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("returns a copy", func(t *testing.T) {
		got, err := store.GetByIdempotencyKey(ctx, "req-1")
		require.NoError(t, err)
		got.Context["recordId"] = "mutated"

		again, err := store.GetByIdempotencyKey(ctx, "req-1")
		require.NoError(t, err)
		assert.Equal(t, "rec-1", again.Context["recordId"])
	})
}

func TestStateStore_CountByStatus(t *testing.T) {
	store := NewStateStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newExecution("saga-1")))
	require.NoError(t, store.Create(ctx, newExecution("saga-2")))
	require.NoError(t, store.UpdateStatus(ctx, "saga-2", adapters.StatusCompleted, ""))

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[adapters.StatusPending])
	assert.Equal(t, int64(1), counts[adapters.StatusCompleted])
}

func TestStateStore_ContextCancellation(t *testing.T) {
	store := NewStateStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Create(ctx, newExecution("saga-1")), context.Canceled)
	_, err := store.Get(ctx, "saga-1")
	assert.ErrorIs(t, err, context.Canceled)
}
