package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkivo/saga/adapters"
)

func newDispatchMessage(id string, createdAt time.Time) *adapters.DispatchMessage {
	return &adapters.DispatchMessage{
		ID:            id,
		SagaID:        "saga-1",
		StepName:      "IndexRecord",
		Destination:   "webhook:https://example.test",
		Payload:       []byte(`{"recordId":"rec-1"}`),
		Status:        adapters.DispatchPending,
		NextAttemptAt: createdAt,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func TestDispatchStore_EnqueueAndFetch(t *testing.T) {
	store := NewDispatchStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Enqueue(ctx, newDispatchMessage("m1", now.Add(-2*time.Second))))
	require.NoError(t, store.Enqueue(ctx, newDispatchMessage("m2", now.Add(-time.Second))))

	due, err := store.FetchPending(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, due, 2)

	// Oldest first.
	assert.Equal(t, "m1", due[0].ID)
	assert.Equal(t, "m2", due[1].ID)
}

func TestDispatchStore_FetchPending_IgnoresNotDue(t *testing.T) {
	store := NewDispatchStore()
	ctx := context.Background()
	now := time.Now()

	future := newDispatchMessage("m1", now)
	future.NextAttemptAt = now.Add(time.Hour)
	require.NoError(t, store.Enqueue(ctx, future))

	due, err := store.FetchPending(ctx, 10, now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDispatchStore_FetchPending_Limit(t *testing.T) {
	store := NewDispatchStore()
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, store.Enqueue(ctx, newDispatchMessage(id, now.Add(time.Duration(i-10)*time.Second))))
	}

	due, err := store.FetchPending(ctx, 2, now)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestDispatchStore_MarkDelivered(t *testing.T) {
	store := NewDispatchStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Enqueue(ctx, newDispatchMessage("m1", now)))
	require.NoError(t, store.MarkDelivered(ctx, "m1"))

	due, err := store.FetchPending(ctx, 10, now.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, due)

	assert.ErrorIs(t, store.MarkDelivered(ctx, "missing"), adapters.ErrMessageNotFound)
}

func TestDispatchStore_MarkFailed(t *testing.T) {
	store := NewDispatchStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Enqueue(ctx, newDispatchMessage("m1", now)))

	next := now.Add(time.Minute)
	require.NoError(t, store.MarkFailed(ctx, "m1", 2, "endpoint down", next))

	msgs := store.All()
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].Attempts)
	assert.Equal(t, "endpoint down", msgs[0].LastError)
	assert.True(t, msgs[0].NextAttemptAt.Equal(next))
	assert.Equal(t, adapters.DispatchPending, msgs[0].Status)

	assert.ErrorIs(t, store.MarkFailed(ctx, "missing", 1, "x", next), adapters.ErrMessageNotFound)
}

func TestDispatchStore_MarkDead(t *testing.T) {
	store := NewDispatchStore()
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, newDispatchMessage("m1", time.Now())))
	require.NoError(t, store.MarkDead(ctx, "m1", "exhausted"))

	msgs := store.All()
	require.Len(t, msgs, 1)
	assert.Equal(t, adapters.DispatchDead, msgs[0].Status)
	assert.Equal(t, "exhausted", msgs[0].LastError)

	assert.ErrorIs(t, store.MarkDead(ctx, "missing", "x"), adapters.ErrMessageNotFound)
}

func TestDispatchStore_Cleanup(t *testing.T) {
	store := NewDispatchStore()
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, newDispatchMessage("delivered-old", time.Now())))
	require.NoError(t, store.MarkDelivered(ctx, "delivered-old"))
	require.NoError(t, store.Enqueue(ctx, newDispatchMessage("pending", time.Now())))

	time.Sleep(2 * time.Millisecond)

	// Only delivered messages older than the cutoff are removed; pending and
	// dead ones are kept for the operator.
	removed, err := store.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	require.Len(t, store.All(), 1)
	assert.Equal(t, "pending", store.All()[0].ID)
}
