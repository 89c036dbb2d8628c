package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkivo/saga/adapters/memory"
)

func TestIdempotencyManager_StoreAndGetCached(t *testing.T) {
	m := NewIdempotencyManager(memory.NewIdempotencyStore())
	ctx := context.Background()

	result := &Result{
		SagaID:   "saga-1",
		SagaType: "PublishRecord",
		Status:   StatusCompleted,
		Context:  Context{"recordNumber": "R-100"},
	}
	require.NoError(t, m.Store(ctx, "req-1", result, 0))

	cached, err := m.GetCached(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "saga-1", cached.SagaID)
	assert.Equal(t, StatusCompleted, cached.Status)
	assert.Equal(t, "R-100", cached.Context.String("recordNumber"))
}

func TestIdempotencyManager_Miss(t *testing.T) {
	m := NewIdempotencyManager(memory.NewIdempotencyStore())

	cached, err := m.GetCached(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestIdempotencyManager_Expiry(t *testing.T) {
	m := NewIdempotencyManager(memory.NewIdempotencyStore())
	ctx := context.Background()

	result := &Result{SagaID: "saga-1", SagaType: "PublishRecord", Status: StatusFailed}
	require.NoError(t, m.Store(ctx, "req-1", result, time.Millisecond))

	time.Sleep(5 * time.Millisecond)

	cached, err := m.GetCached(ctx, "req-1")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestIdempotencyManager_FailedResultsRoundTrip(t *testing.T) {
	m := NewIdempotencyManager(memory.NewIdempotencyStore())
	ctx := context.Background()

	result := &Result{
		SagaID:     "saga-1",
		SagaType:   "RegisterDeed",
		Status:     StatusFailed,
		FailedStep: "NotifyParties",
		Error:      "saga: authoritative boundary reached",
	}
	require.NoError(t, m.Store(ctx, "req-1", result, 0))

	cached, err := m.GetCached(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, StatusFailed, cached.Status)
	assert.Equal(t, "NotifyParties", cached.FailedStep)
	assert.Equal(t, result.Error, cached.Error)
}

func TestIdempotencyManager_Cleanup(t *testing.T) {
	store := memory.NewIdempotencyStore()
	m := NewIdempotencyManager(store)
	ctx := context.Background()

	require.NoError(t, m.Store(ctx, "old", &Result{SagaID: "s1"}, time.Millisecond))
	require.NoError(t, m.Store(ctx, "fresh", &Result{SagaID: "s2"}, time.Hour))

	time.Sleep(5 * time.Millisecond)

	removed, err := m.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	cached, err := m.GetCached(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, cached)
}
