package saga

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arkivo/saga/adapters"
)

// IdempotencyManagerOption configures an IdempotencyManager.
type IdempotencyManagerOption func(*IdempotencyManager)

// WithResultTTL sets the default validity window of cached results.
// Idempotency covers client retry windows, not long-term deduplication,
// so a short TTL suffices.
func WithResultTTL(ttl time.Duration) IdempotencyManagerOption {
	return func(m *IdempotencyManager) {
		if ttl > 0 {
			m.defaultTTL = ttl
		}
	}
}

// WithIdempotencySerializer sets the serializer for cached results.
func WithIdempotencySerializer(s Serializer) IdempotencyManagerOption {
	return func(m *IdempotencyManager) {
		m.serializer = s
	}
}

// IdempotencyManager deduplicates saga invocations sharing an idempotency
// key, returning cached outcomes instead of re-executing. It must be backed
// by the same durable store as saga state so a cached result and its
// execution are never observed inconsistently.
type IdempotencyManager struct {
	store      adapters.IdempotencyStore
	serializer Serializer
	defaultTTL time.Duration
}

// NewIdempotencyManager creates an IdempotencyManager over the given store.
func NewIdempotencyManager(store adapters.IdempotencyStore, opts ...IdempotencyManagerOption) *IdempotencyManager {
	m := &IdempotencyManager{
		store:      store,
		serializer: NewJSONSerializer(),
		defaultTTL: 10 * time.Minute,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// GetCached returns the cached result for a key, or nil on a miss. A hit
// means the saga must not be re-executed while the record is valid.
func (m *IdempotencyManager) GetCached(ctx context.Context, key string) (*Result, error) {
	record, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("saga: idempotency lookup for key %q: %w", key, err)
	}
	if record == nil || record.IsExpired() {
		return nil, nil
	}

	var result Result
	if err := m.serializer.Unmarshal(record.Result, &result); err != nil {
		return nil, fmt.Errorf("saga: decoding cached result for key %q: %w", key, err)
	}
	return &result, nil
}

// Store caches a final result under the key. Results are cached for every
// terminal status: replaying a failed saga could re-run steps whose
// authoritative effects already persist.
func (m *IdempotencyManager) Store(ctx context.Context, key string, result *Result, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	data, err := m.serializer.Marshal(result)
	if err != nil {
		return fmt.Errorf("saga: encoding result for key %q: %w", key, err)
	}

	now := time.Now()
	return m.store.Store(ctx, &adapters.IdempotencyRecord{
		Key:       key,
		SagaID:    result.SagaID,
		SagaType:  result.SagaType,
		Result:    data,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
}

// Cleanup removes expired records and records older than the given duration.
func (m *IdempotencyManager) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	return m.store.Cleanup(ctx, olderThan)
}

// GenerateIdempotencyKey derives a deterministic key from a saga type and
// its input context. Use it when the caller has no natural request token;
// identical submissions produce identical keys.
func GenerateIdempotencyKey(sagaType string, input Context) string {
	data, err := json.Marshal(input)
	if err != nil {
		// Fall back to a type-only key so identical submissions still
		// collide even when the input cannot be serialized.
		sum := sha256.Sum256([]byte(sagaType))
		return sagaType + ":type-only:" + hex.EncodeToString(sum[:16])
	}

	sum := sha256.Sum256(append([]byte(sagaType+":"), data...))
	return sagaType + ":" + hex.EncodeToString(sum[:16])
}
