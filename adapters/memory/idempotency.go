package memory

import (
	"context"
	"sync"
	"time"

	"github.com/arkivo/saga/adapters"
)

// Ensure interface compliance at compile time
var _ adapters.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore provides an in-memory implementation of
// adapters.IdempotencyStore. This is primarily intended for testing and
// development purposes.
type IdempotencyStore struct {
	mu      sync.RWMutex
	records map[string]*adapters.IdempotencyRecord
}

// NewIdempotencyStore creates a new in-memory IdempotencyStore.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{
		records: make(map[string]*adapters.IdempotencyRecord),
	}
}

// Get retrieves a record by key. Returns nil without error when the key is
// absent or the record has expired.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*adapters.IdempotencyRecord, error) {
	if key == "" {
		return nil, adapters.ErrEmptySagaID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Check for context cancellation
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	record, exists := s.records[key]
	if !exists || record.IsExpired() {
		return nil, nil
	}

	copied := *record
	if record.Result != nil {
		copied.Result = make([]byte, len(record.Result))
		copy(copied.Result, record.Result)
	}

	return &copied, nil
}

// Store saves a record, replacing any previous record under the same key.
func (s *IdempotencyStore) Store(ctx context.Context, record *adapters.IdempotencyRecord) error {
	if record == nil || record.Key == "" {
		return adapters.ErrEmptySagaID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for context cancellation
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	copied := *record
	if record.Result != nil {
		copied.Result = make([]byte, len(record.Result))
		copy(copied.Result, record.Result)
	}

	s.records[record.Key] = &copied
	return nil
}

// Delete removes a record by key. Removing a missing key is not an error.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return adapters.ErrEmptySagaID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for context cancellation
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	delete(s.records, key)
	return nil
}

// Cleanup removes records that expired at least olderThan ago and returns
// the number removed.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for context cancellation
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	cutoff := time.Now().Add(-olderThan)
	var removed int64
	for key, record := range s.records {
		if record.ExpiresAt.Before(cutoff) {
			delete(s.records, key)
			removed++
		}
	}

	return removed, nil
}

// Close releases any resources (no-op for in-memory implementation).
func (s *IdempotencyStore) Close() error {
	return nil
}

// Clear removes all records (useful for testing).
func (s *IdempotencyStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*adapters.IdempotencyRecord)
}

// Count returns the total number of records stored, including expired ones
// not yet cleaned up.
func (s *IdempotencyStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
