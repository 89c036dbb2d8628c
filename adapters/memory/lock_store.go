package memory

import (
	"context"
	"sync"
	"time"

	"github.com/arkivo/saga/adapters"
)

// Ensure interface compliance at compile time
var _ adapters.LockStore = (*LockStore)(nil)

// LockStore provides an in-memory implementation of adapters.LockStore.
// Leases are enforced lazily: an expired lock is treated as free on the
// next acquisition attempt.
type LockStore struct {
	mu    sync.Mutex
	locks map[string]adapters.ResourceLock
}

// NewLockStore creates a new in-memory LockStore.
func NewLockStore() *LockStore {
	return &LockStore{
		locks: make(map[string]adapters.ResourceLock),
	}
}

// AcquireAll acquires every resource in the batch for the holder or none of
// them. Re-acquiring a resource already held by the same holder renews its
// lease, which is how a recovered execution reclaims locks left behind by a
// crashed process.
func (s *LockStore) AcquireAll(ctx context.Context, holderID string, resourceIDs []string, lease time.Duration) error {
	if len(resourceIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for context cancellation
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	now := time.Now()

	// First pass: verify the whole batch is free before touching anything.
	for _, resourceID := range resourceIDs {
		lock, exists := s.locks[resourceID]
		if !exists || lock.IsExpired() || lock.HolderID == holderID {
			continue
		}
		return &adapters.LockHeldError{ResourceID: resourceID, HolderID: lock.HolderID}
	}

	expiresAt := now.Add(lease)
	for _, resourceID := range resourceIDs {
		s.locks[resourceID] = adapters.ResourceLock{
			ResourceID: resourceID,
			HolderID:   holderID,
			AcquiredAt: now,
			ExpiresAt:  expiresAt,
		}
	}

	return nil
}

// Release removes the holder's locks on the given resources. Locks held by
// other holders or already expired and reclaimed are left alone.
func (s *LockStore) Release(ctx context.Context, holderID string, resourceIDs []string) error {
	if len(resourceIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for context cancellation
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	for _, resourceID := range resourceIDs {
		if lock, exists := s.locks[resourceID]; exists && lock.HolderID == holderID {
			delete(s.locks, resourceID)
		}
	}

	return nil
}

// Renew extends the lease on locks the holder currently holds. Fails with
// ErrLockNotHeld if any lock in the batch is missing, expired, or held by
// another holder.
func (s *LockStore) Renew(ctx context.Context, holderID string, resourceIDs []string, lease time.Duration) error {
	if len(resourceIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for context cancellation
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	for _, resourceID := range resourceIDs {
		lock, exists := s.locks[resourceID]
		if !exists || lock.HolderID != holderID || lock.IsExpired() {
			return adapters.ErrLockNotHeld
		}
	}

	expiresAt := time.Now().Add(lease)
	for _, resourceID := range resourceIDs {
		lock := s.locks[resourceID]
		lock.ExpiresAt = expiresAt
		s.locks[resourceID] = lock
	}

	return nil
}

// Active returns all locks whose lease has not expired.
func (s *LockStore) Active(ctx context.Context) ([]adapters.ResourceLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for context cancellation
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var result []adapters.ResourceLock
	for _, lock := range s.locks {
		if !lock.IsExpired() {
			result = append(result, lock)
		}
	}

	return result, nil
}

// Close releases any resources (no-op for in-memory implementation).
func (s *LockStore) Close() error {
	return nil
}

// Clear removes all locks (useful for testing).
func (s *LockStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks = make(map[string]adapters.ResourceLock)
}

// Holder returns the current holder of a resource, or "" if it is free.
func (s *LockStore) Holder(resourceID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, exists := s.locks[resourceID]; exists && !lock.IsExpired() {
		return lock.HolderID
	}
	return ""
}
