package saga

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/arkivo/saga/adapters"
)

// LockManagerOption configures a LockManager.
type LockManagerOption func(*LockManager)

// WithLease sets the lease duration granted on acquisition and renewal.
func WithLease(d time.Duration) LockManagerOption {
	return func(m *LockManager) {
		if d > 0 {
			m.lease = d
		}
	}
}

// WithAcquireRetries sets how many times a conflicting batch acquisition is
// retried before the conflict surfaces to the caller.
func WithAcquireRetries(attempts int) LockManagerOption {
	return func(m *LockManager) {
		if attempts > 0 {
			m.retryAttempts = attempts
		}
	}
}

// WithAcquireRetryDelay sets the base delay between acquisition retries.
// The delay doubles after each conflicting attempt.
func WithAcquireRetryDelay(d time.Duration) LockManagerOption {
	return func(m *LockManager) {
		if d > 0 {
			m.retryDelay = d
		}
	}
}

// WithLockLogger sets the logger.
func WithLockLogger(logger Logger) LockManagerOption {
	return func(m *LockManager) {
		m.logger = logger
	}
}

// LockManager grants lease-based exclusive locks over logical resource IDs,
// preventing two sagas from mutating the same logical entity concurrently.
//
// A multi-resource batch is sorted lexicographically and acquired in that
// order, failing the whole batch if any single acquisition conflicts. The
// total ordering prevents circular-wait deadlocks between sagas requesting
// overlapping resource sets in different orders. Leases auto-expire, so a
// crashed holder cannot deadlock a resource forever.
type LockManager struct {
	store  adapters.LockStore
	logger Logger

	lease         time.Duration
	retryAttempts int
	retryDelay    time.Duration
}

// NewLockManager creates a LockManager over the given store.
func NewLockManager(store adapters.LockStore, opts ...LockManagerOption) *LockManager {
	m := &LockManager{
		store:         store,
		logger:        &noopLogger{},
		lease:         30 * time.Second,
		retryAttempts: 5,
		retryDelay:    50 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Lease returns the configured lease duration.
func (m *LockManager) Lease() time.Duration {
	return m.lease
}

// AcquireAll locks every resource for the holder as one atomic batch,
// retrying conflicts with exponential backoff. On exhaustion it returns a
// *LockConflictError; the condition is retryable and no lock remains held.
//
// Acquiring resources the holder already owns renews their leases, so a
// resumed execution reclaims its own locks by re-acquiring them.
func (m *LockManager) AcquireAll(ctx context.Context, holderID string, resourceIDs []string, onConflict func()) error {
	ids := normalizeResourceIDs(resourceIDs)
	if len(ids) == 0 {
		return nil
	}

	var lastHeld *adapters.LockHeldError
	for attempt := 0; attempt < m.retryAttempts; attempt++ {
		if attempt > 0 {
			delay := m.retryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := m.store.AcquireAll(ctx, holderID, ids, m.lease)
		if err == nil {
			return nil
		}

		var held *adapters.LockHeldError
		if !errors.As(err, &held) {
			return err
		}
		lastHeld = held
		if onConflict != nil {
			onConflict()
		}

		m.logger.Debug("Lock batch conflicted, retrying",
			"holder", holderID,
			"resource", held.ResourceID,
			"heldBy", held.HolderID,
			"attempt", attempt+1)
	}

	return &LockConflictError{
		ResourceID: lastHeld.ResourceID,
		HolderID:   lastHeld.HolderID,
		Attempts:   m.retryAttempts,
	}
}

// Release removes the holder's locks. Errors are returned for logging but a
// failed release is not fatal: the lease expires on its own.
func (m *LockManager) Release(ctx context.Context, holderID string, resourceIDs []string) error {
	ids := normalizeResourceIDs(resourceIDs)
	if len(ids) == 0 {
		return nil
	}
	return m.store.Release(ctx, holderID, ids)
}

// Renew extends the holder's leases. The executor renews before each step
// dispatch so long-running sagas keep their resources.
func (m *LockManager) Renew(ctx context.Context, holderID string, resourceIDs []string) error {
	ids := normalizeResourceIDs(resourceIDs)
	if len(ids) == 0 {
		return nil
	}
	return m.store.Renew(ctx, holderID, ids, m.lease)
}

// Active returns all unexpired locks.
func (m *LockManager) Active(ctx context.Context) ([]ResourceLock, error) {
	return m.store.Active(ctx)
}

// normalizeResourceIDs sorts and deduplicates a resource ID batch. The sort
// order is the globally agreed acquisition order.
func normalizeResourceIDs(resourceIDs []string) []string {
	if len(resourceIDs) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(resourceIDs))
	ids := make([]string, 0, len(resourceIDs))
	for _, id := range resourceIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
