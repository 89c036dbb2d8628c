// Package adapters defines the storage contracts of the saga engine.
//
// The engine keeps no saga state in process memory: every transition is
// written through one of these interfaces before the next in-memory action,
// so a crashed executor can always be resumed from the last durable point.
// Implementations live in the memory and postgres subpackages.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for adapter implementations.
// Adapters should return these (or errors that match via errors.Is)
// to enable consistent error handling across different backends.
var (
	// ErrExecutionNotFound indicates the requested saga execution does not exist.
	ErrExecutionNotFound = errors.New("saga: execution not found")

	// ErrExecutionExists indicates an execution with the same ID already exists.
	ErrExecutionExists = errors.New("saga: execution already exists")

	// ErrConcurrencyConflict is returned when an optimistic concurrency check fails.
	ErrConcurrencyConflict = errors.New("saga: concurrency conflict")

	// ErrEmptySagaID is returned when an empty saga ID is provided.
	ErrEmptySagaID = errors.New("saga: saga ID is required")

	// ErrNilExecution indicates a nil execution was passed.
	ErrNilExecution = errors.New("saga: nil execution")

	// ErrLockHeld indicates a resource lock is held by another saga.
	ErrLockHeld = errors.New("saga: resource lock held")

	// ErrLockNotHeld indicates the caller tried to renew a lock it does not hold.
	ErrLockNotHeld = errors.New("saga: resource lock not held by caller")

	// ErrMessageNotFound indicates the requested dispatch message does not exist.
	ErrMessageNotFound = errors.New("saga: dispatch message not found")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("saga: store is closed")
)

// ExecutionNotFoundError provides detailed information about a missing execution.
type ExecutionNotFoundError struct {
	SagaID string
}

// Error returns the error message.
func (e *ExecutionNotFoundError) Error() string {
	return "saga: execution not found: " + e.SagaID
}

// Is reports whether this error matches the target error.
func (e *ExecutionNotFoundError) Is(target error) bool {
	return target == ErrExecutionNotFound
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *ExecutionNotFoundError) Unwrap() error {
	return ErrExecutionNotFound
}

// ConcurrencyError provides detailed information about a concurrency conflict.
type ConcurrencyError struct {
	SagaID          string
	ExpectedVersion int64
	ActualVersion   int64
}

// Error returns the error message.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("saga: concurrency conflict on execution %q: expected version %d, actual version %d",
		e.SagaID, e.ExpectedVersion, e.ActualVersion)
}

// Is reports whether this error matches the target error.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *ConcurrencyError) Unwrap() error {
	return ErrConcurrencyConflict
}

// LockHeldError reports which resource blocked a batch acquisition and who holds it.
type LockHeldError struct {
	ResourceID string
	HolderID   string
}

// Error returns the error message.
func (e *LockHeldError) Error() string {
	return fmt.Sprintf("saga: resource %q is locked by %q", e.ResourceID, e.HolderID)
}

// Is reports whether this error matches the target error.
func (e *LockHeldError) Is(target error) bool {
	return target == ErrLockHeld
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *LockHeldError) Unwrap() error {
	return ErrLockHeld
}

// StateStore persists saga executions and their step history.
//
// Implementations must make AppendStepRecord transactional: the step record,
// the advanced step index, and the merged context are written atomically so
// a crash between them can never be observed.
type StateStore interface {
	// Create persists a new execution. The execution's ID must be unique;
	// ErrExecutionExists is returned on collision.
	Create(ctx context.Context, execution *Execution) error

	// Get retrieves an execution by saga ID.
	// Returns ErrExecutionNotFound if it does not exist.
	Get(ctx context.Context, sagaID string) (*Execution, error)

	// AppendStepRecord appends a step record to the execution's history and,
	// in the same transaction, updates the current step index and context.
	AppendStepRecord(ctx context.Context, sagaID string, record StepRecord, currentStep int, sagaContext map[string]interface{}) error

	// UpdateStatus transitions the execution to the given status.
	// failureReason is persisted for non-success terminal transitions and
	// may be empty otherwise. Terminal transitions also set CompletedAt.
	UpdateStatus(ctx context.Context, sagaID string, status Status, failureReason string) error

	// FindNonTerminal returns executions that are not in a terminal status
	// and have not been updated since olderThan. This is the recovery scan
	// and must be cheap to run periodically.
	FindNonTerminal(ctx context.Context, olderThan time.Time) ([]*Execution, error)

	// GetByIdempotencyKey returns the most recent execution created with the
	// given idempotency key, or nil if none exists. The executor uses it to
	// detect an invocation already in flight for a key before creating a
	// duplicate.
	GetByIdempotencyKey(ctx context.Context, key string) (*Execution, error)

	// Close releases any resources held by the store.
	Close() error
}

// LockStore persists lease-based exclusive locks over logical resource IDs.
//
// AcquireAll is all-or-nothing: either every requested resource is locked for
// the holder or none is. Acquiring a resource already held by the same holder
// renews its lease, which is how recovery reclaims a crashed execution's
// locks. Expired leases are treated as free.
type LockStore interface {
	// AcquireAll locks every resource for the holder with the given lease.
	// Callers must pass resourceIDs in a globally agreed order (the manager
	// sorts them lexicographically). On conflict it returns a *LockHeldError
	// naming the contested resource, and no lock remains acquired.
	AcquireAll(ctx context.Context, holderID string, resourceIDs []string, lease time.Duration) error

	// Release removes the holder's locks on the given resources.
	// Releasing a lock the holder no longer owns is not an error.
	Release(ctx context.Context, holderID string, resourceIDs []string) error

	// Renew extends the lease on locks the holder already owns.
	// Returns ErrLockNotHeld if any of the locks is missing or owned by
	// another holder.
	Renew(ctx context.Context, holderID string, resourceIDs []string, lease time.Duration) error

	// Active returns all unexpired locks. Used for operational inspection.
	Active(ctx context.Context) ([]ResourceLock, error)

	// Close releases any resources held by the store.
	Close() error
}

// IdempotencyStore persists cached saga results keyed by idempotency key.
//
// It must be backed by the same durable store as the StateStore so a cached
// result and the execution it corresponds to are never observed inconsistently.
type IdempotencyStore interface {
	// Get retrieves a record by key.
	// Returns nil, nil if the record doesn't exist or is expired.
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)

	// Store saves a record, overwriting any existing record with the same key.
	Store(ctx context.Context, record *IdempotencyRecord) error

	// Delete removes a record by key.
	Delete(ctx context.Context, key string) error

	// Cleanup removes expired records and records older than the given
	// duration. Returns the number of records deleted.
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)

	// Close releases any resources held by the store.
	Close() error
}

// DispatchStore persists derived-state deliveries awaiting redelivery.
// It backs the dispatcher's retry loop for fire-and-forget collaborators.
type DispatchStore interface {
	// Enqueue persists a new message in pending status.
	Enqueue(ctx context.Context, message *DispatchMessage) error

	// FetchPending returns up to limit pending messages whose next attempt
	// is due at or before now, oldest first.
	FetchPending(ctx context.Context, limit int, now time.Time) ([]*DispatchMessage, error)

	// MarkDelivered transitions a message to delivered.
	MarkDelivered(ctx context.Context, id string) error

	// MarkFailed records a failed attempt and schedules the next one.
	MarkFailed(ctx context.Context, id string, attempts int, lastError string, nextAttempt time.Time) error

	// MarkDead transitions a message to dead after retries are exhausted.
	MarkDead(ctx context.Context, id string, lastError string) error

	// Cleanup removes delivered messages older than the given duration.
	// Returns the number of messages deleted.
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)

	// Close releases any resources held by the store.
	Close() error
}

// Initializer is implemented by stores that need one-time schema setup.
type Initializer interface {
	// Initialize sets up the required schema. Call once at startup.
	Initialize(ctx context.Context) error
}
