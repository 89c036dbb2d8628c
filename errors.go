package saga

import (
	"errors"
	"fmt"

	"github.com/arkivo/saga/adapters"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
// Storage-level sentinels are aliases to the adapters package errors.
var (
	// ErrExecutionNotFound indicates the requested execution does not exist.
	ErrExecutionNotFound = adapters.ErrExecutionNotFound

	// ErrExecutionExists indicates an execution with the same ID already exists.
	ErrExecutionExists = adapters.ErrExecutionExists

	// ErrConcurrencyConflict indicates an optimistic concurrency violation.
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict

	// ErrLockHeld indicates a resource lock is held by another saga.
	ErrLockHeld = adapters.ErrLockHeld

	// ErrLockNotHeld indicates a renewal on a lock the holder no longer owns.
	ErrLockNotHeld = adapters.ErrLockNotHeld

	// ErrTypeNotRegistered indicates no definition is registered for a saga type.
	ErrTypeNotRegistered = errors.New("saga: type not registered")

	// ErrMissingIdempotencyKey indicates a submission without an idempotency key.
	ErrMissingIdempotencyKey = errors.New("saga: idempotency key is required")

	// ErrStepFailed indicates a step's execute failed and compensation was
	// triggered.
	ErrStepFailed = errors.New("saga: step execution failed")

	// ErrCompensationFailed indicates a compensate call itself failed.
	// Further compensation is halted and the execution requires manual
	// intervention.
	ErrCompensationFailed = errors.New("saga: compensation failed")

	// ErrLockConflict indicates resource lock acquisition failed after
	// exhausting retries. Retryable by the caller.
	ErrLockConflict = errors.New("saga: lock conflict")

	// ErrAuthoritativeBoundary indicates compensation halted because an
	// authoritative step had already succeeded. Terminal; not retryable.
	ErrAuthoritativeBoundary = errors.New("saga: authoritative boundary reached")

	// ErrRecoveryAmbiguous indicates crash-time state could not be
	// disambiguated even after querying the authoritative collaborator.
	// Terminal; requires operator review.
	ErrRecoveryAmbiguous = errors.New("saga: recovery could not disambiguate step outcome")

	// ErrExecutionInFlight is returned by Submit when an execution for the
	// idempotency key already exists but has not reached a terminal status:
	// another worker owns the invocation. Retryable once that invocation
	// finishes.
	ErrExecutionInFlight = errors.New("saga: execution already in flight for idempotency key")

	// ErrDispatcherRunning is returned when Start is called on a dispatcher
	// that is already running.
	ErrDispatcherRunning = errors.New("saga: dispatcher already running")

	// ErrRecoveryRunning is returned when Start is called on a recovery
	// worker that is already running.
	ErrRecoveryRunning = errors.New("saga: recovery already running")

	// ErrPublisherNotFound indicates no publisher is registered for a
	// destination scheme.
	ErrPublisherNotFound = errors.New("saga: no publisher registered for destination")
)

// StepExecutionError reports a step whose execute failed, which triggers
// the compensation path.
type StepExecutionError struct {
	SagaID   string
	SagaType string
	Step     string
	Err      error
}

// Error returns the error message.
func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("saga: execution %q (type=%s) step %q failed: %v",
		e.SagaID, e.SagaType, e.Step, e.Err)
}

// Is reports whether this error matches the target error.
func (e *StepExecutionError) Is(target error) bool {
	return target == ErrStepFailed
}

// Unwrap returns the step's underlying error.
func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// CompensationError reports a compensate call that itself failed. It halts
// further compensation; the execution becomes failed and is flagged for
// manual intervention.
type CompensationError struct {
	SagaID string
	Step   string
	Cause  error // the step failure that started compensation
	Err    error // the compensation failure
}

// Error returns the error message.
func (e *CompensationError) Error() string {
	return fmt.Sprintf("saga: execution %q compensation of step %q failed: %v (compensating for: %v)",
		e.SagaID, e.Step, e.Err, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *CompensationError) Is(target error) bool {
	return target == ErrCompensationFailed
}

// Unwrap returns the compensation's underlying error.
func (e *CompensationError) Unwrap() error {
	return e.Err
}

// LockConflictError reports that a resource lock batch could not be acquired
// within the configured retries. It is a retryable condition, not a saga
// failure: no execution was created and no step ran.
type LockConflictError struct {
	SagaType   string
	ResourceID string
	HolderID   string
	Attempts   int
}

// Error returns the error message.
func (e *LockConflictError) Error() string {
	return fmt.Sprintf("saga: could not lock resource %q for type %s after %d attempts (held by %q)",
		e.ResourceID, e.SagaType, e.Attempts, e.HolderID)
}

// Is reports whether this error matches the target error.
func (e *LockConflictError) Is(target error) bool {
	return target == ErrLockConflict || target == ErrLockHeld
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *LockConflictError) Unwrap() error {
	return ErrLockConflict
}

// AuthoritativeBoundaryError reports that compensation stopped at a
// succeeded authoritative step: the point of no return. The authoritative
// fact persists; only steps strictly after it were compensated. This is the
// designed outcome, not a bug.
type AuthoritativeBoundaryError struct {
	SagaID       string
	BoundaryStep string
	FailedStep   string
	Cause        error
}

// Error returns the error message.
func (e *AuthoritativeBoundaryError) Error() string {
	return fmt.Sprintf("saga: execution %q: authoritative boundary reached at step %q while compensating for step %q: %v; the authoritative effect persists",
		e.SagaID, e.BoundaryStep, e.FailedStep, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *AuthoritativeBoundaryError) Is(target error) bool {
	return target == ErrAuthoritativeBoundary
}

// Unwrap returns the original step failure.
func (e *AuthoritativeBoundaryError) Unwrap() error {
	return e.Cause
}

// RecoveryAmbiguityError reports that recovery could not determine whether a
// crashed authoritative step took effect, even after querying the
// collaborator. The execution is terminal and needs operator review.
type RecoveryAmbiguityError struct {
	SagaID string
	Step   string
	Err    error
}

// Error returns the error message.
func (e *RecoveryAmbiguityError) Error() string {
	return fmt.Sprintf("saga: execution %q: cannot determine whether authoritative step %q took effect: %v",
		e.SagaID, e.Step, e.Err)
}

// Is reports whether this error matches the target error.
func (e *RecoveryAmbiguityError) Is(target error) bool {
	return target == ErrRecoveryAmbiguous
}

// Unwrap returns the collaborator's underlying error.
func (e *RecoveryAmbiguityError) Unwrap() error {
	return e.Err
}

// TypeNotRegisteredError reports a saga type with no registered definition.
type TypeNotRegisteredError struct {
	SagaType string
}

// Error returns the error message.
func (e *TypeNotRegisteredError) Error() string {
	return fmt.Sprintf("saga: type %q not registered", e.SagaType)
}

// Is reports whether this error matches the target error.
func (e *TypeNotRegisteredError) Is(target error) bool {
	return target == ErrTypeNotRegistered
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *TypeNotRegisteredError) Unwrap() error {
	return ErrTypeNotRegistered
}
