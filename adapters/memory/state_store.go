package memory

import (
	"context"
	"sync"
	"time"

	"github.com/arkivo/saga/adapters"
)

// Ensure interface compliance at compile time
var _ adapters.StateStore = (*StateStore)(nil)

// StateStore provides an in-memory implementation of adapters.StateStore.
// This is primarily intended for testing and development purposes.
type StateStore struct {
	mu         sync.RWMutex
	executions map[string]*adapters.Execution
}

// NewStateStore creates a new in-memory StateStore.
func NewStateStore() *StateStore {
	return &StateStore{
		executions: make(map[string]*adapters.Execution),
	}
}

// Create persists a new execution. Fails if an execution with the same ID
// already exists.
func (s *StateStore) Create(ctx context.Context, execution *adapters.Execution) error {
	if execution == nil {
		return adapters.ErrNilExecution
	}
	if execution.ID == "" {
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

	if _, exists := s.executions[execution.ID]; exists {
		return adapters.ErrExecutionExists
	}

	stored := copyExecution(execution)
	stored.Version = 1
	stored.UpdatedAt = time.Now()
	s.executions[execution.ID] = stored

	execution.Version = stored.Version
	return nil
}

// Get retrieves an execution by ID.
func (s *StateStore) Get(ctx context.Context, sagaID string) (*adapters.Execution, error) {
	if sagaID == "" {
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

	execution, exists := s.executions[sagaID]
	if !exists {
		return nil, &adapters.ExecutionNotFoundError{SagaID: sagaID}
	}

	return copyExecution(execution), nil
}

// AppendStepRecord atomically upserts a step record keyed by (step name,
// attempt), advances the current step index, and replaces the saga context.
func (s *StateStore) AppendStepRecord(ctx context.Context, sagaID string, record adapters.StepRecord, currentStep int, sagaContext map[string]interface{}) error {
	if sagaID == "" {
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

	execution, exists := s.executions[sagaID]
	if !exists {
		return &adapters.ExecutionNotFoundError{SagaID: sagaID}
	}

	stored := copyStepRecord(record)

	replaced := false
	for i := range execution.Steps {
		if execution.Steps[i].Name == record.Name && execution.Steps[i].Attempt == record.Attempt {
			execution.Steps[i] = stored
			replaced = true
			break
		}
	}
	if !replaced {
		execution.Steps = append(execution.Steps, stored)
	}

	execution.CurrentStep = currentStep
	execution.Context = adapters.CopyContext(sagaContext)
	execution.UpdatedAt = time.Now()
	execution.Version++

	return nil
}

// UpdateStatus transitions an execution's status. Terminal statuses also
// set the completion timestamp.
func (s *StateStore) UpdateStatus(ctx context.Context, sagaID string, status adapters.Status, failureReason string) error {
	if sagaID == "" {
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

	execution, exists := s.executions[sagaID]
	if !exists {
		return &adapters.ExecutionNotFoundError{SagaID: sagaID}
	}

	now := time.Now()
	execution.Status = status
	execution.FailureReason = failureReason
	execution.UpdatedAt = now
	execution.Version++

	if status.IsTerminal() {
		completedAt := now
		execution.CompletedAt = &completedAt
	}

	return nil
}

// FindNonTerminal returns executions that are not in a terminal status and
// were last updated before the given cutoff.
func (s *StateStore) FindNonTerminal(ctx context.Context, olderThan time.Time) ([]*adapters.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Check for context cancellation
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var result []*adapters.Execution
	for _, execution := range s.executions {
		if execution.Status.IsTerminal() {
			continue
		}
		if execution.UpdatedAt.Before(olderThan) {
			result = append(result, copyExecution(execution))
		}
	}

	return result, nil
}

// GetByIdempotencyKey returns the most recent execution created with the
// given key, or nil if none exists.
func (s *StateStore) GetByIdempotencyKey(ctx context.Context, key string) (*adapters.Execution, error) {
	if key == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Check for context cancellation
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var found *adapters.Execution
	for _, execution := range s.executions {
		if execution.IdempotencyKey != key {
			continue
		}
		if found == nil || execution.StartedAt.After(found.StartedAt) {
			found = execution
		}
	}
	if found == nil {
		return nil, nil
	}

	return copyExecution(found), nil
}

// Close releases any resources (no-op for in-memory implementation).
func (s *StateStore) Close() error {
	return nil
}

// Clear removes all executions (useful for testing).
func (s *StateStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = make(map[string]*adapters.Execution)
}

// Count returns the total number of executions stored.
func (s *StateStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.executions)
}

// CountByStatus returns the count of executions by status.
func (s *StateStore) CountByStatus(ctx context.Context) (map[adapters.Status]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Check for context cancellation
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	counts := make(map[adapters.Status]int64)
	for _, execution := range s.executions {
		counts[execution.Status]++
	}

	return counts, nil
}

// All returns all executions (useful for testing).
func (s *StateStore) All() []*adapters.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*adapters.Execution, 0, len(s.executions))
	for _, execution := range s.executions {
		result = append(result, copyExecution(execution))
	}

	return result
}

// copyExecution creates a deep copy of an Execution.
func copyExecution(execution *adapters.Execution) *adapters.Execution {
	copied := &adapters.Execution{
		ID:             execution.ID,
		Type:           execution.Type,
		Status:         execution.Status,
		CurrentStep:    execution.CurrentStep,
		IdempotencyKey: execution.IdempotencyKey,
		FailureReason:  execution.FailureReason,
		StartedAt:      execution.StartedAt,
		UpdatedAt:      execution.UpdatedAt,
		Version:        execution.Version,
	}

	// Copy CompletedAt if set
	if execution.CompletedAt != nil {
		completedAt := *execution.CompletedAt
		copied.CompletedAt = &completedAt
	}

	copied.Context = adapters.CopyContext(execution.Context)

	if execution.ResourceIDs != nil {
		copied.ResourceIDs = make([]string, len(execution.ResourceIDs))
		copy(copied.ResourceIDs, execution.ResourceIDs)
	}

	if execution.Steps != nil {
		copied.Steps = make([]adapters.StepRecord, len(execution.Steps))
		for i := range execution.Steps {
			copied.Steps[i] = copyStepRecord(execution.Steps[i])
		}
	}

	return copied
}

// copyStepRecord creates a deep copy of a StepRecord.
func copyStepRecord(record adapters.StepRecord) adapters.StepRecord {
	copied := record
	copied.Output = adapters.CopyContext(record.Output)

	if record.CompletedAt != nil {
		completedAt := *record.CompletedAt
		copied.CompletedAt = &completedAt
	}

	return copied
}
