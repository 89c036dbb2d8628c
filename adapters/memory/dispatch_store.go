package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arkivo/saga/adapters"
)

// Ensure interface compliance at compile time
var _ adapters.DispatchStore = (*DispatchStore)(nil)

// DispatchStore provides an in-memory implementation of
// adapters.DispatchStore. This is primarily intended for testing and
// development purposes.
type DispatchStore struct {
	mu       sync.Mutex
	messages map[string]*adapters.DispatchMessage
}

// NewDispatchStore creates a new in-memory DispatchStore.
func NewDispatchStore() *DispatchStore {
	return &DispatchStore{
		messages: make(map[string]*adapters.DispatchMessage),
	}
}

// Enqueue adds a message to the queue.
func (s *DispatchStore) Enqueue(ctx context.Context, message *adapters.DispatchMessage) error {
	if message == nil || message.ID == "" {
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

	s.messages[message.ID] = copyMessage(message)
	return nil
}

// FetchPending returns up to limit pending messages due at or before now,
// oldest first.
func (s *DispatchStore) FetchPending(ctx context.Context, limit int, now time.Time) ([]*adapters.DispatchMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for context cancellation
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var due []*adapters.DispatchMessage
	for _, message := range s.messages {
		if message.Status == adapters.DispatchPending && !message.NextAttemptAt.After(now) {
			due = append(due, copyMessage(message))
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

// MarkDelivered marks a message as delivered.
func (s *DispatchStore) MarkDelivered(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for context cancellation
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	message, exists := s.messages[id]
	if !exists {
		return adapters.ErrMessageNotFound
	}

	message.Status = adapters.DispatchDelivered
	message.UpdatedAt = time.Now()
	return nil
}

// MarkFailed records a failed delivery attempt and schedules the next one.
func (s *DispatchStore) MarkFailed(ctx context.Context, id string, attempts int, lastError string, nextAttempt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for context cancellation
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	message, exists := s.messages[id]
	if !exists {
		return adapters.ErrMessageNotFound
	}

	message.Attempts = attempts
	message.LastError = lastError
	message.NextAttemptAt = nextAttempt
	message.UpdatedAt = time.Now()
	return nil
}

// MarkDead parks a message in the dead letter state.
func (s *DispatchStore) MarkDead(ctx context.Context, id string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for context cancellation
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	message, exists := s.messages[id]
	if !exists {
		return adapters.ErrMessageNotFound
	}

	message.Status = adapters.DispatchDead
	message.LastError = lastError
	message.UpdatedAt = time.Now()
	return nil
}

// Cleanup removes delivered messages older than the given age and returns
// the number removed.
func (s *DispatchStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
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
	for id, message := range s.messages {
		if message.Status == adapters.DispatchDelivered && message.UpdatedAt.Before(cutoff) {
			delete(s.messages, id)
			removed++
		}
	}

	return removed, nil
}

// Close releases any resources (no-op for in-memory implementation).
func (s *DispatchStore) Close() error {
	return nil
}

// Clear removes all messages (useful for testing).
func (s *DispatchStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make(map[string]*adapters.DispatchMessage)
}

// All returns all messages (useful for testing).
func (s *DispatchStore) All() []*adapters.DispatchMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*adapters.DispatchMessage, 0, len(s.messages))
	for _, message := range s.messages {
		result = append(result, copyMessage(message))
	}

	return result
}

// copyMessage creates a deep copy of a DispatchMessage.
func copyMessage(message *adapters.DispatchMessage) *adapters.DispatchMessage {
	copied := *message
	if message.Payload != nil {
		copied.Payload = make([]byte, len(message.Payload))
		copy(copied.Payload, message.Payload)
	}
	return &copied
}
