// Package msgpack provides a MessagePack serializer implementation for saga.
//
// MessagePack is a binary serialization format that produces smaller payloads
// than JSON while maintaining similar flexibility. It's particularly useful
// when cached results and dispatch payloads carry large saga contexts.
//
// Basic usage:
//
//	executor := saga.NewExecutor(registry,
//		saga.WithIdempotencyManager(saga.NewIdempotencyManager(store,
//			saga.WithIdempotencySerializer(msgpack.NewSerializer()))),
//	)
package msgpack

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/arkivo/saga"
)

// Ensure interface compliance at compile time
var _ saga.Serializer = (*Serializer)(nil)

// Serializer is a MessagePack implementation of saga.Serializer.
type Serializer struct{}

// NewSerializer creates a new MessagePack Serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Marshal converts a value to MessagePack bytes.
func (s *Serializer) Marshal(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, &SerializationError{Operation: "marshal", Err: fmt.Errorf("value cannot be nil")}
	}

	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Operation: "marshal", Err: err}
	}

	return data, nil
}

// Unmarshal converts MessagePack bytes back into the given value.
func (s *Serializer) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return &SerializationError{Operation: "unmarshal", Err: fmt.Errorf("data cannot be empty")}
	}

	if err := msgpack.Unmarshal(data, v); err != nil {
		return &SerializationError{Operation: "unmarshal", Err: err}
	}

	return nil
}

// SerializationError represents a serialization or deserialization error.
type SerializationError struct {
	Operation string // "marshal" or "unmarshal"
	Err       error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("saga/msgpack: failed to %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *SerializationError) Unwrap() error {
	return e.Err
}
