// Package protobuf provides a Protocol Buffers serializer for saga.
//
// Saga contexts and results are dynamic maps, so this serializer encodes
// them through structpb, the canonical protobuf representation of
// arbitrary JSON-like values. It interoperates with any consumer that
// understands google.protobuf.Struct, which makes it a good fit for
// dispatch payloads crossing service boundaries.
//
// Values must be representable in structpb: strings, numbers, booleans,
// nil, and nested maps/slices of those.
package protobuf

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arkivo/saga"
)

var (
	// ErrNilValue indicates an attempt to marshal a nil value.
	ErrNilValue = errors.New("saga/protobuf: cannot marshal nil value")

	// ErrEmptyData indicates an attempt to unmarshal empty data.
	ErrEmptyData = errors.New("saga/protobuf: cannot unmarshal empty data")
)

// Ensure interface compliance at compile time
var _ saga.Serializer = (*Serializer)(nil)

// Serializer is a Protocol Buffers implementation of saga.Serializer
// backed by google.protobuf.Struct.
type Serializer struct{}

// NewSerializer creates a new protobuf Serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Marshal converts a value to protobuf bytes. Values pass through a JSON
// round trip into structpb, so anything JSON-encodable is accepted.
func (s *Serializer) Marshal(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, ErrNilValue
	}

	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Operation: "marshal", Cause: err}
	}

	value := &structpb.Value{}
	if err := value.UnmarshalJSON(jsonData); err != nil {
		return nil, &SerializationError{Operation: "marshal", Cause: err}
	}

	data, err := proto.Marshal(value)
	if err != nil {
		return nil, &SerializationError{Operation: "marshal", Cause: err}
	}

	return data, nil
}

// Unmarshal converts protobuf bytes back into the given value.
func (s *Serializer) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return ErrEmptyData
	}

	value := &structpb.Value{}
	if err := proto.Unmarshal(data, value); err != nil {
		return &SerializationError{Operation: "unmarshal", Cause: err}
	}

	jsonData, err := value.MarshalJSON()
	if err != nil {
		return &SerializationError{Operation: "unmarshal", Cause: err}
	}

	if err := json.Unmarshal(jsonData, v); err != nil {
		return &SerializationError{Operation: "unmarshal", Cause: err}
	}

	return nil
}

// SerializationError provides detailed error information for serialization failures.
type SerializationError struct {
	// Operation is either "marshal" or "unmarshal".
	Operation string

	// Cause is the underlying error.
	Cause error
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("saga/protobuf: failed to %s: %v", e.Operation, e.Cause)
}

// Unwrap returns the underlying error.
func (e *SerializationError) Unwrap() error {
	return e.Cause
}
