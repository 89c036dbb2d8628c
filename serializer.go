package saga

import "encoding/json"

// Serializer encodes cached results and dispatch payloads. JSON is the
// default; msgpack and protobuf implementations live under serializer/.
type Serializer interface {
	// Marshal converts a value to bytes.
	Marshal(v interface{}) ([]byte, error)

	// Unmarshal converts bytes back into the target value.
	Unmarshal(data []byte, v interface{}) error
}

// JSONSerializer serializes values as JSON.
type JSONSerializer struct{}

// NewJSONSerializer creates a JSONSerializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// Marshal converts a value to JSON bytes.
func (s *JSONSerializer) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal parses JSON bytes into the target value.
func (s *JSONSerializer) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
