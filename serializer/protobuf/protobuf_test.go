package protobuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arkivo/saga"
)

func TestSerializer_ResultRoundTrip(t *testing.T) {
	s := NewSerializer()

	result := &saga.Result{
		SagaID:   "saga-1",
		SagaType: "RegisterDeed",
		Status:   saga.StatusCompleted,
		Context: saga.Context{
			"deedId":     "deed-7",
			"registered": true,
			"pageCount":  float64(12),
		},
	}

	data, err := s.Marshal(result)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var got saga.Result
	require.NoError(t, s.Unmarshal(data, &got))

	assert.Equal(t, result.SagaID, got.SagaID)
	assert.Equal(t, result.Status, got.Status)
	assert.Equal(t, "deed-7", got.Context["deedId"])
	assert.Equal(t, true, got.Context["registered"])
	assert.Equal(t, float64(12), got.Context["pageCount"])
}

func TestSerializer_WireFormatIsStruct(t *testing.T) {
	s := NewSerializer()

	data, err := s.Marshal(map[string]interface{}{"recordId": "rec-42"})
	require.NoError(t, err)

	// Any google.protobuf.Value consumer can decode the payload.
	value := &structpb.Value{}
	require.NoError(t, proto.Unmarshal(data, value))
	assert.Equal(t, "rec-42", value.GetStructValue().Fields["recordId"].GetStringValue())
}

func TestSerializer_MarshalNil(t *testing.T) {
	s := NewSerializer()

	_, err := s.Marshal(nil)
	assert.ErrorIs(t, err, ErrNilValue)
}

func TestSerializer_MarshalUnrepresentable(t *testing.T) {
	s := NewSerializer()

	_, err := s.Marshal(map[string]interface{}{"ch": make(chan int)})
	require.Error(t, err)

	var serr *SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "marshal", serr.Operation)
}

func TestSerializer_UnmarshalEmpty(t *testing.T) {
	s := NewSerializer()

	var got saga.Result
	assert.ErrorIs(t, s.Unmarshal(nil, &got), ErrEmptyData)
}
