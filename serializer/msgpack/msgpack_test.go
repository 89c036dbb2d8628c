package msgpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkivo/saga"
)

func TestSerializer_ResultRoundTrip(t *testing.T) {
	s := NewSerializer()

	result := &saga.Result{
		SagaID:   "saga-1",
		SagaType: "PublishRecord",
		Status:   saga.StatusCompensated,
		Context: saga.Context{
			"recordId":     "rec-42",
			"permitNumber": "P-2026-0042",
		},
		FailedStep: "IndexRecord",
		Error:      "search index unavailable",
	}

	data, err := s.Marshal(result)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var got saga.Result
	require.NoError(t, s.Unmarshal(data, &got))

	assert.Equal(t, result.SagaID, got.SagaID)
	assert.Equal(t, result.Status, got.Status)
	assert.Equal(t, result.FailedStep, got.FailedStep)
	assert.Equal(t, result.Error, got.Error)
	assert.Equal(t, "P-2026-0042", got.Context["permitNumber"])
}

func TestSerializer_MarshalNil(t *testing.T) {
	s := NewSerializer()

	_, err := s.Marshal(nil)
	require.Error(t, err)

	var serr *SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "marshal", serr.Operation)
}

func TestSerializer_UnmarshalEmpty(t *testing.T) {
	s := NewSerializer()

	var got saga.Result
	err := s.Unmarshal(nil, &got)
	require.Error(t, err)

	var serr *SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "unmarshal", serr.Operation)
}

func TestSerializer_UnmarshalGarbage(t *testing.T) {
	s := NewSerializer()

	var got map[string]interface{}
	err := s.Unmarshal([]byte{0xc1}, &got)
	assert.Error(t, err)
}
