package saga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSerializer_Result(t *testing.T) {
	s := NewJSONSerializer()

	original := &Result{
		SagaID:     "saga-1",
		SagaType:   "PublishRecord",
		Status:     StatusFailed,
		Context:    Context{"recordId": "rec-1"},
		FailedStep: "NotifyParties",
		Error:      "saga: step execution failed",
	}

	data, err := s.Marshal(original)
	require.NoError(t, err)

	var decoded Result
	require.NoError(t, s.Unmarshal(data, &decoded))

	assert.Equal(t, original.SagaID, decoded.SagaID)
	assert.Equal(t, original.Status, decoded.Status)
	assert.Equal(t, original.FailedStep, decoded.FailedStep)
	assert.Equal(t, "rec-1", decoded.Context.String("recordId"))
}

func TestJSONSerializer_InvalidData(t *testing.T) {
	s := NewJSONSerializer()

	var out Result
	assert.Error(t, s.Unmarshal([]byte("{not json"), &out))
}
