package kafka

import (
	"context"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkivo/saga/adapters"
)

func TestPublisher_Scheme(t *testing.T) {
	assert.Equal(t, "kafka", New().Scheme())
}

func TestNew_Options(t *testing.T) {
	transport := &kafkago.Transport{ClientID: "records-api"}
	balancer := &kafkago.Hash{}
	p := New(
		WithBrokers("broker-1:9092", "broker-2:9092"),
		WithBalancer(balancer),
		WithBatchTimeout(time.Second),
		WithTransport(transport),
	)

	w := p.getWriter("record-events")
	assert.Equal(t, "record-events", w.Topic)
	assert.Equal(t, time.Second, w.BatchTimeout)
	assert.Same(t, balancer, w.Balancer)
	assert.Same(t, transport, w.Transport)

	// Writers are cached per topic.
	assert.Same(t, w, p.getWriter("record-events"))
}

func TestPublish_InvalidDestination(t *testing.T) {
	p := New()

	err := p.Publish(context.Background(), []*adapters.DispatchMessage{
		{ID: "msg-1", SagaID: "saga-1", Destination: "kafka:", Payload: []byte(`{}`)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing topic")
}

func TestExtractTopic(t *testing.T) {
	tests := []struct {
		destination string
		want        string
	}{
		{"kafka:record-events", "record-events"},
		{"kafka:", ""},
		{"webhook:https://example.test", ""},
		{"record-events", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, extractTopic(tt.destination), tt.destination)
	}
}
