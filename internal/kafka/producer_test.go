package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ariefcatur/go-realtime-cart.git/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsPublishQueuesEnvelope(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, 4)
	env := orders.Envelope{
		EventID:       "ev1",
		EventType:     orders.EventOrderCommitted,
		EventVersion:  1,
		OccurredAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CorrelationID: "o1",
		Payload:       MustMarshal(orders.OrderCommittedPayload{OrderID: "o1", TotalCents: 1300}),
	}

	Events{Producer: p}.Publish(context.Background(), orders.TopicOrders, orders.PartitionKey("o1"), env)

	m := <-p.inbox
	assert.Equal(t, orders.TopicOrders, m.Topic)
	assert.Equal(t, []byte("o1"), m.Key)
	require.Len(t, m.Headers, 2)
	assert.Equal(t, "x-event-type", m.Headers[0].Key)
	assert.Equal(t, orders.EventOrderCommitted, string(m.Headers[0].Value))

	var got orders.Envelope
	require.NoError(t, json.Unmarshal(m.Value, &got))
	assert.Equal(t, "ev1", got.EventID)
	payload, err := UnwrapPayload[orders.OrderCommittedPayload](got.Payload)
	require.NoError(t, err)
	assert.Equal(t, 1300, payload.TotalCents)
}

func TestPublishAfterCloseDrops(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, 1)
	p.Close()
	p.Close()
	p.Publish(orders.TopicOrders, nil, []byte("x"))

	_, ok := <-p.inbox
	assert.False(t, ok)
}

func TestDecodeEnvelope(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"event_type":"OrderDeleted"}`))
	assert.Error(t, err)
	_, err = DecodeEnvelope([]byte(`nope`))
	assert.Error(t, err)

	env, err := DecodeEnvelope(MustMarshal(orders.Envelope{EventID: "e1", EventType: orders.EventOrderDeleted}))
	require.NoError(t, err)
	assert.Equal(t, "e1", env.EventID)
}

func TestCloseWakesBlockedPublisher(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, 1)
	p.Publish(orders.TopicOrders, nil, []byte("fills the inbox"))

	published := make(chan struct{})
	go func() {
		p.Publish(orders.TopicOrders, nil, []byte("blocks"))
		close(published)
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close deadlocked behind a publisher waiting on a full inbox")
	}
	<-published

	m, ok := <-p.inbox
	require.True(t, ok)
	assert.Equal(t, []byte("fills the inbox"), m.Value)
	_, ok = <-p.inbox
	assert.False(t, ok)
}
