package cart

import (
	"context"
	"time"

	kafkax "github.com/ariefcatur/go-realtime-cart.git/internal/kafka"
	"github.com/ariefcatur/go-realtime-cart.git/internal/orders"
	"github.com/google/uuid"
)

// Publisher ships event envelopes; the kafka package provides the production one.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, env orders.Envelope)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, []byte, orders.Envelope) {}

type traceKey struct{}

// WithTraceID tags ctx so events emitted for the request carry its id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}

func (e *Engine) emit(ctx context.Context, eventType, correlationID string, payload any) {
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.service,
		TraceID:       traceID(ctx),
		CorrelationID: correlationID,
		Payload:       kafkax.MustMarshal(payload),
	}
	e.publisher.Publish(ctx, orders.TopicFor(eventType), orders.PartitionKey(correlationID), env)
}
