// Package projection keeps read views in Redis in step with the cart event stream.
package projection

import (
	"context"
	kafkax "github.com/ariefcatur/go-realtime-cart.git/internal/kafka"
	"github.com/ariefcatur/go-realtime-cart.git/internal/orders"
	"github.com/ariefcatur/go-realtime-cart.git/internal/redisx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"time"
)

type Service struct {
	Redis       *redis.Client
	Status      *redisx.StatusCache
	ServiceName string
	Log         zerolog.Logger
}

// HandleMessage is installed as the consumer handler. Each event id is applied at
// most once; a failed apply releases the id so redelivery retries it.
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// poison message: log and skip so the partition keeps moving
		s.Log.Warn().Err(err).Str("topic", m.Topic).Int64("offset", m.Offset).Msg("undecodable envelope")
		return nil
	}

	fresh, err := redisx.MarkSeen(ctx, s.Redis, s.ServiceName, env.EventID)
	if err != nil {
		return errors.Wrap(err, "dedup")
	}
	if !fresh {
		return nil
	}

	if err := s.apply(ctx, env); err != nil {
		if ferr := redisx.Forget(ctx, s.Redis, s.ServiceName, env.EventID); ferr != nil {
			s.Log.Error().Err(ferr).Str("event_id", env.EventID).Msg("dedup release failed")
		}
		return errors.Wrapf(err, "apply %s %s", env.EventType, env.EventID)
	}
	return nil
}

func (s *Service) apply(ctx context.Context, env orders.Envelope) error {
	switch env.EventType {
	case orders.EventOrderCommitted:
		p, err := kafkax.UnwrapPayload[orders.OrderCommittedPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.Status.Put(ctx, redisx.OrderStatus{OrderID: p.OrderID, OwnerID: p.OwnerID, Status: p.Status, UpdatedAt: stamp(p.UpdatedAt, env)})

	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.Status.Put(ctx, redisx.OrderStatus{OrderID: p.OrderID, OwnerID: p.OwnerID, Status: p.To, UpdatedAt: stamp(p.UpdatedAt, env)})

	case orders.EventOrderDeleted:
		p, err := kafkax.UnwrapPayload[orders.OrderDeletedPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.Status.Invalidate(ctx, p.OrderID)

	case orders.EventReservationReleased:
		p, err := kafkax.UnwrapPayload[orders.ReservationReleasedPayload](env.Payload)
		if err != nil {
			return err
		}
		s.Log.Info().
			Str("reservation_id", p.ReservationID).
			Str("product_id", p.ProductID).
			Int("quantity", p.Quantity).
			Str("reason", p.Reason).
			Msg("reservation released")
		return nil

	default:
		return nil
	}
}

// stamp prefers the order's own timestamp; events without one fall back to when
// they were emitted.
func stamp(updatedAt time.Time, env orders.Envelope) time.Time {
	if updatedAt.IsZero() {
		return env.OccurredAt
	}
	return updatedAt
}
