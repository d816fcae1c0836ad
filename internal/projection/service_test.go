package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	kafkax "github.com/ariefcatur/go-realtime-cart.git/internal/kafka"
	"github.com/ariefcatur/go-realtime-cart.git/internal/orders"
	"github.com/ariefcatur/go-realtime-cart.git/internal/redisx"
	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const svcName = "cart-projector"

var occurred = time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)

func message(eventID, eventType string, payload any) kafkago.Message {
	env := orders.Envelope{
		EventID:      eventID,
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   occurred,
		Payload:      kafkax.MustMarshal(payload),
	}
	return kafkago.Message{Topic: orders.TopicFor(eventType), Value: kafkax.MustMarshal(env)}
}

// expectPut mirrors StatusCache.Put: the versioned compare-and-set script.
func expectPut(t *testing.T, mock redismock.ClientMock, st redisx.OrderStatus) *redismock.ExpectedCmd {
	t.Helper()
	st.Version = st.UpdatedAt.UnixMicro()
	b, err := json.Marshal(st)
	require.NoError(t, err)
	return mock.ExpectEval(redisx.PutNewerScript, []string{fmt.Sprintf(redisx.KeyOrderStatus, st.OrderID)},
		string(b), st.Version, redisx.TTLStatusCache.Milliseconds())
}

func newService(t *testing.T) (*Service, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	return &Service{Redis: db, Status: redisx.NewStatusCache(db), ServiceName: svcName, Log: zerolog.Nop()}, mock
}

func TestCommittedWritesStatus(t *testing.T) {
	s, mock := newService(t)
	updated := occurred.Add(-time.Second)
	st := redisx.OrderStatus{OrderID: "o1", OwnerID: "u1", Status: "Pending", UpdatedAt: updated}

	mock.ExpectSetNX(fmt.Sprintf(redisx.KeyDedup, svcName, "ev1"), "1", redisx.TTLDedup).SetVal(true)
	expectPut(t, mock, st).SetVal(int64(1))

	err := s.HandleMessage(context.Background(), message("ev1", orders.EventOrderCommitted, orders.OrderCommittedPayload{
		OrderID: "o1", OwnerID: "u1", Status: "Pending", TotalCents: 1300, UpdatedAt: updated,
	}))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDuplicateEventSkipped(t *testing.T) {
	s, mock := newService(t)
	mock.ExpectSetNX(fmt.Sprintf(redisx.KeyDedup, svcName, "ev2"), "1", redisx.TTLDedup).SetVal(false)

	err := s.HandleMessage(context.Background(), message("ev2", orders.EventOrderDeleted, orders.OrderDeletedPayload{OrderID: "o2"}))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletedInvalidates(t *testing.T) {
	s, mock := newService(t)
	mock.ExpectSetNX(fmt.Sprintf(redisx.KeyDedup, svcName, "ev3"), "1", redisx.TTLDedup).SetVal(true)
	mock.ExpectDel(fmt.Sprintf(redisx.KeyOrderStatus, "o3")).SetVal(1)

	err := s.HandleMessage(context.Background(), message("ev3", orders.EventOrderDeleted, orders.OrderDeletedPayload{OrderID: "o3"}))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedApplyReleasesDedup(t *testing.T) {
	s, mock := newService(t)
	dkey := fmt.Sprintf(redisx.KeyDedup, svcName, "ev4")
	mock.ExpectSetNX(dkey, "1", redisx.TTLDedup).SetVal(true)
	// no UpdatedAt on the payload: the envelope time stands in
	expectPut(t, mock, redisx.OrderStatus{OrderID: "o4", OwnerID: "u4", Status: "Accepted", UpdatedAt: occurred}).
		SetErr(errors.New("redis down"))
	mock.ExpectDel(dkey).SetVal(1)

	err := s.HandleMessage(context.Background(), message("ev4", orders.EventOrderStatusChanged, orders.OrderStatusChangedPayload{
		OrderID: "o4", OwnerID: "u4", From: "Pending", To: "Accepted",
	}))
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLateCommitDoesNotRollBackStatus(t *testing.T) {
	s, mock := newService(t)
	committed := occurred.Add(-time.Minute)
	shipped := occurred

	mock.ExpectSetNX(fmt.Sprintf(redisx.KeyDedup, svcName, "ev-status"), "1", redisx.TTLDedup).SetVal(true)
	expectPut(t, mock, redisx.OrderStatus{OrderID: "o5", OwnerID: "u5", Status: "Shipping", UpdatedAt: shipped}).SetVal(int64(1))
	// the older commit event reaches the projector second; the script keeps the newer entry
	mock.ExpectSetNX(fmt.Sprintf(redisx.KeyDedup, svcName, "ev-commit"), "1", redisx.TTLDedup).SetVal(true)
	expectPut(t, mock, redisx.OrderStatus{OrderID: "o5", OwnerID: "u5", Status: "Pending", UpdatedAt: committed}).SetVal(int64(0))

	ctx := context.Background()
	require.NoError(t, s.HandleMessage(ctx, message("ev-status", orders.EventOrderStatusChanged, orders.OrderStatusChangedPayload{
		OrderID: "o5", OwnerID: "u5", From: "Pending", To: "Shipping", UpdatedAt: shipped,
	})))
	require.NoError(t, s.HandleMessage(ctx, message("ev-commit", orders.EventOrderCommitted, orders.OrderCommittedPayload{
		OrderID: "o5", OwnerID: "u5", Status: "Pending", UpdatedAt: committed,
	})))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUndecodableMessageSkipped(t *testing.T) {
	s, mock := newService(t)
	err := s.HandleMessage(context.Background(), kafkago.Message{Value: []byte("{not json")})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
