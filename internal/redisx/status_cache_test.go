package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func encoded(t *testing.T, st OrderStatus) string {
	t.Helper()
	b, err := json.Marshal(st)
	require.NoError(t, err)
	return string(b)
}

func expectPut(mock redismock.ClientMock, t *testing.T, st OrderStatus) *redismock.ExpectedCmd {
	t.Helper()
	st.Version = st.UpdatedAt.UnixMicro()
	return mock.ExpectEval(PutNewerScript, []string{fmt.Sprintf(KeyOrderStatus, st.OrderID)},
		encoded(t, st), st.Version, TTLStatusCache.Milliseconds())
}

func TestStatusCacheHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewStatusCache(db)
	want := OrderStatus{OrderID: "o1", Status: "Shipping", UpdatedAt: at}

	mock.ExpectGet(fmt.Sprintf(KeyOrderStatus, "o1")).SetVal(encoded(t, want))

	got, err := c.Get(context.Background(), "o1", func(context.Context) (OrderStatus, error) {
		t.Fatal("load must not run on a hit")
		return OrderStatus{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusCacheMissLoadsAndStores(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewStatusCache(db)
	want := OrderStatus{OrderID: "o2", Status: "Pending", UpdatedAt: at}
	key := fmt.Sprintf(KeyOrderStatus, "o2")

	mock.ExpectGet(key).RedisNil()
	expectPut(mock, t, want).SetVal(int64(1))

	loads := 0
	got, err := c.Get(context.Background(), "o2", func(context.Context) (OrderStatus, error) {
		loads++
		return want, nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, loads)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusCacheLoadErrorNotCached(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewStatusCache(db)
	boom := errors.New("not found")

	mock.ExpectGet(fmt.Sprintf(KeyOrderStatus, "o3")).RedisNil()

	_, err := c.Get(context.Background(), "o3", func(context.Context) (OrderStatus, error) {
		return OrderStatus{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusCachePutKeepsNewer(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewStatusCache(db)
	older := OrderStatus{OrderID: "o5", OwnerID: "u5", Status: "Pending", UpdatedAt: at}

	// the cached entry is newer, so the script leaves it and returns 0
	expectPut(mock, t, older).SetVal(int64(0))

	require.NoError(t, c.Put(context.Background(), older))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusCachePutError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewStatusCache(db)
	st := OrderStatus{OrderID: "o6", Status: "Accepted", UpdatedAt: at}

	expectPut(mock, t, st).SetErr(errors.New("redis down"))

	assert.Error(t, c.Put(context.Background(), st))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusCacheInvalidate(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewStatusCache(db)

	mock.ExpectDel(fmt.Sprintf(KeyOrderStatus, "o4")).SetVal(1)

	require.NoError(t, c.Invalidate(context.Background(), "o4"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSeen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	key := fmt.Sprintf(KeyDedup, "projector", "ev-1")

	mock.ExpectSetNX(key, "1", TTLDedup).SetVal(true)
	mock.ExpectSetNX(key, "1", TTLDedup).SetVal(false)

	first, err := MarkSeen(context.Background(), db, "projector", "ev-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := MarkSeen(context.Background(), db, "projector", "ev-1")
	require.NoError(t, err)
	assert.False(t, again)
	assert.NoError(t, mock.ExpectationsWereMet())
}
