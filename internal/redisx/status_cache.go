package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"time"
)

type OrderStatus struct {
	OrderID   string    `json:"order_id"`
	OwnerID   string    `json:"owner_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"` // UpdatedAt in microseconds, set by Put
}

// PutNewerScript stores ARGV[1] unless the cached entry carries a higher version, so a
// late or redelivered event cannot roll a status back. Returns 1 when written.
const PutNewerScript = `
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, v = pcall(cjson.decode, cur)
  if ok and type(v) == 'table' and tonumber(v.version) and tonumber(v.version) > tonumber(ARGV[2]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`

// StatusCache is a cache-aside view of order statuses. Concurrent misses for the
// same order collapse into one load.
type StatusCache struct {
	rdb   *redis.Client
	ttl   time.Duration
	group singleflight.Group
}

func NewStatusCache(rdb *redis.Client) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: TTLStatusCache}
}

// Get returns the cached status of orderID, calling load on a miss and caching
// its result. A Redis failure falls through to load; the cache is never the
// source of truth.
func (c *StatusCache) Get(ctx context.Context, orderID string, load func(ctx context.Context) (OrderStatus, error)) (OrderStatus, error) {
	key := fmt.Sprintf(KeyOrderStatus, orderID)
	if s, err := c.rdb.Get(ctx, key).Result(); err == nil {
		var st OrderStatus
		if json.Unmarshal([]byte(s), &st) == nil {
			return st, nil
		}
	}

	v, err, _ := c.group.Do(orderID, func() (any, error) {
		st, err := load(ctx)
		if err != nil {
			return OrderStatus{}, err
		}
		_ = c.Put(ctx, st)
		return st, nil
	})
	if err != nil {
		return OrderStatus{}, err
	}
	return v.(OrderStatus), nil
}

// Put caches st unless a newer status for the order is already cached.
func (c *StatusCache) Put(ctx context.Context, st OrderStatus) error {
	st.Version = st.UpdatedAt.UnixMicro()
	b, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "encode order status")
	}
	key := fmt.Sprintf(KeyOrderStatus, st.OrderID)
	return c.rdb.Eval(ctx, PutNewerScript, []string{key}, string(b), st.Version, c.ttl.Milliseconds()).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}
