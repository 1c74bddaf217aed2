// Package cache keeps order details in Redis and drops them when an order changes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/thanhtrang16490/appejvtest-sub004/internal/notify"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/order"
)

const keyPrefix = "order:"

type OrderCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

var _ order.Cache = (*OrderCache)(nil)

func NewOrderCache(rdb redis.Cmdable, ttl time.Duration) *OrderCache {
	return &OrderCache{rdb: rdb, ttl: ttl}
}

func Key(id uuid.UUID) string {
	return keyPrefix + id.String()
}

func watermarkKey(id uuid.UUID) string {
	return Key(id) + ":version"
}

func (c *OrderCache) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	data, err := c.rdb.Get(ctx, Key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, order.ErrCacheMiss
		}
		return nil, fmt.Errorf("cache: failed to get order %s: %w", id, err)
	}

	var o order.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("cache: failed to decode order %s: %w", id, err)
	}
	return &o, nil
}

// Versions are compared in microseconds, the precision Postgres keeps for
// updated_at and one that Lua numbers hold exactly.

// setIfCurrent writes the order unless the invalidation watermark is newer
// than its updated_at, so a read that raced a commit cannot put the old
// version back.
var setIfCurrent = redis.NewScript(`
local mark = redis.call('GET', KEYS[2])
if mark and tonumber(mark) > tonumber(ARGV[3]) then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// invalidate raises the watermark (never lowers it) and drops the entry.
var invalidate = redis.NewScript(`
local mark = redis.call('GET', KEYS[2])
if not mark or tonumber(mark) < tonumber(ARGV[1]) then
	mark = ARGV[1]
end
if tonumber(ARGV[2]) > 0 then
	redis.call('SET', KEYS[2], mark, 'PX', ARGV[2])
else
	redis.call('SET', KEYS[2], mark)
end
return redis.call('DEL', KEYS[1])
`)

func (c *OrderCache) Set(ctx context.Context, o *order.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("cache: failed to encode order %s: %w", o.ID, err)
	}

	keys := []string{Key(o.ID), watermarkKey(o.ID)}
	if err := setIfCurrent.Run(ctx, c.rdb, keys, data, c.ttl.Milliseconds(), o.UpdatedAt.UnixMicro()).Err(); err != nil {
		return fmt.Errorf("cache: failed to set order %s: %w", o.ID, err)
	}
	return nil
}

// Invalidate drops the entry and rejects later writes of versions older than at.
func (c *OrderCache) Invalidate(ctx context.Context, id uuid.UUID, at time.Time) error {
	keys := []string{Key(id), watermarkKey(id)}
	if err := invalidate.Run(ctx, c.rdb, keys, at.UnixMicro(), c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("cache: failed to invalidate order %s: %w", id, err)
	}
	return nil
}

// Invalidator is the revalidation hook: any committed change evicts the order.
type Invalidator struct {
	cache *OrderCache
}

func NewInvalidator(c *OrderCache) *Invalidator {
	return &Invalidator{cache: c}
}

func (i *Invalidator) Name() string { return "cache" }

func (i *Invalidator) Notify(ctx context.Context, ev notify.Event) error {
	return i.cache.Invalidate(ctx, ev.OrderID, ev.OccurredAt)
}
