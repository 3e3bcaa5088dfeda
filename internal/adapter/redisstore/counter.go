package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guillermoBallester/querygate/internal/core/port"
	"github.com/redis/go-redis/v9"
)

// casScript swaps KEYS[1] from ARGV[1] to ARGV[2]. A missing key counts as 0
// and is created with a PX expiry of ARGV[3]; an existing key keeps its TTL.
// Requires Redis 6 for KEEPTTL.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then cur = '0' end
if tonumber(cur) ~= tonumber(ARGV[1]) then
	return 0
end
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('SET', KEYS[1], ARGV[2], 'KEEPTTL')
elseif tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

type CounterStore struct {
	client redis.UniversalClient
}

func NewCounterStore(client redis.UniversalClient) *CounterStore {
	return &CounterStore{client: client}
}

func (s *CounterStore) Get(ctx context.Context, key string) (port.Counter, bool, error) {
	var getCmd *redis.StringCmd
	var ttlCmd *redis.DurationCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		getCmd = p.Get(ctx, key)
		ttlCmd = p.PTTL(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return port.Counter{}, false, fmt.Errorf("reading counter %s: %w", key, err)
	}

	value, err := getCmd.Int64()
	if errors.Is(err, redis.Nil) {
		return port.Counter{}, false, nil
	}
	if err != nil {
		return port.Counter{}, false, fmt.Errorf("decoding counter %s: %w", key, err)
	}

	c := port.Counter{Value: value}
	// PTTL reports -1 for no expiry and -2 for a missing key.
	if ttl := ttlCmd.Val(); ttl > 0 {
		c.TTL = ttl
	}
	return c, true, nil
}

func (s *CounterStore) CompareAndSwap(ctx context.Context, key string, old, newValue int64, ttl time.Duration) (bool, error) {
	n, err := casScript.Run(ctx, s.client, []string{key}, old, newValue, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("swapping counter %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *CounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.PExpire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expiring counter %s: %w", key, err)
	}
	return nil
}
