package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// hitScript increments the key and arms its expiry on the first hit of a
// window. A key left without a TTL is re-armed. Returns {count, ttl_ms}.
var hitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisCounter shares IP windows between relayer instances. Expired windows
// are dropped by Redis itself, so it needs no sweep.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ IPCounter = (*RedisCounter)(nil)

// NewRedisCounter builds a counter whose keys are namespaced by prefix.
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "relayer:ratelimit:"
	}
	return &RedisCounter{client: client, prefix: prefix, now: time.Now}
}

func (c *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (Window, error) {
	full := c.prefix + key
	res, err := hitScript.Run(ctx, c.client, []string{full}, window.Milliseconds()).Result()
	if err != nil {
		return Window{}, fmt.Errorf("redis hit %s: %w", full, err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Window{}, fmt.Errorf("redis hit %s: unexpected reply %v", full, res)
	}
	count, ok1 := vals[0].(int64)
	ttl, ok2 := vals[1].(int64)
	if !ok1 || !ok2 {
		return Window{}, fmt.Errorf("redis hit %s: unexpected reply %v", full, res)
	}

	return Window{
		Key:     key,
		Count:   int(count),
		ResetAt: c.now().Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

// Ping checks connectivity.
func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
