package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jassus213/go-admission/ratelimiter"
)

// incrementLua increments the counter, starts the window on the first hit and
// repairs keys that lost their TTL. It returns {count, pttl}.
const incrementLua = `
	local current = redis.call("INCR", KEYS[1])
	local ttl = redis.call("PTTL", KEYS[1])
	if tonumber(current) == 1 or tonumber(ttl) < 0 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return {current, ttl}
`

// RedisStore implements the ratelimiter.Store interface using Redis as the backend.
// It is suitable for distributed systems where multiple application instances need to share
// a common rate-limiting state. It uses a Lua script to ensure atomicity.
type RedisStore struct {
	client          redis.UniversalClient
	incrementScript *redis.Script
	now             func() time.Time
}

// NewRedis creates a new instance of RedisStore.
// The script is loaded lazily (EVALSHA with EVAL fallback) by go-redis.
func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client:          client,
		incrementScript: redis.NewScript(incrementLua),
		now:             time.Now,
	}
}

// Increment executes the fixed window script for key.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (ratelimiter.Counter, error) {
	windowMS := window.Milliseconds()
	if windowMS < 1 {
		windowMS = 1
	}
	res, err := s.incrementScript.Run(ctx, s.client, []string{key}, windowMS).Result()
	if err != nil {
		return ratelimiter.Counter{}, err
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return ratelimiter.Counter{}, fmt.Errorf("store: unexpected script reply %T", res)
	}
	count, ok := arr[0].(int64)
	if !ok {
		return ratelimiter.Counter{}, fmt.Errorf("store: unexpected count %T", arr[0])
	}
	ttl, ok := arr[1].(int64)
	if !ok {
		return ratelimiter.Counter{}, fmt.Errorf("store: unexpected ttl %T", arr[1])
	}

	return ratelimiter.Counter{
		Count:   count,
		ResetAt: s.now().Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
